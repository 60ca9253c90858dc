// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package splicer implements the two-phase creature lifecycle: minting
// pending cartridges against a future beacon round and finalizing them
// into creatures once that round's entropy is verified.
package splicer

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/pubsub"

	"github.com/luxfi/genomevm/beacon"
	"github.com/luxfi/genomevm/genes"
	"github.com/luxfi/genomevm/metrics"
	"github.com/luxfi/genomevm/state"
	"github.com/luxfi/genomevm/utils/timer/mockable"
)

var (
	ErrEntropyNotYetAvailable = errors.New("entropy not yet available for target round")
	ErrInsufficientFee        = errors.New("insufficient fee")
)

// Gene selection domain separation tags, one per body part.
const (
	tagHead  = "head"
	tagTorso = "torso"
	tagLegs  = "legs"
)

// Publisher pushes events to the websocket feed.
type Publisher interface {
	Publish(pubsub.Filterer)
}

// Engine drives the cartridge lifecycle on top of the state manager.
type Engine struct {
	state     *state.State
	rounds    *beacon.RoundClock
	clk       *mockable.Clock
	events    Publisher
	metrics   metrics.Metrics
	log       log.Logger
	skinCount uint32
	feeAmount uint64
}

func New(
	st *state.State,
	rounds *beacon.RoundClock,
	clk *mockable.Clock,
	events Publisher,
	m metrics.Metrics,
	logger log.Logger,
	skinCount uint32,
	feeAmount uint64,
) *Engine {
	return &Engine{
		state:     st,
		rounds:    rounds,
		clk:       clk,
		events:    events,
		metrics:   m,
		log:       logger,
		skinCount: skinCount,
		feeAmount: feeAmount,
	}
}

// Splice charges the mint fee and creates a pending cartridge bound to
// a beacon round a fixed lead ahead of now. The fee debit and the mint
// are one batch in the state layer, so a failed mint charges nothing.
// The caller learns the target round from the returned cartridge;
// anyone may finalize it once that round's entropy lands.
func (e *Engine) Splice(owner ids.ShortID) (*state.Cartridge, error) {
	now := e.clk.Unix()
	cart, err := e.state.AddCartridge(owner, e.rollSkin(owner, now), e.rounds.Target(), now, e.feeAmount)
	if errors.Is(err, state.ErrInsufficientBalance) {
		return nil, fmt.Errorf("%w: %w", ErrInsufficientFee, err)
	}
	if err != nil {
		return nil, err
	}

	e.metrics.IncCartridgesMinted()
	e.events.Publish(newEventFilterer(owner, &CartridgeMinted{
		Kind:        "cartridgeMinted",
		CartridgeID: cart.ID,
		Owner:       cart.Owner,
		SkinID:      cart.SkinID,
		TargetRound: cart.TargetRound,
	}))
	e.log.Info("minted cartridge",
		log.Uint32("cartridge", cart.ID),
		log.Stringer("owner", owner),
		log.Uint64("targetRound", cart.TargetRound),
	)
	return cart, nil
}

// Finalize turns a pending cartridge into a creature using the
// verified entropy of the smallest round at or after the cartridge's
// target. Finalization is permissionless and idempotent in effect: the
// first caller wins, later callers get ErrAlreadyFinalized.
func (e *Engine) Finalize(cartridgeID uint32) (*state.Creature, error) {
	cart, err := e.state.GetCartridge(cartridgeID)
	if err != nil {
		return nil, err
	}
	if cart.Finalized {
		return nil, fmt.Errorf("%w: cartridge %d", state.ErrAlreadyFinalized, cart.ID)
	}

	// Forward-only fallback: if the exact target round was never
	// submitted, the next verified round stands in for it. Earlier
	// rounds never do.
	entropy, err := e.state.FirstEntropyAtOrAfter(cart.TargetRound)
	if errors.Is(err, database.ErrNotFound) {
		e.metrics.IncFinalizeDeferred()
		return nil, fmt.Errorf("%w: target round %d", ErrEntropyNotYetAvailable, cart.TargetRound)
	}
	if err != nil {
		return nil, err
	}

	// The seed binds the cartridge ID so two cartridges drawing from
	// the same round get independent genes.
	seed := make([]byte, len(entropy.Randomness)+4)
	copy(seed, entropy.Randomness)
	binary.BigEndian.PutUint32(seed[len(entropy.Randomness):], cart.ID)

	creature := &state.Creature{
		ID:          cart.ID,
		Owner:       cart.Owner,
		SkinID:      cart.SkinID,
		Head:        genes.Select(seed, tagHead),
		Torso:       genes.Select(seed, tagTorso),
		Legs:        genes.Select(seed, tagLegs),
		FinalizedAt: e.clk.Unix(),
		SourceRound: entropy.Round,
	}

	// The state re-checks the finalized flag under its write lock, so
	// a concurrent duplicate loses here rather than double-writing.
	if err := e.state.FinalizeCartridge(creature); err != nil {
		return nil, err
	}

	e.metrics.IncCreaturesFinalized()
	e.events.Publish(newEventFilterer(creature.Owner, &CreatureFinalized{
		Kind:        "creatureFinalized",
		Creature:    creature,
		SourceRound: entropy.Round,
	}))
	e.log.Info("finalized creature",
		log.Uint32("creature", creature.ID),
		log.Stringer("owner", creature.Owner),
		log.Uint64("sourceRound", entropy.Round),
	)
	return creature, nil
}

// rollSkin picks a cosmetic skin for a new cartridge. Skins carry no
// gameplay weight so mint-time state is entropy enough.
func (e *Engine) rollSkin(owner ids.ShortID, now uint64) uint32 {
	if e.skinCount == 0 {
		return 0
	}
	var buf [32]byte
	copy(buf[:20], owner[:])
	binary.BigEndian.PutUint64(buf[20:28], now)
	binary.BigEndian.PutUint32(buf[28:32], e.state.TotalCartridges())
	h := sha256.Sum256(buf[:])
	return binary.BigEndian.Uint32(h[:4]) % e.skinCount
}
