// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes the genome VM over JSON-RPC.
package api

import (
	"net/http"

	"github.com/luxfi/formatting"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/genomevm/beacon"
	"github.com/luxfi/genomevm/genesis"
	"github.com/luxfi/genomevm/metrics"
	"github.com/luxfi/genomevm/splicer"
	"github.com/luxfi/genomevm/state"
	"github.com/luxfi/genomevm/utils/json"
)

// Service provides the "genome" JSON-RPC namespace.
type Service struct {
	log      log.Logger
	genesis  *genesis.Genesis
	verifier *beacon.Verifier
	engine   *splicer.Engine
	state    *state.State
	rounds   *beacon.RoundClock
	metrics  metrics.Metrics
}

// NewService creates the API service.
func NewService(
	logger log.Logger,
	gen *genesis.Genesis,
	verifier *beacon.Verifier,
	engine *splicer.Engine,
	st *state.State,
	rounds *beacon.RoundClock,
	m metrics.Metrics,
) *Service {
	return &Service{
		log:      logger,
		genesis:  gen,
		verifier: verifier,
		engine:   engine,
		state:    st,
		rounds:   rounds,
		metrics:  m,
	}
}

// GeneReply is the JSON representation of a gene.
type GeneReply struct {
	ID     uint8  `json:"id"`
	Rarity string `json:"rarity"`
}

// CartridgeReply is the JSON representation of a pending cartridge.
type CartridgeReply struct {
	CartridgeID json.Uint32 `json:"cartridgeId"`
	Owner       string      `json:"owner"`
	SkinID      json.Uint32 `json:"skinId"`
	TargetRound json.Uint64 `json:"targetRound"`
	CreatedAt   json.Uint64 `json:"createdAt"`
	Finalized   bool        `json:"finalized"`
}

// CreatureReply is the JSON representation of a finalized creature.
type CreatureReply struct {
	CreatureID  json.Uint32 `json:"creatureId"`
	Owner       string      `json:"owner"`
	SkinID      json.Uint32 `json:"skinId"`
	Head        GeneReply   `json:"head"`
	Torso       GeneReply   `json:"torso"`
	Legs        GeneReply   `json:"legs"`
	FinalizedAt json.Uint64 `json:"finalizedAt"`
	SourceRound json.Uint64 `json:"sourceRound"`
}

func cartridgeReply(cart *state.Cartridge) CartridgeReply {
	return CartridgeReply{
		CartridgeID: json.Uint32(cart.ID),
		Owner:       cart.Owner.String(),
		SkinID:      json.Uint32(cart.SkinID),
		TargetRound: json.Uint64(cart.TargetRound),
		CreatedAt:   json.Uint64(cart.CreatedAt),
		Finalized:   cart.Finalized,
	}
}

func creatureReply(creature *state.Creature) CreatureReply {
	return CreatureReply{
		CreatureID: json.Uint32(creature.ID),
		Owner:      creature.Owner.String(),
		SkinID:     json.Uint32(creature.SkinID),
		Head: GeneReply{
			ID:     creature.Head.ID,
			Rarity: creature.Head.Rarity.String(),
		},
		Torso: GeneReply{
			ID:     creature.Torso.ID,
			Rarity: creature.Torso.Rarity.String(),
		},
		Legs: GeneReply{
			ID:     creature.Legs.ID,
			Rarity: creature.Legs.Rarity.String(),
		},
		FinalizedAt: json.Uint64(creature.FinalizedAt),
		SourceRound: json.Uint64(creature.SourceRound),
	}
}

// SubmitEntropyArgs carries one beacon round.
type SubmitEntropyArgs struct {
	Round      json.Uint64 `json:"round"`
	Randomness string      `json:"randomness"`
	Signature  string      `json:"signature"`
}

// SubmitEntropyReply reports acceptance.
type SubmitEntropyReply struct {
	Accepted bool `json:"accepted"`
}

// SubmitEntropy verifies a beacon round against the configured public
// key and stores it.
func (s *Service) SubmitEntropy(_ *http.Request, args *SubmitEntropyArgs, reply *SubmitEntropyReply) error {
	randomness, err := formatting.Decode(formatting.HexNC, args.Randomness)
	if err != nil {
		return err
	}
	signature, err := formatting.Decode(formatting.HexNC, args.Signature)
	if err != nil {
		return err
	}

	if err := s.verifier.SubmitEntropy(uint64(args.Round), randomness, signature); err != nil {
		s.metrics.IncEntropyRejected()
		s.log.Debug("rejected entropy",
			log.Uint64("round", uint64(args.Round)),
			log.Err(err),
		)
		return err
	}

	s.metrics.IncEntropyAccepted()
	reply.Accepted = true
	return nil
}

// SpliceArgs names the owner of the new cartridge.
type SpliceArgs struct {
	Owner string `json:"owner"`
}

// SpliceReply describes the minted cartridge.
type SpliceReply struct {
	Cartridge CartridgeReply `json:"cartridge"`
}

// Splice mints a pending cartridge bound to an upcoming beacon round.
func (s *Service) Splice(_ *http.Request, args *SpliceArgs, reply *SpliceReply) error {
	owner, err := ids.ShortFromString(args.Owner)
	if err != nil {
		return err
	}

	cart, err := s.engine.Splice(owner)
	if err != nil {
		return err
	}
	reply.Cartridge = cartridgeReply(cart)
	return nil
}

// FinalizeArgs names the cartridge to finalize.
type FinalizeArgs struct {
	CartridgeID json.Uint32 `json:"cartridgeId"`
}

// FinalizeReply carries the finalized creature.
type FinalizeReply struct {
	Creature CreatureReply `json:"creature"`
}

// Finalize locks in a cartridge's genes from verified entropy. Anyone
// may call it.
func (s *Service) Finalize(_ *http.Request, args *FinalizeArgs, reply *FinalizeReply) error {
	creature, err := s.engine.Finalize(uint32(args.CartridgeID))
	if err != nil {
		return err
	}
	reply.Creature = creatureReply(creature)
	return nil
}

// GetEntropyArgs names a beacon round.
type GetEntropyArgs struct {
	Round json.Uint64 `json:"round"`
}

// GetEntropyReply is a stored entropy record.
type GetEntropyReply struct {
	Round      json.Uint64 `json:"round"`
	Randomness string      `json:"randomness"`
	Signature  string      `json:"signature"`
}

// GetEntropy returns the verified entropy for a round, if any.
func (s *Service) GetEntropy(_ *http.Request, args *GetEntropyArgs, reply *GetEntropyReply) error {
	e, err := s.state.GetEntropy(uint64(args.Round))
	if err != nil {
		return err
	}
	randomness, err := formatting.Encode(formatting.HexNC, e.Randomness)
	if err != nil {
		return err
	}
	signature, err := formatting.Encode(formatting.HexNC, e.Signature)
	if err != nil {
		return err
	}
	reply.Round = json.Uint64(e.Round)
	reply.Randomness = randomness
	reply.Signature = signature
	return nil
}

// GetCartridgeArgs names a cartridge.
type GetCartridgeArgs struct {
	CartridgeID json.Uint32 `json:"cartridgeId"`
}

// GetCartridgeReply carries one cartridge.
type GetCartridgeReply struct {
	Cartridge CartridgeReply `json:"cartridge"`
}

// GetCartridge returns a cartridge by ID.
func (s *Service) GetCartridge(_ *http.Request, args *GetCartridgeArgs, reply *GetCartridgeReply) error {
	cart, err := s.state.GetCartridge(uint32(args.CartridgeID))
	if err != nil {
		return err
	}
	reply.Cartridge = cartridgeReply(cart)
	return nil
}

// GetCreatureArgs names a creature.
type GetCreatureArgs struct {
	CreatureID json.Uint32 `json:"creatureId"`
}

// GetCreatureReply carries one creature.
type GetCreatureReply struct {
	Creature CreatureReply `json:"creature"`
}

// GetCreature returns a finalized creature by ID.
func (s *Service) GetCreature(_ *http.Request, args *GetCreatureArgs, reply *GetCreatureReply) error {
	creature, err := s.state.GetCreature(uint32(args.CreatureID))
	if err != nil {
		return err
	}
	reply.Creature = creatureReply(creature)
	return nil
}

// GetUserArgs names an owner address.
type GetUserArgs struct {
	Owner string `json:"owner"`
}

// GetUserCartridgesReply lists an owner's cartridges.
type GetUserCartridgesReply struct {
	Cartridges []CartridgeReply `json:"cartridges"`
}

// GetUserCartridges returns every cartridge minted by an owner.
func (s *Service) GetUserCartridges(_ *http.Request, args *GetUserArgs, reply *GetUserCartridgesReply) error {
	owner, err := ids.ShortFromString(args.Owner)
	if err != nil {
		return err
	}
	carts, err := s.state.UserCartridges(owner)
	if err != nil {
		return err
	}
	reply.Cartridges = make([]CartridgeReply, 0, len(carts))
	for _, cart := range carts {
		reply.Cartridges = append(reply.Cartridges, cartridgeReply(cart))
	}
	return nil
}

// GetUserCreaturesReply lists an owner's creatures.
type GetUserCreaturesReply struct {
	Creatures []CreatureReply `json:"creatures"`
}

// GetUserCreatures returns every finalized creature owned by an owner.
func (s *Service) GetUserCreatures(_ *http.Request, args *GetUserArgs, reply *GetUserCreaturesReply) error {
	owner, err := ids.ShortFromString(args.Owner)
	if err != nil {
		return err
	}
	creatures, err := s.state.UserCreatures(owner)
	if err != nil {
		return err
	}
	reply.Creatures = make([]CreatureReply, 0, len(creatures))
	for _, creature := range creatures {
		reply.Creatures = append(reply.Creatures, creatureReply(creature))
	}
	return nil
}

// GetBalanceReply carries an owner's mint credit balance.
type GetBalanceReply struct {
	Balance json.Uint64 `json:"balance"`
}

// GetBalance returns an owner's remaining mint credits.
func (s *Service) GetBalance(_ *http.Request, args *GetUserArgs, reply *GetBalanceReply) error {
	owner, err := ids.ShortFromString(args.Owner)
	if err != nil {
		return err
	}
	balance, err := s.state.Balance(owner)
	if err != nil {
		return err
	}
	reply.Balance = json.Uint64(balance)
	return nil
}

// GetStatusArgs is empty.
type GetStatusArgs struct{}

// GetStatusReply summarizes the chain.
type GetStatusReply struct {
	CurrentRound    json.Uint64 `json:"currentRound"`
	TargetRound     json.Uint64 `json:"targetRound"`
	TotalCartridges json.Uint32 `json:"totalCartridges"`
	TotalCreatures  json.Uint32 `json:"totalCreatures"`
	DevMode         bool        `json:"devMode"`
	SkinCount       json.Uint32 `json:"skinCount"`
	FeeAmount       json.Uint64 `json:"feeAmount"`
	BeaconPublicKey string      `json:"beaconPublicKey"`
}

// GetStatus returns the beacon schedule position and mint totals.
func (s *Service) GetStatus(_ *http.Request, _ *GetStatusArgs, reply *GetStatusReply) error {
	pk, err := formatting.Encode(formatting.HexNC, s.verifier.PublicKey())
	if err != nil {
		return err
	}
	reply.CurrentRound = json.Uint64(s.rounds.Current())
	reply.TargetRound = json.Uint64(s.rounds.Target())
	reply.TotalCartridges = json.Uint32(s.state.TotalCartridges())
	reply.TotalCreatures = json.Uint32(s.state.TotalCreatures())
	reply.DevMode = s.genesis.DevMode
	reply.SkinCount = json.Uint32(s.genesis.SkinCount)
	reply.FeeAmount = json.Uint64(s.genesis.FeeAmount)
	reply.BeaconPublicKey = pk
	return nil
}
