// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state manages persistent state for the genome VM: verified
// beacon entropy, pending cartridges and finalized creatures.
package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/cache"
	"github.com/luxfi/database"
	"github.com/luxfi/ids"

	"github.com/luxfi/genomevm/genes"
)

var (
	ErrCartridgeNotFound   = errors.New("cartridge not found")
	ErrCreatureNotFound    = errors.New("creature not found")
	ErrAlreadyFinalized    = errors.New("cartridge already finalized")
	ErrEntropyConflict     = errors.New("conflicting entropy for round")
	ErrInsufficientBalance = errors.New("insufficient balance")

	// Database prefixes
	prefixEntropy        = []byte("entropy:")
	prefixCartridge      = []byte("cartridge:")
	prefixCreature       = []byte("creature:")
	prefixOwnerCartridge = []byte("ownerCartridge:")
	prefixOwnerCreature  = []byte("ownerCreature:")
	prefixBalance        = []byte("balance:")
	keyNextCartridgeID   = []byte("nextCartridgeID")
	keyCreatureCount     = []byte("creatureCount")
	keyInitialized       = []byte("initialized")
)

const entropyCacheSize = 512

// Entropy is a verified beacon round: the 32-byte randomness and the
// 48-byte compressed signature it was derived from. The signature is
// kept so the next round's chained message can be rebuilt.
type Entropy struct {
	Round      uint64 `serialize:"true" json:"round"`
	Randomness []byte `serialize:"true" json:"randomness"`
	Signature  []byte `serialize:"true" json:"signature"`
}

// Cartridge is a pending creature: minted with a future target round
// and finalized once entropy for that round (or a later one) exists.
type Cartridge struct {
	ID          uint32      `serialize:"true" json:"id"`
	Owner       ids.ShortID `serialize:"true" json:"owner"`
	SkinID      uint32      `serialize:"true" json:"skinId"`
	TargetRound uint64      `serialize:"true" json:"targetRound"`
	CreatedAt   uint64      `serialize:"true" json:"createdAt"`
	Finalized   bool        `serialize:"true" json:"finalized"`
}

// Creature is a finalized cartridge with its genes locked in.
type Creature struct {
	ID          uint32      `serialize:"true" json:"id"`
	Owner       ids.ShortID `serialize:"true" json:"owner"`
	SkinID      uint32      `serialize:"true" json:"skinId"`
	Head        genes.Gene  `serialize:"true" json:"head"`
	Torso       genes.Gene  `serialize:"true" json:"torso"`
	Legs        genes.Gene  `serialize:"true" json:"legs"`
	FinalizedAt uint64      `serialize:"true" json:"finalizedAt"`
	SourceRound uint64      `serialize:"true" json:"sourceRound"`
}

// State manages the persistent state of the genome VM.
type State struct {
	mu sync.RWMutex
	db database.Database

	entropyCache *cache.LRU[uint64, *Entropy]

	nextCartridgeID uint32
	creatureCount   uint32
}

// New creates a new state manager.
func New(db database.Database) *State {
	return &State{
		db:           db,
		entropyCache: &cache.LRU[uint64, *Entropy]{Size: entropyCacheSize},
	}
}

// Initialize loads persisted counters from the database.
func (s *State) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.loadCounter(keyNextCartridgeID)
	if err != nil {
		return fmt.Errorf("failed to load cartridge counter: %w", err)
	}
	s.nextCartridgeID = id

	count, err := s.loadCounter(keyCreatureCount)
	if err != nil {
		return fmt.Errorf("failed to load creature counter: %w", err)
	}
	s.creatureCount = count
	return nil
}

func (s *State) loadCounter(key []byte) (uint32, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(data), nil
}

func entropyKey(round uint64) []byte {
	key := make([]byte, len(prefixEntropy)+8)
	copy(key, prefixEntropy)
	binary.BigEndian.PutUint64(key[len(prefixEntropy):], round)
	return key
}

func cartridgeKey(id uint32) []byte {
	key := make([]byte, len(prefixCartridge)+4)
	copy(key, prefixCartridge)
	binary.BigEndian.PutUint32(key[len(prefixCartridge):], id)
	return key
}

func creatureKey(id uint32) []byte {
	key := make([]byte, len(prefixCreature)+4)
	copy(key, prefixCreature)
	binary.BigEndian.PutUint32(key[len(prefixCreature):], id)
	return key
}

func balanceKey(owner ids.ShortID) []byte {
	key := make([]byte, len(prefixBalance)+len(owner))
	copy(key, prefixBalance)
	copy(key[len(prefixBalance):], owner[:])
	return key
}

func ownerIndexKey(prefix []byte, owner ids.ShortID, id uint32) []byte {
	key := make([]byte, len(prefix)+len(owner)+4)
	copy(key, prefix)
	copy(key[len(prefix):], owner[:])
	binary.BigEndian.PutUint32(key[len(prefix)+len(owner):], id)
	return key
}

// EntropyRecord returns the randomness and compressed signature stored
// for round, or database.ErrNotFound. It implements the verifier's
// store interface.
func (s *State) EntropyRecord(round uint64) ([]byte, []byte, error) {
	e, err := s.GetEntropy(round)
	if err != nil {
		return nil, nil, err
	}
	return e.Randomness, e.Signature, nil
}

// PutEntropyRecord stores a verified round. Storing the same value
// twice is a no-op; storing a different value for an existing round is
// an error.
func (s *State) PutEntropyRecord(round uint64, randomness, signature []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.getEntropyLocked(round); err == nil {
		if bytes.Equal(existing.Randomness, randomness) && bytes.Equal(existing.Signature, signature) {
			return nil
		}
		return fmt.Errorf("%w: round %d", ErrEntropyConflict, round)
	} else if !errors.Is(err, database.ErrNotFound) {
		return err
	}

	e := &Entropy{
		Round:      round,
		Randomness: randomness,
		Signature:  signature,
	}
	data, err := Codec.Marshal(codecVersion, e)
	if err != nil {
		return err
	}
	if err := s.db.Put(entropyKey(round), data); err != nil {
		return err
	}
	s.entropyCache.Put(round, e)
	return nil
}

// GetEntropy returns the entropy stored for round, or
// database.ErrNotFound.
func (s *State) GetEntropy(round uint64) (*Entropy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEntropyLocked(round)
}

func (s *State) getEntropyLocked(round uint64) (*Entropy, error) {
	if e, ok := s.entropyCache.Get(round); ok {
		return e, nil
	}

	data, err := s.db.Get(entropyKey(round))
	if err != nil {
		return nil, err
	}
	e := &Entropy{}
	if _, err := Codec.Unmarshal(data, e); err != nil {
		return nil, err
	}
	s.entropyCache.Put(round, e)
	return e, nil
}

// FirstEntropyAtOrAfter returns the verified entropy with the smallest
// round >= round, or database.ErrNotFound when no such round exists.
// Round keys are big-endian so the iterator visits them in order.
func (s *State) FirstEntropyAtOrAfter(round uint64) (*Entropy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	iter := s.db.NewIteratorWithStartAndPrefix(entropyKey(round), prefixEntropy)
	defer iter.Release()

	if !iter.Next() {
		if err := iter.Error(); err != nil {
			return nil, err
		}
		return nil, database.ErrNotFound
	}

	e := &Entropy{}
	if _, err := Codec.Unmarshal(iter.Value(), e); err != nil {
		return nil, err
	}
	return e, nil
}

// AddCartridge allocates the next cartridge ID and persists a pending
// cartridge for owner, debiting fee from the owner's balance. The
// debit, the cartridge, its owner index entry and the advanced counter
// are written in a single batch, so a failed mint charges nothing.
func (s *State) AddCartridge(owner ids.ShortID, skinID uint32, targetRound, createdAt, fee uint64) (*Cartridge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart := &Cartridge{
		ID:          s.nextCartridgeID,
		Owner:       owner,
		SkinID:      skinID,
		TargetRound: targetRound,
		CreatedAt:   createdAt,
	}
	data, err := Codec.Marshal(codecVersion, cart)
	if err != nil {
		return nil, err
	}

	var counter [4]byte
	binary.BigEndian.PutUint32(counter[:], cart.ID+1)

	batch := s.db.NewBatch()
	if fee > 0 {
		balance, err := s.balanceLocked(owner)
		if err != nil {
			return nil, err
		}
		if balance < fee {
			return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, balance, fee)
		}
		var newBalance [8]byte
		binary.BigEndian.PutUint64(newBalance[:], balance-fee)
		if err := batch.Put(balanceKey(owner), newBalance[:]); err != nil {
			return nil, err
		}
	}
	if err := batch.Put(cartridgeKey(cart.ID), data); err != nil {
		return nil, err
	}
	if err := batch.Put(ownerIndexKey(prefixOwnerCartridge, owner, cart.ID), nil); err != nil {
		return nil, err
	}
	if err := batch.Put(keyNextCartridgeID, counter[:]); err != nil {
		return nil, err
	}
	if err := batch.Write(); err != nil {
		return nil, err
	}

	s.nextCartridgeID = cart.ID + 1
	return cart, nil
}

// GetCartridge returns a cartridge by ID.
func (s *State) GetCartridge(id uint32) (*Cartridge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCartridgeLocked(id)
}

func (s *State) getCartridgeLocked(id uint32) (*Cartridge, error) {
	data, err := s.db.Get(cartridgeKey(id))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrCartridgeNotFound
		}
		return nil, err
	}
	cart := &Cartridge{}
	if _, err := Codec.Unmarshal(data, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// GetCreature returns a creature by ID. Creatures share their
// cartridge's ID.
func (s *State) GetCreature(id uint32) (*Creature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.db.Get(creatureKey(id))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrCreatureNotFound
		}
		return nil, err
	}
	creature := &Creature{}
	if _, err := Codec.Unmarshal(data, creature); err != nil {
		return nil, err
	}
	return creature, nil
}

// FinalizeCartridge marks the creature's cartridge finalized and
// stores the creature, atomically in one batch. The finalized flag is
// re-checked under the write lock so concurrent finalizations of the
// same cartridge resolve to exactly one creature.
func (s *State) FinalizeCartridge(creature *Creature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, err := s.getCartridgeLocked(creature.ID)
	if err != nil {
		return err
	}
	if cart.Finalized {
		return fmt.Errorf("%w: cartridge %d", ErrAlreadyFinalized, cart.ID)
	}
	cart.Finalized = true

	cartData, err := Codec.Marshal(codecVersion, cart)
	if err != nil {
		return err
	}
	creatureData, err := Codec.Marshal(codecVersion, creature)
	if err != nil {
		return err
	}

	var count [4]byte
	binary.BigEndian.PutUint32(count[:], s.creatureCount+1)

	batch := s.db.NewBatch()
	if err := batch.Put(cartridgeKey(cart.ID), cartData); err != nil {
		return err
	}
	if err := batch.Put(creatureKey(creature.ID), creatureData); err != nil {
		return err
	}
	if err := batch.Put(ownerIndexKey(prefixOwnerCreature, creature.Owner, creature.ID), nil); err != nil {
		return err
	}
	if err := batch.Put(keyCreatureCount, count[:]); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return err
	}

	s.creatureCount++
	return nil
}

// UserCartridges returns every cartridge minted by owner, in mint
// order.
func (s *State) UserCartridges(owner ids.ShortID) ([]*Cartridge, error) {
	cartIDs, err := s.ownerIDs(prefixOwnerCartridge, owner)
	if err != nil {
		return nil, err
	}
	carts := make([]*Cartridge, 0, len(cartIDs))
	for _, id := range cartIDs {
		cart, err := s.GetCartridge(id)
		if err != nil {
			return nil, err
		}
		carts = append(carts, cart)
	}
	return carts, nil
}

// UserCreatures returns every finalized creature owned by owner, in
// finalization order.
func (s *State) UserCreatures(owner ids.ShortID) ([]*Creature, error) {
	creatureIDs, err := s.ownerIDs(prefixOwnerCreature, owner)
	if err != nil {
		return nil, err
	}
	creatures := make([]*Creature, 0, len(creatureIDs))
	for _, id := range creatureIDs {
		creature, err := s.GetCreature(id)
		if err != nil {
			return nil, err
		}
		creatures = append(creatures, creature)
	}
	return creatures, nil
}

func (s *State) ownerIDs(prefix []byte, owner ids.ShortID) ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fullPrefix := make([]byte, len(prefix)+len(owner))
	copy(fullPrefix, prefix)
	copy(fullPrefix[len(prefix):], owner[:])

	iter := s.db.NewIteratorWithPrefix(fullPrefix)
	defer iter.Release()

	var out []uint32
	for iter.Next() {
		key := iter.Key()
		out = append(out, binary.BigEndian.Uint32(key[len(key)-4:]))
	}
	return out, iter.Error()
}

// Balance returns the credit balance of owner. Unknown owners have a
// zero balance.
func (s *State) Balance(owner ids.ShortID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balanceLocked(owner)
}

func (s *State) balanceLocked(owner ids.ShortID) (uint64, error) {
	data, err := s.db.Get(balanceKey(owner))
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(data), nil
}

// Credit adds credits to an owner's balance.
func (s *State) Credit(owner ids.ShortID, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, err := s.balanceLocked(owner)
	if err != nil {
		return err
	}
	return s.putBalanceLocked(owner, balance+amount)
}

// Debit removes credits from an owner's balance, failing if it would
// go negative.
func (s *State) Debit(owner ids.ShortID, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, err := s.balanceLocked(owner)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, balance, amount)
	}
	return s.putBalanceLocked(owner, balance-amount)
}

func (s *State) putBalanceLocked(owner ids.ShortID, balance uint64) error {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], balance)
	return s.db.Put(balanceKey(owner), data[:])
}

// IsInitialized reports whether genesis allocations were already
// applied to this database.
func (s *State) IsInitialized() (bool, error) {
	has, err := s.db.Has(keyInitialized)
	return has, err
}

// SetInitialized marks genesis allocations as applied.
func (s *State) SetInitialized() error {
	return s.db.Put(keyInitialized, nil)
}

// TotalCartridges returns how many cartridges have been minted.
func (s *State) TotalCartridges() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextCartridgeID
}

// TotalCreatures returns how many cartridges have been finalized.
func (s *State) TotalCreatures() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creatureCount
}

// Close releases the state manager. All writes are already durable;
// nothing is buffered.
func (s *State) Close() error {
	return nil
}
