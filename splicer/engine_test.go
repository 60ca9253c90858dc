// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package splicer

import (
	"errors"
	"testing"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/luxfi/pubsub"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/genomevm/beacon"
	"github.com/luxfi/genomevm/genes"
	"github.com/luxfi/genomevm/metrics"
	"github.com/luxfi/genomevm/state"
	"github.com/luxfi/genomevm/utils/timer/mockable"
)

const (
	testGenesis   = 1000
	testPeriod    = 3
	testSkinCount = 8
	testFee       = 100
)

// captureEvents records every published event in order.
type captureEvents struct {
	events []interface{}
}

func (c *captureEvents) Publish(f pubsub.Filterer) {
	_, event := f.Filter(nil)
	c.events = append(c.events, event)
}

var errBatchWrite = errors.New("batch write failed")

// flakyDB fails the next batch commit, then behaves normally.
type flakyDB struct {
	database.Database
	failNext bool
}

func (db *flakyDB) NewBatch() database.Batch {
	if db.failNext {
		db.failNext = false
		return failingBatch{db.Database.NewBatch()}
	}
	return db.Database.NewBatch()
}

type failingBatch struct {
	database.Batch
}

func (failingBatch) Write() error { return errBatchWrite }

func newTestEngine(t *testing.T) (*Engine, *state.State, *mockable.Clock, *captureEvents) {
	t.Helper()
	return newTestEngineWithDB(t, memdb.New(), 0)
}

func newTestEngineWithDB(t *testing.T, db database.Database, fee uint64) (*Engine, *state.State, *mockable.Clock, *captureEvents) {
	t.Helper()
	require := require.New(t)

	st := state.New(db)
	require.NoError(st.Initialize())

	clk := &mockable.Clock{}
	clk.Set(time.Unix(testGenesis, 0))

	events := &captureEvents{}
	m, err := metrics.New(metric.NewRegistry())
	require.NoError(err)

	engine := New(
		st,
		beacon.NewRoundClock(clk, testGenesis, testPeriod),
		clk,
		events,
		m,
		log.NoLog{},
		testSkinCount,
		fee,
	)
	return engine, st, clk, events
}

func putEntropy(t *testing.T, st *state.State, round uint64, seed byte) {
	t.Helper()
	randomness := make([]byte, 32)
	randomness[0] = seed
	require.NoError(t, st.PutEntropyRecord(round, randomness, make([]byte, 48)))
}

func TestSpliceMintsCartridge(t *testing.T) {
	require := require.New(t)
	engine, _, clk, events := newTestEngine(t)

	owner := ids.ShortID{1}
	clk.Set(time.Unix(testGenesis+10*testPeriod, 0))

	cart, err := engine.Splice(owner)
	require.NoError(err)
	require.Equal(uint32(0), cart.ID)
	require.Equal(owner, cart.Owner)
	require.Less(cart.SkinID, uint32(testSkinCount))
	require.False(cart.Finalized)

	// Round 11 is current at genesis+10 periods; the target leads by
	// two rounds.
	require.Equal(uint64(13), cart.TargetRound)

	second, err := engine.Splice(owner)
	require.NoError(err)
	require.Equal(uint32(1), second.ID)

	require.Len(events.events, 2)
	minted, ok := events.events[0].(*CartridgeMinted)
	require.True(ok)
	require.Equal(cart.ID, minted.CartridgeID)
	require.Equal(cart.TargetRound, minted.TargetRound)
}

func TestSpliceFeeFailure(t *testing.T) {
	require := require.New(t)
	engine, st, _, _ := newTestEngineWithDB(t, memdb.New(), testFee)

	// Owner holds no credits at all.
	_, err := engine.Splice(ids.ShortID{1})
	require.ErrorIs(err, ErrInsufficientFee)
	require.Zero(st.TotalCartridges())
}

func TestSpliceChargesFee(t *testing.T) {
	require := require.New(t)
	engine, st, _, _ := newTestEngineWithDB(t, memdb.New(), testFee)

	owner := ids.ShortID{6}
	require.NoError(st.Credit(owner, testFee+50))

	_, err := engine.Splice(owner)
	require.NoError(err)

	balance, err := st.Balance(owner)
	require.NoError(err)
	require.Equal(uint64(50), balance)

	// Not enough left for a second mint.
	_, err = engine.Splice(owner)
	require.ErrorIs(err, ErrInsufficientFee)
	require.Equal(uint32(1), st.TotalCartridges())
}

func TestSpliceAtomicOnCommitFailure(t *testing.T) {
	require := require.New(t)

	db := &flakyDB{Database: memdb.New()}
	engine, st, _, events := newTestEngineWithDB(t, db, testFee)

	owner := ids.ShortID{7}
	require.NoError(st.Credit(owner, testFee))

	// The mint batch fails: no cartridge, no debit, no event.
	db.failNext = true
	_, err := engine.Splice(owner)
	require.ErrorIs(err, errBatchWrite)

	balance, err := st.Balance(owner)
	require.NoError(err)
	require.Equal(uint64(testFee), balance)
	require.Zero(st.TotalCartridges())
	require.Empty(events.events)

	// A retry with a healthy database succeeds and charges once.
	cart, err := engine.Splice(owner)
	require.NoError(err)
	require.Equal(uint32(0), cart.ID)

	balance, err = st.Balance(owner)
	require.NoError(err)
	require.Zero(balance)
	require.Equal(uint32(1), st.TotalCartridges())
}

func TestFinalizeLifecycle(t *testing.T) {
	require := require.New(t)
	engine, st, _, events := newTestEngine(t)

	owner := ids.ShortID{2}
	cart, err := engine.Splice(owner)
	require.NoError(err)

	// No entropy at or after the target round yet.
	_, err = engine.Finalize(cart.ID)
	require.ErrorIs(err, ErrEntropyNotYetAvailable)

	putEntropy(t, st, cart.TargetRound, 0x11)

	creature, err := engine.Finalize(cart.ID)
	require.NoError(err)
	require.Equal(cart.ID, creature.ID)
	require.Equal(owner, creature.Owner)
	require.Equal(cart.SkinID, creature.SkinID)
	require.Equal(cart.TargetRound, creature.SourceRound)

	// Every gene's rarity agrees with the fixed id partition.
	for _, g := range []genes.Gene{creature.Head, creature.Torso, creature.Legs} {
		require.Equal(genes.RarityOf(g.ID), g.Rarity)
	}

	// Finalization is first-caller-wins.
	_, err = engine.Finalize(cart.ID)
	require.ErrorIs(err, state.ErrAlreadyFinalized)

	_, err = engine.Finalize(999)
	require.ErrorIs(err, state.ErrCartridgeNotFound)

	finalized, ok := events.events[len(events.events)-1].(*CreatureFinalized)
	require.True(ok)
	require.Equal(creature.ID, finalized.Creature.ID)
}

func TestFinalizeForwardFallback(t *testing.T) {
	require := require.New(t)
	engine, st, _, _ := newTestEngine(t)

	cart, err := engine.Splice(ids.ShortID{3})
	require.NoError(err)

	// Entropy strictly before the target round never qualifies.
	putEntropy(t, st, cart.TargetRound-1, 0x22)
	_, err = engine.Finalize(cart.ID)
	require.ErrorIs(err, ErrEntropyNotYetAvailable)

	// The smallest verified round at or after the target stands in
	// when the exact round was skipped.
	putEntropy(t, st, cart.TargetRound+5, 0x33)
	creature, err := engine.Finalize(cart.ID)
	require.NoError(err)
	require.Equal(cart.TargetRound+5, creature.SourceRound)
}

func TestFinalizeDeterministic(t *testing.T) {
	require := require.New(t)

	// Two independent instances fed the same entropy produce the same
	// genes for the same cartridge.
	var results []*state.Creature
	for i := 0; i < 2; i++ {
		engine, st, _, _ := newTestEngine(t)
		cart, err := engine.Splice(ids.ShortID{4})
		require.NoError(err)
		putEntropy(t, st, cart.TargetRound, 0x44)
		creature, err := engine.Finalize(cart.ID)
		require.NoError(err)
		results = append(results, creature)
	}
	require.Equal(results[0].Head, results[1].Head)
	require.Equal(results[0].Torso, results[1].Torso)
	require.Equal(results[0].Legs, results[1].Legs)
}

func TestFinalizeGenesDifferPerCartridge(t *testing.T) {
	require := require.New(t)
	engine, st, _, _ := newTestEngine(t)

	first, err := engine.Splice(ids.ShortID{5})
	require.NoError(err)
	second, err := engine.Splice(ids.ShortID{5})
	require.NoError(err)

	putEntropy(t, st, first.TargetRound, 0x55)
	putEntropy(t, st, second.TargetRound, 0x55)

	a, err := engine.Finalize(first.ID)
	require.NoError(err)
	b, err := engine.Finalize(second.ID)
	require.NoError(err)

	// Same source randomness, different cartridge IDs: gene draws are
	// independent. All three matching would be a seed-binding bug
	// (possible by chance, but the fixture values avoid it).
	same := a.Head == b.Head && a.Torso == b.Torso && a.Legs == b.Legs
	require.False(same)
}
