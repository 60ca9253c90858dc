// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package beacon

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"testing"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/genomevm/utils/timer/mockable"
)

// memStore is an in-memory EntropyStore for tests.
type memStore struct {
	randomness map[uint64][]byte
	signatures map[uint64][]byte
}

func newMemStore() *memStore {
	return &memStore{
		randomness: make(map[uint64][]byte),
		signatures: make(map[uint64][]byte),
	}
}

func (m *memStore) EntropyRecord(round uint64) ([]byte, []byte, error) {
	r, ok := m.randomness[round]
	if !ok {
		return nil, nil, database.ErrNotFound
	}
	return r, m.signatures[round], nil
}

func (m *memStore) PutEntropyRecord(round uint64, randomness, signature []byte) error {
	m.randomness[round] = randomness
	m.signatures[round] = signature
	return nil
}

// stubOps counts curve operations so tests can assert that cheap
// input gates run before any curve arithmetic.
type stubOps struct {
	CurveOps
	decodeG1Calls int
}

func (s *stubOps) DecodeG1(b []byte) (G1Point, error) {
	s.decodeG1Calls++
	return s.CurveOps.DecodeG1(b)
}

// signRound produces a valid submission for round given the previous
// compressed signature (nil for the unchained dev-mode message).
func signRound(t *testing.T, sk *big.Int, round uint64, prevSig []byte) (randomness, signature []byte) {
	t.Helper()

	var roundBytes [8]byte
	binary.BigEndian.PutUint64(roundBytes[:], round)
	h := sha256.New()
	h.Write(prevSig)
	h.Write(roundBytes[:])
	msg := h.Sum(nil)

	sig := testSign(t, sk, msg)
	raw := sig.RawBytes()
	compressed := sig.Bytes()
	rand := sha256.Sum256(compressed[:])
	return rand[:], raw[:]
}

func TestSubmitEntropyDevMode(t *testing.T) {
	require := require.New(t)

	sk, pk := testKeyPair(t)
	store := newMemStore()
	pkRaw := pk.RawBytes()

	v, err := NewVerifier(NewCurveOps(), store, pkRaw[:], true, log.NoLog{})
	require.NoError(err)

	const round = 7
	randomness, signature := signRound(t, sk, round, nil)
	require.NoError(v.SubmitEntropy(round, randomness, signature))

	gotRand, gotSig, err := store.EntropyRecord(round)
	require.NoError(err)
	require.Equal(randomness, gotRand)
	require.Len(gotSig, G1CompressedLen)

	// Duplicate submission of the same verified round is a no-op
	// success.
	require.NoError(v.SubmitEntropy(round, randomness, signature))
}

func TestSubmitEntropyRoundBinding(t *testing.T) {
	require := require.New(t)

	sk, pk := testKeyPair(t)
	store := newMemStore()
	pkRaw := pk.RawBytes()

	v, err := NewVerifier(NewCurveOps(), store, pkRaw[:], true, log.NoLog{})
	require.NoError(err)

	const round = 42
	randomness, signature := signRound(t, sk, round, nil)
	require.NoError(v.SubmitEntropy(round, randomness, signature))

	// The same signature bytes claimed for a different round must be
	// rejected, never accepted with a different result.
	err = v.SubmitEntropy(round+1000, randomness, signature)
	require.ErrorIs(err, ErrPairingMismatch)
	_, _, err = store.EntropyRecord(round + 1000)
	require.ErrorIs(err, database.ErrNotFound)
}

func TestSubmitEntropyChained(t *testing.T) {
	require := require.New(t)

	sk, pk := testKeyPair(t)
	store := newMemStore()
	pkRaw := pk.RawBytes()

	// Production mode: the chain link is required.
	v, err := NewVerifier(NewCurveOps(), store, pkRaw[:], false, log.NoLog{})
	require.NoError(err)

	const anchor = 99
	// Without any history, verification cannot link round 100.
	randomness, signature := signRound(t, sk, 100, nil)
	err = v.SubmitEntropy(100, randomness, signature)
	require.ErrorIs(err, ErrMissingChainLink)

	// Seed a trusted anchor record (deployment-time configuration),
	// then rounds chain forward from it.
	anchorSig := testSign(t, sk, []byte("anchor"))
	anchorCompressed := anchorSig.Bytes()
	anchorRand := sha256.Sum256(anchorCompressed[:])
	require.NoError(store.PutEntropyRecord(anchor, anchorRand[:], anchorCompressed[:]))

	randomness, signature = signRound(t, sk, 100, anchorCompressed[:])
	require.NoError(v.SubmitEntropy(100, randomness, signature))

	// Round 101 links to the freshly stored round 100 signature.
	_, sig100, err := store.EntropyRecord(100)
	require.NoError(err)
	randomness, signature = signRound(t, sk, 101, sig100)
	require.NoError(v.SubmitEntropy(101, randomness, signature))
}

func TestSubmitEntropyRejectsBitFlip(t *testing.T) {
	require := require.New(t)

	sk, pk := testKeyPair(t)
	store := newMemStore()
	pkRaw := pk.RawBytes()

	v, err := NewVerifier(NewCurveOps(), store, pkRaw[:], true, log.NoLog{})
	require.NoError(err)

	randomness, signature := signRound(t, sk, 5, nil)

	// Flipping a low-order bit of y keeps both coordinates canonical
	// but breaks either the curve equation or the pairing.
	flipped := make([]byte, len(signature))
	copy(flipped, signature)
	flipped[95] ^= 0x01

	err = v.SubmitEntropy(5, randomness, flipped)
	require.Error(err)
	_, _, err = store.EntropyRecord(5)
	require.ErrorIs(err, database.ErrNotFound)
}

func TestSubmitEntropyRandomnessMismatch(t *testing.T) {
	require := require.New(t)

	sk, pk := testKeyPair(t)
	store := newMemStore()
	pkRaw := pk.RawBytes()

	v, err := NewVerifier(NewCurveOps(), store, pkRaw[:], true, log.NoLog{})
	require.NoError(err)

	_, signature := signRound(t, sk, 5, nil)

	// The randomness argument must equal SHA-256 of the compressed
	// signature; anything else is rejected even though the signature
	// itself is valid.
	err = v.SubmitEntropy(5, make([]byte, RandomnessLen), signature)
	require.ErrorIs(err, ErrRandomnessMismatch)
	_, _, err = store.EntropyRecord(5)
	require.ErrorIs(err, database.ErrNotFound)
}

func TestSubmitEntropyLengthGates(t *testing.T) {
	require := require.New(t)

	_, pk := testKeyPair(t)
	store := newMemStore()
	pkRaw := pk.RawBytes()

	stub := &stubOps{CurveOps: NewCurveOps()}
	v, err := NewVerifier(stub, store, pkRaw[:], true, log.NoLog{})
	require.NoError(err)
	decodesAfterSetup := stub.decodeG1Calls

	// Truncated signatures and randomness are rejected before any
	// curve arithmetic runs.
	for _, n := range []int{0, 48, 95, 97} {
		err := v.SubmitEntropy(1, make([]byte, RandomnessLen), make([]byte, n))
		require.ErrorIs(err, ErrInvalidLength)
	}
	for _, n := range []int{0, 31, 33} {
		err := v.SubmitEntropy(1, make([]byte, n), make([]byte, G1UncompressedLen))
		require.ErrorIs(err, ErrInvalidLength)
	}
	require.Equal(decodesAfterSetup, stub.decodeG1Calls)
}

func TestSubmitEntropyConflict(t *testing.T) {
	require := require.New(t)

	sk, pk := testKeyPair(t)
	store := newMemStore()
	pkRaw := pk.RawBytes()

	v, err := NewVerifier(NewCurveOps(), store, pkRaw[:], true, log.NoLog{})
	require.NoError(err)

	const round = 9
	randomness, signature := signRound(t, sk, round, nil)
	require.NoError(v.SubmitEntropy(round, randomness, signature))

	// Corrupt the stored randomness behind the verifier's back; the
	// next submission of the same round must fail hard instead of
	// silently repairing or accepting it.
	store.randomness[round] = make([]byte, RandomnessLen)
	err = v.SubmitEntropy(round, randomness, signature)
	require.ErrorIs(err, ErrEntropyConflict)
}

func TestNewVerifierRejectsBadKey(t *testing.T) {
	require := require.New(t)
	store := newMemStore()

	_, err := NewVerifier(NewCurveOps(), store, make([]byte, 10), false, log.NoLog{})
	require.ErrorIs(err, ErrInvalidLength)

	_, err = NewVerifier(NewCurveOps(), store, make([]byte, G2UncompressedLen), false, log.NoLog{})
	require.ErrorIs(err, ErrMalformedPoint)
}

func TestRoundClock(t *testing.T) {
	require := require.New(t)

	clk := &mockable.Clock{}
	rc := NewQuicknetClock(clk)

	clk.Set(time.Unix(int64(QuicknetGenesis), 0))
	require.Equal(uint64(1), rc.Current())

	// One period later the next round has elapsed.
	clk.Set(time.Unix(int64(QuicknetGenesis+QuicknetPeriod), 0))
	require.Equal(uint64(2), rc.Current())
	require.Equal(uint64(4), rc.Target())

	// Before genesis the chain is pinned at round 1.
	clk.Set(time.Unix(int64(QuicknetGenesis-100), 0))
	require.Equal(uint64(1), rc.Current())
}
