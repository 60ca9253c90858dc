// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package beacon

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/log"

	lru "github.com/hashicorp/golang-lru"
)

const verifyCacheSize = 256

var (
	// InputError class: rejected before any curve arithmetic runs.
	ErrInvalidLength = errors.New("argument has invalid length")

	// VerificationError taxonomy. Every failure aborts the call with
	// no state mutation.
	ErrMalformedPoint     = errors.New("malformed curve point")
	ErrInvalidSubgroup    = errors.New("point not in prime-order subgroup")
	ErrMissingChainLink   = errors.New("previous round signature unavailable")
	ErrPairingMismatch    = errors.New("pairing verification failed")
	ErrRandomnessMismatch = errors.New("randomness does not match signature hash")
	ErrEntropyConflict    = errors.New("conflicting entropy already stored for round")
)

// EntropyStore is the write-once, round-keyed table of verified
// randomness the verifier feeds. Implemented by the state package; an
// in-memory fake is enough for tests.
type EntropyStore interface {
	// EntropyRecord returns the stored randomness and compressed
	// signature for round, or database.ErrNotFound.
	EntropyRecord(round uint64) (randomness []byte, signature []byte, err error)
	// PutEntropyRecord inserts the verified record for round.
	PutEntropyRecord(round uint64, randomness, signature []byte) error
}

// Verifier is the entropy verification engine. It is intentionally
// permissionless: anyone may submit entropy for any round, because
// verification, not authorization, is the trust boundary.
type Verifier struct {
	curve CurveOps
	store EntropyStore
	log   log.Logger

	publicKey      G2Point
	publicKeyBytes []byte

	// devMode relaxes the chained-message requirement so local
	// networks without a beacon history can still make progress. It
	// must be false in production.
	devMode bool

	// Verification is deterministic, so results for a given
	// submission can be memoized the same way proof checks are.
	resultCache *lru.Cache
}

// NewVerifier decodes and validates the deployed beacon public key and
// returns a verifier bound to it.
//
// The key is round-tripped through decode -> re-encode to catch an
// accidental transposition of the G2 component order, which would
// otherwise reject every valid signature.
func NewVerifier(
	curve CurveOps,
	store EntropyStore,
	publicKey []byte,
	devMode bool,
	logger log.Logger,
) (*Verifier, error) {
	if len(publicKey) != G2UncompressedLen {
		return nil, fmt.Errorf("%w: public key is %d bytes, expected %d", ErrInvalidLength, len(publicKey), G2UncompressedLen)
	}

	pk, err := curve.DecodeG2(publicKey)
	if err != nil {
		return nil, err
	}
	if !pk.InSubgroup() {
		return nil, fmt.Errorf("%w: public key", ErrInvalidSubgroup)
	}
	if !bytes.Equal(pk.Encode(), publicKey) {
		return nil, fmt.Errorf("%w: public key does not round-trip, check G2 component order", ErrMalformedPoint)
	}

	cache, err := lru.New(verifyCacheSize)
	if err != nil {
		return nil, err
	}

	return &Verifier{
		curve:          curve,
		store:          store,
		log:            logger,
		publicKey:      pk,
		publicKeyBytes: publicKey,
		devMode:        devMode,
		resultCache:    cache,
	}, nil
}

// PublicKey returns the configured 192-byte uncompressed beacon key.
func (v *Verifier) PublicKey() []byte {
	return v.publicKeyBytes
}

// SubmitEntropy verifies a beacon round and records its randomness.
//
// Each step is a hard gate; any failure aborts with no state
// mutation. Re-submission of an already verified round with the same
// value is a no-op success.
func (v *Verifier) SubmitEntropy(round uint64, randomness, signature []byte) error {
	// Cheap length gates before any cryptographic work.
	if len(randomness) != RandomnessLen {
		return fmt.Errorf("%w: randomness is %d bytes, expected %d", ErrInvalidLength, len(randomness), RandomnessLen)
	}
	if len(signature) != G1UncompressedLen {
		return fmt.Errorf("%w: signature is %d bytes, expected %d", ErrInvalidLength, len(signature), G1UncompressedLen)
	}

	cacheKey := submissionKey(round, randomness, signature)
	if _, ok := v.resultCache.Get(cacheKey); ok {
		// Known-good submission; only the idempotent insert remains.
		return v.record(round, randomness, signature)
	}

	if err := v.verify(round, randomness, signature); err != nil {
		v.log.Debug("rejected beacon submission",
			log.Uint64("round", round),
			log.Err(err),
		)
		return err
	}
	v.resultCache.Add(cacheKey, struct{}{})

	return v.record(round, randomness, signature)
}

func (v *Verifier) verify(round uint64, randomness, signature []byte) error {
	sig, err := v.curve.DecodeG1(signature)
	if err != nil {
		return err
	}
	if !sig.InSubgroup() {
		return fmt.Errorf("%w: signature", ErrInvalidSubgroup)
	}

	msg, err := v.signedMessage(round)
	if err != nil {
		return err
	}

	// The message point must be derived locally. Accepting it as
	// input would let a submitter pair arbitrary points and forge any
	// randomness.
	hashed, err := v.curve.HashToG1(msg, []byte(DomainSeparationTag))
	if err != nil {
		return err
	}
	if !hashed.InSubgroup() {
		return fmt.Errorf("%w: hashed message", ErrInvalidSubgroup)
	}

	ok, err := v.curve.PairingEqual(sig, hashed, v.publicKey)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPairingMismatch
	}

	// Randomness is defined over the compressed signature form, not
	// the uncompressed form used for pairing. Hashing the 96-byte
	// encoding instead silently diverges from the beacon's published
	// values.
	expected := sha256.Sum256(sig.Compress())
	if !bytes.Equal(expected[:], randomness) {
		return ErrRandomnessMismatch
	}
	return nil
}

// signedMessage reconstructs the message the beacon signed for round:
// SHA-256 of the previous round's compressed signature followed by the
// 8-byte big-endian round number. The chain link binds rounds into a
// tamper-evident sequence; a signature for round R can never verify
// under a claimed round R'.
func (v *Verifier) signedMessage(round uint64) ([]byte, error) {
	var roundBytes [8]byte
	binary.BigEndian.PutUint64(roundBytes[:], round)

	var prevSig []byte
	if round > 0 {
		_, sig, err := v.store.EntropyRecord(round - 1)
		switch {
		case err == nil:
			prevSig = sig
		case errors.Is(err, database.ErrNotFound):
			if !v.devMode {
				return nil, fmt.Errorf("%w: round %d", ErrMissingChainLink, round-1)
			}
			// Dev networks fall back to the unchained quicknet
			// message so rounds are independently verifiable.
		default:
			return nil, err
		}
	}

	h := sha256.New()
	h.Write(prevSig)
	h.Write(roundBytes[:])
	return h.Sum(nil), nil
}

// record implements the write-once insert: absent -> insert, present
// with equal value -> no-op success, present with different value ->
// hard failure. The last case cannot happen while verification is
// deterministic and guards against storage corruption.
func (v *Verifier) record(round uint64, randomness, signature []byte) error {
	sig, err := v.curve.DecodeG1(signature)
	if err != nil {
		return err
	}
	compressed := sig.Compress()

	existingRand, existingSig, err := v.store.EntropyRecord(round)
	switch {
	case err == nil:
		if bytes.Equal(existingRand, randomness) && bytes.Equal(existingSig, compressed) {
			return nil
		}
		return fmt.Errorf("%w: round %d", ErrEntropyConflict, round)
	case errors.Is(err, database.ErrNotFound):
	default:
		return err
	}

	if err := v.store.PutEntropyRecord(round, randomness, compressed); err != nil {
		return err
	}

	v.log.Info("verified beacon round",
		log.Uint64("round", round),
	)
	return nil
}

func submissionKey(round uint64, randomness, signature []byte) string {
	h := sha256.New()
	var roundBytes [8]byte
	binary.BigEndian.PutUint64(roundBytes[:], round)
	h.Write(roundBytes[:])
	h.Write(randomness)
	h.Write(signature)
	return string(h.Sum(nil))
}
