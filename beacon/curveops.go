// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package beacon verifies drand-style randomness beacons before any
// of their entropy is allowed into the ledger.
package beacon

// Fixed wire sizes for BLS12-381 points as used by the beacon.
const (
	// G1UncompressedLen is an uncompressed G1 point: 48-byte
	// big-endian x followed by 48-byte big-endian y.
	G1UncompressedLen = 96
	// G1CompressedLen is a compressed G1 point. Beacon randomness is
	// defined as SHA-256 over this form, not the uncompressed one.
	G1CompressedLen = 48
	// G2UncompressedLen is an uncompressed G2 point, encoded as four
	// 48-byte big-endian field components in the order
	// x_c1 || x_c0 || y_c1 || y_c0.
	G2UncompressedLen = 192
	// RandomnessLen is the SHA-256 output size.
	RandomnessLen = 32
)

// DomainSeparationTag is the hash-to-curve DST of the drand quicknet
// signature scheme, published alongside the deployed public key.
const DomainSeparationTag = "BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_"

// G1Point is a decoded, on-curve point of the signature group.
type G1Point interface {
	// InSubgroup reports membership in the prime-order subgroup.
	// Skipping this check permits invalid-curve forgeries.
	InSubgroup() bool
	// Compress returns the 48-byte compressed encoding.
	Compress() []byte
}

// G2Point is a decoded, on-curve point of the public-key group.
type G2Point interface {
	InSubgroup() bool
	// Encode returns the 192-byte uncompressed encoding, used to
	// round-trip the configured public key and catch component-order
	// transposition.
	Encode() []byte
}

// CurveOps abstracts the pairing-curve arithmetic the verifier needs,
// so the verification pipeline is independent of the backing library.
type CurveOps interface {
	// DecodeG1 parses a 96-byte uncompressed G1 point and confirms it
	// is a canonical, on-curve encoding. Subgroup membership is NOT
	// checked here; callers gate on G1Point.InSubgroup separately.
	DecodeG1(b []byte) (G1Point, error)

	// DecodeG2 parses a 192-byte uncompressed G2 point and confirms
	// it is a canonical, on-curve encoding.
	DecodeG2(b []byte) (G2Point, error)

	// HashToG1 maps msg to a G1 point per RFC 9380 using dst.
	HashToG1(msg, dst []byte) (G1Point, error)

	// PairingEqual reports whether e(sig, g2gen) == e(hashed, pk),
	// the BLS verification equation with public keys on G2.
	PairingEqual(sig, hashed G1Point, pk G2Point) (bool, error)
}
