// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package beacon

import (
	"errors"
	"fmt"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
)

var (
	_ CurveOps = (*blsOps)(nil)
	_ G1Point  = (*blsG1)(nil)
	_ G2Point  = (*blsG2)(nil)

	errForeignPoint = errors.New("point was not produced by this CurveOps")

	// Fixed generator of the public-key group.
	g2Gen bls12381.G2Affine
)

func init() {
	_, _, _, g2Gen = bls12381.Generators()
}

// NewCurveOps returns the gnark-crypto backed CurveOps implementation.
func NewCurveOps() CurveOps {
	return &blsOps{}
}

type blsOps struct{}

type blsG1 struct {
	p bls12381.G1Affine
}

func (g *blsG1) InSubgroup() bool {
	return g.p.IsInSubGroup()
}

func (g *blsG1) Compress() []byte {
	b := g.p.Bytes()
	return b[:]
}

type blsG2 struct {
	p bls12381.G2Affine
}

func (g *blsG2) InSubgroup() bool {
	return g.p.IsInSubGroup()
}

func (g *blsG2) Encode() []byte {
	b := g.p.RawBytes()
	return b[:]
}

func (*blsOps) DecodeG1(b []byte) (G1Point, error) {
	if len(b) != G1UncompressedLen {
		return nil, fmt.Errorf("%w: G1 point is %d bytes, expected %d", ErrInvalidLength, len(b), G1UncompressedLen)
	}

	var g blsG1
	if err := g.p.X.SetBytesCanonical(b[:48]); err != nil {
		return nil, fmt.Errorf("%w: G1 x coordinate: %s", ErrMalformedPoint, err)
	}
	if err := g.p.Y.SetBytesCanonical(b[48:]); err != nil {
		return nil, fmt.Errorf("%w: G1 y coordinate: %s", ErrMalformedPoint, err)
	}
	// (0,0) is the affine encoding of the point at infinity; IsOnCurve
	// accepts it, so reject it explicitly. The identity is never a
	// valid signature.
	if g.p.IsInfinity() {
		return nil, fmt.Errorf("%w: G1 point at infinity", ErrMalformedPoint)
	}
	if !g.p.IsOnCurve() {
		return nil, fmt.Errorf("%w: G1 point not on curve", ErrMalformedPoint)
	}
	return &g, nil
}

func (*blsOps) DecodeG2(b []byte) (G2Point, error) {
	if len(b) != G2UncompressedLen {
		return nil, fmt.Errorf("%w: G2 point is %d bytes, expected %d", ErrInvalidLength, len(b), G2UncompressedLen)
	}

	// Component order is x_c1 || x_c0 || y_c1 || y_c0, matching the
	// gnark-crypto uncompressed layout. This order is a deployment
	// constant; transposing it rejects every mathematically valid
	// signature.
	var g blsG2
	if err := g.p.X.A1.SetBytesCanonical(b[0:48]); err != nil {
		return nil, fmt.Errorf("%w: G2 x_c1 component: %s", ErrMalformedPoint, err)
	}
	if err := g.p.X.A0.SetBytesCanonical(b[48:96]); err != nil {
		return nil, fmt.Errorf("%w: G2 x_c0 component: %s", ErrMalformedPoint, err)
	}
	if err := g.p.Y.A1.SetBytesCanonical(b[96:144]); err != nil {
		return nil, fmt.Errorf("%w: G2 y_c1 component: %s", ErrMalformedPoint, err)
	}
	if err := g.p.Y.A0.SetBytesCanonical(b[144:192]); err != nil {
		return nil, fmt.Errorf("%w: G2 y_c0 component: %s", ErrMalformedPoint, err)
	}
	if g.p.IsInfinity() {
		return nil, fmt.Errorf("%w: G2 point at infinity", ErrMalformedPoint)
	}
	if !g.p.IsOnCurve() {
		return nil, fmt.Errorf("%w: G2 point not on curve", ErrMalformedPoint)
	}
	return &g, nil
}

func (*blsOps) HashToG1(msg, dst []byte) (G1Point, error) {
	p, err := bls12381.HashToG1(msg, dst)
	if err != nil {
		return nil, err
	}
	return &blsG1{p: p}, nil
}

func (*blsOps) PairingEqual(sig, hashed G1Point, pk G2Point) (bool, error) {
	sigP, ok := sig.(*blsG1)
	if !ok {
		return false, errForeignPoint
	}
	hashedP, ok := hashed.(*blsG1)
	if !ok {
		return false, errForeignPoint
	}
	pkP, ok := pk.(*blsG2)
	if !ok {
		return false, errForeignPoint
	}

	// e(sig, g2Gen) == e(H(m), pk)  <=>
	// e(sig, g2Gen) * e(H(m), -pk) == 1
	var negPK bls12381.G2Affine
	negPK.Neg(&pkP.p)

	return bls12381.PairingCheck(
		[]bls12381.G1Affine{sigP.p, hashedP.p},
		[]bls12381.G2Affine{g2Gen, negPK},
	)
}
