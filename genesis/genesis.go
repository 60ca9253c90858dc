// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package genesis defines the JSON configuration a genome VM instance
// is initialized with.
package genesis

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/formatting"
	"github.com/luxfi/ids"

	"github.com/luxfi/genomevm/beacon"
)

var (
	ErrMissingPublicKey = errors.New("genesis: beacon public key is required")
	ErrIncompleteAnchor = errors.New("genesis: anchor round, randomness and signature must all be set together")
)

const defaultSkinCount = 8

// Genesis is the chain's initial configuration. Hex fields use the
// 0x-prefixed encoding the rest of the API speaks.
type Genesis struct {
	// BeaconPublicKey is the 192-byte uncompressed G2 key of the
	// randomness beacon every entropy submission is verified against.
	BeaconPublicKey string `json:"beaconPublicKey"`

	// BeaconGenesisTime and BeaconPeriod map wall-clock time to beacon
	// rounds. Zero values fall back to the drand quicknet schedule.
	BeaconGenesisTime uint64 `json:"beaconGenesisTime"`
	BeaconPeriod      uint64 `json:"beaconPeriod"`

	// DevMode disables the chain-link requirement so rounds can be
	// verified without history. Never set in production.
	DevMode bool `json:"devMode"`

	// AnchorRound seeds the signature chain with a trusted record so
	// production verification can bootstrap. Optional in dev mode.
	AnchorRound      uint64 `json:"anchorRound"`
	AnchorRandomness string `json:"anchorRandomness"`
	AnchorSignature  string `json:"anchorSignature"`

	// SkinCount is the number of cosmetic skins cartridges roll from.
	SkinCount uint32 `json:"skinCount"`

	// FeeAmount is the mint fee charged per splice.
	FeeAmount uint64 `json:"feeAmount"`

	// Allocations fund owners with mint credits at genesis.
	Allocations []Allocation `json:"allocations"`
}

// Allocation is one genesis credit grant.
type Allocation struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
}

// Parse decodes and validates genesis bytes, applying defaults.
func Parse(genesisBytes []byte) (*Genesis, error) {
	g := &Genesis{}
	if err := json.Unmarshal(genesisBytes, g); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}

	if g.BeaconGenesisTime == 0 {
		g.BeaconGenesisTime = beacon.QuicknetGenesis
	}
	if g.BeaconPeriod == 0 {
		g.BeaconPeriod = beacon.QuicknetPeriod
	}
	if g.SkinCount == 0 {
		g.SkinCount = defaultSkinCount
	}

	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Genesis) validate() error {
	if g.BeaconPublicKey == "" {
		return ErrMissingPublicKey
	}
	pk, err := g.PublicKeyBytes()
	if err != nil {
		return err
	}
	if len(pk) != beacon.G2UncompressedLen {
		return fmt.Errorf("genesis: beacon public key is %d bytes, expected %d", len(pk), beacon.G2UncompressedLen)
	}

	for _, alloc := range g.Allocations {
		if _, err := ids.ShortFromString(alloc.Address); err != nil {
			return fmt.Errorf("genesis: allocation address %q: %w", alloc.Address, err)
		}
	}

	hasAnchor := g.AnchorRandomness != "" || g.AnchorSignature != ""
	if !hasAnchor {
		return nil
	}
	if g.AnchorRandomness == "" || g.AnchorSignature == "" {
		return ErrIncompleteAnchor
	}
	randomness, err := g.AnchorRandomnessBytes()
	if err != nil {
		return err
	}
	if len(randomness) != beacon.RandomnessLen {
		return fmt.Errorf("genesis: anchor randomness is %d bytes, expected %d", len(randomness), beacon.RandomnessLen)
	}
	signature, err := g.AnchorSignatureBytes()
	if err != nil {
		return err
	}
	if len(signature) != beacon.G1CompressedLen {
		return fmt.Errorf("genesis: anchor signature is %d bytes, expected %d", len(signature), beacon.G1CompressedLen)
	}
	return nil
}

// HasAnchor reports whether a trusted chain anchor is configured.
func (g *Genesis) HasAnchor() bool {
	return g.AnchorSignature != ""
}

// PublicKeyBytes returns the decoded beacon public key.
func (g *Genesis) PublicKeyBytes() ([]byte, error) {
	return formatting.Decode(formatting.HexNC, g.BeaconPublicKey)
}

// AnchorRandomnessBytes returns the decoded anchor randomness.
func (g *Genesis) AnchorRandomnessBytes() ([]byte, error) {
	return formatting.Decode(formatting.HexNC, g.AnchorRandomness)
}

// AnchorSignatureBytes returns the decoded 48-byte compressed anchor
// signature.
func (g *Genesis) AnchorSignatureBytes() ([]byte, error) {
	return formatting.Decode(formatting.HexNC, g.AnchorSignature)
}
