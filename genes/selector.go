// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package genes

import (
	"crypto/sha256"
	"encoding/binary"
)

// Cumulative tier boundaries over a roll in [0, 100).
const (
	legendaryBound = 10  // [0, 10)  -> Legendary
	rareBound      = 40  // [10, 40) -> Rare
	rollRange      = 100 // [40, 100) -> Normal
)

// Select deterministically draws one gene from the weighted pool.
//
// The seed is expected to be verified beacon randomness; the tag
// domain-separates draws for different body parts so three draws from
// the same seed are not trivially correlated. The mixing function is
// not itself security critical, only deterministic: every observer of
// the same (seed, tag) pair must derive the same gene.
func Select(seed []byte, tag string) Gene {
	h := sha256.New()
	h.Write(seed)
	h.Write([]byte(tag))
	digest := h.Sum(nil)

	roll := binary.BigEndian.Uint64(digest[0:8]) % rollRange
	variant := binary.BigEndian.Uint64(digest[8:16])

	var pool []uint8
	switch {
	case roll < legendaryBound:
		pool = legendaryIDs
	case roll < rareBound:
		pool = rareIDs
	default:
		pool = normalIDs
	}

	id := pool[variant%uint64(len(pool))]
	return Gene{
		ID:     id,
		Rarity: RarityOf(id),
	}
}
