// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package genes defines the gene pool and the deterministic weighted
// selection used to populate finalized creatures.
package genes

import "fmt"

// Rarity tiers, ordered by drop rate.
type Rarity uint8

const (
	Normal Rarity = iota // 60%
	Rare                 // 30%
	Legendary            // 10%
)

func (r Rarity) String() string {
	switch r {
	case Normal:
		return "normal"
	case Rare:
		return "rare"
	case Legendary:
		return "legendary"
	default:
		return fmt.Sprintf("unknown rarity: %d", r)
	}
}

// NumGenes is the size of the gene pool.
const NumGenes = 15

// Fixed partition of gene ids into rarity tiers. Rarity on a Gene is
// denormalized for convenience and must always agree with this
// partition.
var (
	rareIDs      = []uint8{0, 1, 2}
	legendaryIDs = []uint8{3, 4, 5}
	normalIDs    = []uint8{6, 7, 8, 9, 10, 11, 12, 13, 14}
)

// Gene is a single immutable body-part attribute.
type Gene struct {
	ID     uint8  `serialize:"true" json:"id"`
	Rarity Rarity `serialize:"true" json:"rarity"`
}

// RarityOf returns the rarity tier the fixed partition assigns to
// [id]. Ids outside the pool map to Normal; callers are expected to
// stay within [0, NumGenes).
func RarityOf(id uint8) Rarity {
	switch {
	case id <= 2:
		return Rare
	case id <= 5:
		return Legendary
	default:
		return Normal
	}
}
