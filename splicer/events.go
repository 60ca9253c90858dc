// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package splicer

import (
	"github.com/luxfi/ids"
	"github.com/luxfi/pubsub"

	"github.com/luxfi/genomevm/state"
)

var _ pubsub.Filterer = (*eventFilterer)(nil)

// CartridgeMinted is published on the event feed when a new pending
// cartridge is created.
type CartridgeMinted struct {
	Kind        string      `json:"kind"`
	CartridgeID uint32      `json:"cartridgeId"`
	Owner       ids.ShortID `json:"owner"`
	SkinID      uint32      `json:"skinId"`
	TargetRound uint64      `json:"targetRound"`
}

// CreatureFinalized is published on the event feed when a cartridge is
// finalized into a creature.
type CreatureFinalized struct {
	Kind        string          `json:"kind"`
	Creature    *state.Creature `json:"creature"`
	SourceRound uint64          `json:"sourceRound"`
}

// eventFilterer routes an event to subscribers whose filters match the
// owner address.
type eventFilterer struct {
	owner ids.ShortID
	event interface{}
}

func newEventFilterer(owner ids.ShortID, event interface{}) pubsub.Filterer {
	return &eventFilterer{owner: owner, event: event}
}

func (f *eventFilterer) Filter(filters []pubsub.Filter) ([]bool, interface{}) {
	matches := make([]bool, len(filters))
	for i, filter := range filters {
		matches[i] = filter.Check(f.owner[:])
	}
	return matches, f.event
}
