// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package beacon

import "github.com/luxfi/genomevm/utils/timer/mockable"

// Quicknet chain parameters: round 1 was published at the genesis
// timestamp and a new round is published every period seconds.
const (
	QuicknetGenesis uint64 = 1692803367
	QuicknetPeriod  uint64 = 3

	// targetLead is how many rounds past the current one a new
	// issuance is bound to, so its entropy cannot have been published
	// yet at mint time.
	targetLead uint64 = 2
)

// RoundClock maps wall-clock time onto beacon round numbers.
type RoundClock struct {
	clk     *mockable.Clock
	genesis uint64
	period  uint64
}

// NewRoundClock returns a RoundClock for a beacon with the given
// genesis timestamp and period in seconds.
func NewRoundClock(clk *mockable.Clock, genesis, period uint64) *RoundClock {
	return &RoundClock{
		clk:     clk,
		genesis: genesis,
		period:  period,
	}
}

// NewQuicknetClock returns a RoundClock with the drand quicknet
// parameters.
func NewQuicknetClock(clk *mockable.Clock) *RoundClock {
	return NewRoundClock(clk, QuicknetGenesis, QuicknetPeriod)
}

// Current returns the latest round that has elapsed at the clock's
// current time. Before genesis the chain is at round 1.
func (rc *RoundClock) Current() uint64 {
	now := rc.clk.Unix()
	if now <= rc.genesis {
		return 1
	}
	return (now-rc.genesis)/rc.period + 1
}

// Target returns the round a new issuance should be bound to: a round
// that has not yet been published, so the minter cannot know its
// entropy.
func (rc *RoundClock) Target() uint64 {
	return rc.Current() + targetLead
}
