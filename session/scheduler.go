// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package session

import "time"

// scheduler implements the periodic clock-sync + interrogation cycle
// (component F, run_task). It is driven by the session's state-machine
// loop polling due() on its timeout-resolution ticker, rather than an
// independently scheduled timer, matching the single-goroutine ownership
// of session state mandated by the concurrency model.
type scheduler struct {
	collInterval time.Duration

	lastCallAllBegin time.Time
	lastCallAllEnd   time.Time
}

func newScheduler(collInterval time.Duration) *scheduler {
	return &scheduler{collInterval: collInterval}
}

// due reports whether a new interrogation cycle should begin.
func (sc *scheduler) due(now time.Time) bool {
	// a cycle still awaiting its actterm is not restarted within collInterval
	if sc.lastCallAllBegin.After(sc.lastCallAllEnd) && now.Sub(sc.lastCallAllBegin) < sc.collInterval {
		return false
	}
	if sc.lastCallAllEnd.IsZero() {
		return true
	}
	return !sc.lastCallAllEnd.Add(sc.collInterval).After(now)
}

// begin stamps the start of a new cycle.
func (sc *scheduler) begin(now time.Time) {
	sc.lastCallAllBegin = now
}

// completeCounterInterrogation stamps the end of a cycle, advancing the
// cadence. Called when the peer replies with cause=actterm for the counter
// interrogation command.
func (sc *scheduler) completeCounterInterrogation(now time.Time) {
	sc.lastCallAllEnd = now
}
