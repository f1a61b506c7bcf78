package raft

import (
	"math/rand"
	"time"
)

// TimerFacility owns the two timers a replica needs: a randomized
// election timeout armed on every term change or received heartbeat,
// and a fixed heartbeat interval armed only while leader (spec §4.4).
// Timers never mutate NodeState directly; they report expiry by
// pushing an Event onto the handler's queue, matching the "report back
// only via events" rule in §5.
type TimerFacility struct {
	electionMin time.Duration
	electionMax time.Duration
	heartbeat   time.Duration

	push func(Event)

	electionTimer  *time.Timer
	heartbeatTimer *time.Timer
}

func newTimerFacility(min, max, heartbeat time.Duration, push func(Event)) *TimerFacility {
	return &TimerFacility{
		electionMin: min,
		electionMax: max,
		heartbeat:   heartbeat,
		push:        push,
	}
}

// randomElectionTimeout draws a uniform duration in [min, max), the
// jitter that keeps competing candidacies from converging forever
// (Glossary "Election timeout").
func (t *TimerFacility) randomElectionTimeout() time.Duration {
	if t.electionMax <= t.electionMin {
		return t.electionMin
	}
	span := t.electionMax - t.electionMin
	return t.electionMin + time.Duration(rand.Int63n(int64(span)))
}

// resetElection rearms the election timer for the given term. Any
// previously armed timer is stopped first. A fire of the old timer
// that is already in flight is still delivered; the handler discards
// it only if the term has changed since it was armed, since it
// compares the event's Term against the current term before acting.
func (t *TimerFacility) resetElection(term Term) {
	if t.electionTimer != nil {
		t.electionTimer.Stop()
	}
	d := t.randomElectionTimeout()
	t.electionTimer = time.AfterFunc(d, func() {
		t.push(ElectionTimeoutEvent{Term: term})
	})
}

// stopElection disarms the election timer, used when a replica
// becomes leader and no longer needs to detect an absent leader.
func (t *TimerFacility) stopElection() {
	if t.electionTimer != nil {
		t.electionTimer.Stop()
	}
}

// startHeartbeat arms a heartbeat that re-fires every interval while
// the replica remains leader of the given term.
func (t *TimerFacility) startHeartbeat(term Term) {
	if t.heartbeatTimer != nil {
		t.heartbeatTimer.Stop()
	}
	var arm func()
	arm = func() {
		t.heartbeatTimer = time.AfterFunc(t.heartbeat, func() {
			t.push(HeartbeatTimeoutEvent{Term: term})
			arm()
		})
	}
	arm()
}

// stopHeartbeat disarms the heartbeat timer, used on stepping down
// from leadership.
func (t *TimerFacility) stopHeartbeat() {
	if t.heartbeatTimer != nil {
		t.heartbeatTimer.Stop()
	}
}

// stopAll disarms both timers, used on shutdown.
func (t *TimerFacility) stopAll() {
	t.stopElection()
	t.stopHeartbeat()
}
