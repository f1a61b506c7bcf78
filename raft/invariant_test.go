package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInvariant_PassesSilently(t *testing.T) {
	require.NotPanics(t, func() {
		invariant(true, "never seen")
	})
}

func TestInvariant_PanicsWithMessage(t *testing.T) {
	require.PanicsWithValue(t, "raft: invariant violated: bad index 3", func() {
		invariant(false, "bad index %d", 3)
	})
}

func TestAdvanceCommitTo_PanicsOnBackwardMove(t *testing.T) {
	node, _, _ := newTestNode("a", []NodeId{"b"}, 1)
	node.state.log = []LogEntry{{Term: 0}, {Term: 0}}
	node.state.commitIndex = 1

	require.Panics(t, func() {
		node.advanceCommitTo(0)
	})
}

func TestAdvanceCommitTo_PanicsBeyondLogEnd(t *testing.T) {
	node, _, _ := newTestNode("a", []NodeId{"b"}, 1)
	node.state.log = []LogEntry{{Term: 0}}

	require.Panics(t, func() {
		node.advanceCommitTo(5)
	})
}

func TestApplyLogEntries_PanicsOnGapInCommittedRange(t *testing.T) {
	node, _, _ := newTestNode("a", []NodeId{"b"}, 1)
	// commitIndex claims an entry exists at index 0 but the log is empty:
	// a structural corruption that must never happen via the normal
	// advanceCommitTo path, which is exactly why it is checked here.
	node.state.commitIndex = 0

	require.Panics(t, func() {
		node.applyLogEntries()
	})
}
