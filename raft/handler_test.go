package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCluster_ElectsExactlyOneLeader(t *testing.T) {
	cluster := newTestCluster(3, 2)
	cluster.run()
	defer cluster.stop()

	require.Eventually(t, func() bool {
		return cluster.countLeaders() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// give stragglers time to converge and assert the count stays at 1.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, cluster.countLeaders())
}

func TestCluster_ReplicatesCommandToEveryStateMachine(t *testing.T) {
	cluster := newTestCluster(3, 2)
	cluster.run()
	defer cluster.stop()

	require.Eventually(t, func() bool {
		return cluster.leader() != nil
	}, 2*time.Second, 5*time.Millisecond)

	leader := cluster.leader()
	cmd := Command{Entry: AppCommand("put x 1"), ClientId: "client-1", RequestId: "req-1"}
	leader.Submit(signedClientEvent("client-1", fakeClientSigner{id: "client-1"}, cmd).RPC, "client-1")

	require.Eventually(t, func() bool {
		for _, sm := range cluster.sms {
			if sm.appliedCount() != 1 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandleRequestVote_GrantsLazilyAndDefersTransmission(t *testing.T) {
	node, tr, _ := newTestNode("a", []NodeId{"b", "c"}, 2)

	candSigner := fakeSigner{id: "b"}
	ev := signedEvent("b", candSigner, RequestVote{Term: 1, CandidateId: "b", LastLogIndex: StartIndex, LastLogTerm: 0})
	node.handleEvent(ev)

	require.True(t, node.state.hasVotedFor)
	require.Equal(t, NodeId("b"), node.state.votedFor)
	require.True(t, node.state.lazy.valid)
	require.Empty(t, tr.messagesTo("b"), "vote must not be transmitted before the holder's own timer fires")

	node.handleEvent(ElectionTimeoutEvent{Term: 1})

	msgs := tr.messagesTo("b")
	require.Len(t, msgs, 1)
	rvr, ok := msgs[0].rpc.(RequestVoteResponse)
	require.True(t, ok)
	require.True(t, rvr.VoteGranted)
	require.False(t, node.state.lazy.valid)
}

func TestHandleRequestVote_SecondCandidateSameTermIsDenied(t *testing.T) {
	node, tr, _ := newTestNode("a", []NodeId{"b", "c"}, 2)

	node.handleEvent(signedEvent("b", fakeSigner{id: "b"}, RequestVote{Term: 1, CandidateId: "b", LastLogIndex: StartIndex}))
	node.handleEvent(signedEvent("c", fakeSigner{id: "c"}, RequestVote{Term: 1, CandidateId: "c", LastLogIndex: StartIndex}))

	msgs := tr.messagesTo("c")
	require.Len(t, msgs, 1)
	rvr := msgs[0].rpc.(RequestVoteResponse)
	require.False(t, rvr.VoteGranted)
}

func TestHandleAppendEntries_RejectsInvalidQuorumCertificate(t *testing.T) {
	node, tr, _ := newTestNode("a", []NodeId{"b", "c", "d"}, 3)

	bogusVote := RequestVoteResponse{Term: 1, CandidateId: "b", NodeId: "c", VoteGranted: true, Signature: Signature("not-a-real-sig")}
	ae := AppendEntries{Term: 1, LeaderId: "b", PrevLogIndex: StartIndex, QuorumVotes: []RequestVoteResponse{bogusVote}}
	node.handleEvent(signedEvent("b", fakeSigner{id: "b"}, ae))

	require.Equal(t, Follower, node.state.role)
	require.False(t, node.state.hasLeader)

	msgs := tr.messagesTo("b")
	require.Len(t, msgs, 1)
	resp := msgs[0].rpc.(AppendEntriesResponse)
	require.False(t, resp.Convinced)
}

func TestHandleAppendEntries_AcceptsValidQuorumCertificate(t *testing.T) {
	node, tr, _ := newTestNode("a", []NodeId{"b", "c", "d"}, 2)

	vote := RequestVoteResponse{Term: 1, CandidateId: "b", NodeId: "c", VoteGranted: true}
	msg, err := signingBytes(vote)
	require.NoError(t, err)
	sig, err := (fakeSigner{id: "c"}).Sign(msg)
	require.NoError(t, err)
	vote = withSignature(vote, sig).(RequestVoteResponse)

	ae := AppendEntries{Term: 1, LeaderId: "b", PrevLogIndex: StartIndex, QuorumVotes: []RequestVoteResponse{vote}}
	node.handleEvent(signedEvent("b", fakeSigner{id: "b"}, ae))

	require.Equal(t, Follower, node.state.role)
	require.True(t, node.state.hasLeader)
	require.Equal(t, NodeId("b"), node.state.currentLeader)

	msgs := tr.messagesTo("b")
	require.Len(t, msgs, 1)
	resp := msgs[0].rpc.(AppendEntriesResponse)
	require.True(t, resp.Convinced)
	require.True(t, resp.Success)
}

func TestHandleCommand_ReplayCacheShortCircuitsReapplication(t *testing.T) {
	node, tr, sm := newTestNode("a", []NodeId{"b", "c"}, 2)
	node.state.role = Leader
	node.state.currentLeader = "a"
	node.state.hasLeader = true
	node.state.nextIndex = map[NodeId]LogIndex{"b": 0, "c": 0}
	node.state.matchIndex = map[NodeId]LogIndex{"b": StartIndex, "c": StartIndex}
	node.state.convinced = map[NodeId]bool{"b": false, "c": false}

	cmd := Command{Entry: AppCommand("put x 1"), ClientId: "client-1", RequestId: "req-1"}
	node.handleEvent(signedClientEvent("client-1", fakeClientSigner{id: "client-1"}, cmd))

	// With only this leader able to match its own entry, quorum 2 needs
	// one follower ack before it is committed and applied.
	node.handleEvent(signedEvent("b", fakeSigner{id: "b"}, AppendEntriesResponse{Term: 0, NodeId: "b", Convinced: true, Success: true, Index: 0}))
	require.Equal(t, 1, sm.appliedCount())

	node.handleEvent(signedClientEvent("client-1", fakeClientSigner{id: "client-1"}, cmd))
	require.Equal(t, 1, sm.appliedCount(), "replayed command must not be applied twice")

	msgs := tr.messagesTo("client-1")
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		resp := m.rpc.(CommandResponse)
		require.Equal(t, RequestId("req-1"), resp.RequestId)
	}
}

func TestHandleCommand_FollowerForwardsToLeader(t *testing.T) {
	node, tr, _ := newTestNode("a", []NodeId{"b", "c"}, 2)
	node.state.hasLeader = true
	node.state.currentLeader = "b"

	clientSigner := fakeClientSigner{id: "client-1"}
	cmd := Command{Entry: AppCommand("put x 1"), ClientId: "client-1", RequestId: "req-1"}
	msg, err := signingBytes(cmd)
	require.NoError(t, err)
	sig, err := clientSigner.Sign(msg)
	require.NoError(t, err)
	cmd = withSignature(cmd, sig).(Command)

	node.handleEvent(InboundRPCEvent{IsClient: true, ClientId: "client-1", RPC: cmd, Sig: sig})

	msgs := tr.messagesTo("b")
	require.Len(t, msgs, 1)
	forwarded := msgs[0].rpc.(Command)
	require.Equal(t, sig, msgs[0].sig, "forwarded command keeps the client's own signature")
	require.Equal(t, RequestId("req-1"), forwarded.RequestId)
}

func TestHandleRevolution_IgnoresStaleLeaderName(t *testing.T) {
	node, _, _ := newTestNode("a", []NodeId{"b", "c"}, 2)
	node.state.hasLeader = true
	node.state.currentLeader = "b"

	rev := Revolution{ClientId: "client-1", LeaderId: "c"}
	node.handleEvent(signedClientEvent("client-1", fakeClientSigner{id: "client-1"}, rev))
	require.False(t, node.state.ignoreLeader)

	rev2 := Revolution{ClientId: "client-1", LeaderId: "b"}
	node.handleEvent(signedClientEvent("client-1", fakeClientSigner{id: "client-1"}, rev2))
	require.True(t, node.state.ignoreLeader)
}

func TestHandleInbound_RejectsBadSignature(t *testing.T) {
	node, tr, _ := newTestNode("a", []NodeId{"b", "c"}, 2)

	rv := RequestVote{Term: 1, CandidateId: "b", LastLogIndex: StartIndex}
	ev := InboundRPCEvent{From: "b", RPC: rv, Sig: Signature("garbage")}
	node.handleEvent(ev)

	require.False(t, node.state.hasVotedFor)
	require.Empty(t, tr.sent)
}

func TestHandleAppendEntriesResponse_UnconvincedClearsConvinced(t *testing.T) {
	node, _, _ := newTestNode("a", []NodeId{"b", "c"}, 2)
	node.state.role = Leader
	node.state.nextIndex = map[NodeId]LogIndex{"b": 0, "c": 0}
	node.state.matchIndex = map[NodeId]LogIndex{"b": StartIndex, "c": StartIndex}
	node.state.convinced = map[NodeId]bool{"b": true, "c": false}

	// spec §4.1.2: a peer answering Convinced=false no longer accepts us
	// as leader of this term and must drop out of lConvinced.
	node.handleEvent(signedEvent("b", fakeSigner{id: "b"}, AppendEntriesResponse{
		Term: node.state.term, NodeId: "b", Convinced: false, Success: false, Index: StartIndex,
	}))

	require.False(t, node.state.convinced["b"])
}

func TestHandleAppendEntriesResponse_HigherTermStepsDown(t *testing.T) {
	node, _, _ := newTestNode("a", []NodeId{"b", "c"}, 2)
	node.state.role = Leader
	node.state.term = 3
	node.state.nextIndex = map[NodeId]LogIndex{"b": 0, "c": 0}
	node.state.matchIndex = map[NodeId]LogIndex{"b": StartIndex, "c": StartIndex}
	node.state.convinced = map[NodeId]bool{"b": false, "c": false}

	node.handleEvent(signedEvent("b", fakeSigner{id: "b"}, AppendEntriesResponse{Term: 5, NodeId: "b"}))

	require.Equal(t, Follower, node.state.role)
	require.Equal(t, Term(5), node.state.term)
}
