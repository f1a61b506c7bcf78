package raft

import "fmt"

// invariant panics if cond is false. It exists for structural
// corruption only — conditions that mean this replica's own
// bookkeeping has gone wrong, not conditions an adversarial or slow
// peer can trigger (spec §7: those are handled by rejecting the RPC,
// never by panicking).
func invariant(cond bool, format string, args ...interface{}) {
	if !cond {
		panic("raft: invariant violated: " + fmt.Sprintf(format, args...))
	}
}

// handleEvent is the single dispatch point every occurrence in the
// system passes through (spec §5). It never blocks and never forks;
// anything that could block has already happened on another goroutine
// before the Event reached the queue.
func (n *Node) handleEvent(e Event) {
	switch ev := e.(type) {
	case InboundRPCEvent:
		n.handleInbound(ev)
	case ElectionTimeoutEvent:
		n.handleElectionTimeout(ev)
	case HeartbeatTimeoutEvent:
		n.handleHeartbeatTimeout(ev)
	default:
		invariant(false, "unknown event type %T", e)
	}
}

// verifyInbound checks ev.Sig against the appropriate key: for a
// client-originated RPC (Command, Revolution) the key of the client
// named inside it, so a Command a follower forwarded still verifies;
// the claimed peer's key otherwise (spec §4.2).
func (n *Node) verifyInbound(ev InboundRPCEvent) bool {
	msg, err := signingBytes(ev.RPC)
	if err != nil {
		return false
	}
	switch rpc := ev.RPC.(type) {
	case Command:
		return n.crypto.verifyClient(rpc.ClientId, msg, ev.Sig)
	case Revolution:
		return n.crypto.verifyClient(rpc.ClientId, msg, ev.Sig)
	}
	return n.crypto.verifyPeer(ev.From, msg, ev.Sig)
}

// handleInbound verifies and routes one inbound RPC. A message that
// fails verification or arrives as an unexpected variant is dropped
// silently (beyond a log line): malformed or malicious network input
// must never be allowed to crash the node.
func (n *Node) handleInbound(ev InboundRPCEvent) {
	if !n.verifyInbound(ev) {
		kind := "peer"
		if ev.IsClient {
			kind = "client"
		}
		n.logger.LogCryptoRejected(n.id, ev.From, kind)
		return
	}

	switch rpc := ev.RPC.(type) {
	case AppendEntries:
		n.handleAppendEntries(ev.From, rpc)
	case AppendEntriesResponse:
		n.handleAppendEntriesResponse(ev.From, rpc)
	case RequestVote:
		n.handleRequestVote(ev.From, rpc)
	case RequestVoteResponse:
		n.handleRequestVoteResponse(ev.From, rpc)
	case Command:
		n.handleCommand(ev.ClientId, rpc)
	case Revolution:
		n.handleRevolution(ev.ClientId, rpc)
	case Debug:
		// diagnostic only; nothing to act on.
	default:
		n.logger.LogCryptoRejected(n.id, ev.From, fmt.Sprintf("unexpected rpc %T", rpc))
	}
}

// sendVote signs and transmits this replica's decision on a
// RequestVote.
func (n *Node) sendVote(candidate NodeId, granted bool) {
	n.sender.send(candidate, RequestVoteResponse{
		Term:        n.state.term,
		CandidateId: candidate,
		NodeId:      n.id,
		VoteGranted: granted,
	})
}

// denyVote logs why a RequestVote was refused and sends the negative
// response, grounded on the teacher's RequestVote handler logging a
// reason string alongside every denial.
func (n *Node) denyVote(candidate NodeId, reason string) {
	n.logger.LogVoteDenied(n.id, n.state.term, candidate, reason)
	n.sendVote(candidate, false)
}

// handleRequestVote implements lazy voting (spec §4.1.3, §4.1.7,
// Glossary "Lazy vote"): a vote this replica decides to grant is
// locked in immediately (no double-voting within a term) but its
// RequestVoteResponse is not transmitted until this replica's own
// election timer fires with nothing having proven a legitimate leader
// in the meantime. This gives a genuine, merely-delayed leader a last
// chance to reassert itself before the replica helps elect someone
// else.
func (n *Node) handleRequestVote(from NodeId, rv RequestVote) {
	if rv.Term < n.state.term {
		n.denyVote(rv.CandidateId, fmt.Sprintf("stale term %d < %d", rv.Term, n.state.term))
		return
	}

	if rv.Term > n.state.term {
		n.becomeFollower(rv.Term, "", false)
	}

	if n.state.hasVotedFor && n.state.votedFor == rv.CandidateId {
		if n.state.lazy.valid {
			return // already committed, waiting for our own timer
		}
		n.sendVote(rv.CandidateId, true) // resend an already-externalized vote
		return
	}

	if n.state.hasVotedFor {
		n.denyVote(rv.CandidateId, fmt.Sprintf("already voted for %s", n.state.votedFor))
		return
	}

	if !n.state.isAtLeastAsUpToDate(rv.LastLogIndex, rv.LastLogTerm) {
		n.denyVote(rv.CandidateId, "candidate log not up to date")
		return
	}

	n.state.hasVotedFor = true
	n.state.votedFor = rv.CandidateId
	n.state.lazy = lazyVote{term: rv.Term, candidateId: rv.CandidateId, valid: true}
	// no RPC sent yet: deferred to handleElectionTimeout.
}

// validateQuorumCert checks that votes is a set of distinct,
// correctly signed yes-votes for (term, leader) large enough to seat
// a leader. The candidate's own implicit self-vote is not expected to
// appear in votes, so only quorumSize-1 external votes are required.
func (n *Node) validateQuorumCert(term Term, leader NodeId, votes []RequestVoteResponse) bool {
	seen := make(map[rvrKey]bool, len(votes))
	for _, v := range votes {
		if v.Term != term || v.CandidateId != leader || !v.VoteGranted {
			return false
		}
		key := v.key()
		if seen[key] {
			return false
		}
		seen[key] = true

		msg, err := signingBytes(v)
		if err != nil {
			return false
		}
		if !n.crypto.verifyPeer(v.NodeId, msg, v.Signature) {
			return false
		}
	}
	return len(seen) >= n.quorumSize-1
}

// handleAppendEntries implements both the leadership-acceptance step
// and the log-matching step of spec §4.1.1. Convinced and Success are
// reported independently: a replica can be convinced of a term's
// leader while still rejecting a particular batch of entries because
// its log disagrees at PrevLogIndex.
func (n *Node) handleAppendEntries(from NodeId, ae AppendEntries) {
	n.metrics.AppendEntriesIn.Inc()

	if ae.Term < n.state.term {
		n.sender.send(from, AppendEntriesResponse{
			Term: n.state.term, NodeId: n.id, Convinced: false, Success: false, Index: StartIndex,
		})
		return
	}

	recognizesThisLeader := ae.Term == n.state.term && n.state.hasLeader && n.state.currentLeader == ae.LeaderId

	if recognizesThisLeader && n.state.ignoreLeader {
		// A Revolution revoked this leader for the current term: drop.
		return
	}

	if !recognizesThisLeader {
		if n.state.role == Leader && ae.Term == n.state.term {
			// Two leaders with valid certificates in the same term is
			// impossible under quorum intersection; treat as Byzantine noise.
			n.sender.send(from, AppendEntriesResponse{
				Term: n.state.term, NodeId: n.id, Convinced: false, Success: false, Index: StartIndex,
			})
			return
		}
		if !n.validateQuorumCert(ae.Term, ae.LeaderId, ae.QuorumVotes) {
			n.logger.LogAppendRejected(n.id, from, "invalid quorum certificate")
			n.sender.send(from, AppendEntriesResponse{
				Term: n.state.term, NodeId: n.id, Convinced: false, Success: false, Index: StartIndex,
			})
			return
		}
		n.becomeFollower(ae.Term, ae.LeaderId, true)
		if n.state.lazy.valid && n.state.lazy.term <= ae.Term {
			n.state.lazy = lazyVote{}
		}
	}

	n.timers.resetElection(n.state.term)

	if !n.state.prevLogMatches(ae.PrevLogIndex, ae.PrevLogTerm) {
		n.logger.LogAppendRejected(n.id, from, "log mismatch at prevLogIndex")
		n.sender.send(from, AppendEntriesResponse{
			Term: n.state.term, NodeId: n.id, Convinced: true, Success: false, Index: n.state.lastIndex() + 1,
		})
		return
	}

	n.state.appendFrom(ae.PrevLogIndex, ae.Entries)

	if ae.LeaderCommit > n.state.commitIndex {
		newCommit := ae.LeaderCommit
		if last := n.state.lastIndex(); newCommit > last {
			newCommit = last
		}
		n.advanceCommitTo(newCommit)
	}

	n.sender.send(from, AppendEntriesResponse{
		Term: n.state.term, NodeId: n.id, Convinced: true, Success: true, Index: n.state.lastIndex(),
	})
}

// handleAppendEntriesResponse drives a leader's view of follower
// progress: nextIndex/matchIndex bookkeeping and the log-matching
// backoff on rejection (spec §4.1.1, grounded on the classic
// leaderSendAEs retry loop).
func (n *Node) handleAppendEntriesResponse(from NodeId, aer AppendEntriesResponse) {
	if aer.Term > n.state.term {
		n.becomeFollower(aer.Term, "", false)
		return
	}
	if aer.Term < n.state.term || n.state.role != Leader {
		return
	}

	if aer.Convinced {
		n.state.convinced[from] = true
	} else {
		// spec §4.1.2: an unconvinced follower no longer accepts us as
		// leader of this term, so it drops out of lConvinced.
		n.state.convinced[from] = false
	}

	if aer.Success {
		if aer.Index+1 > n.state.nextIndex[from] {
			n.state.nextIndex[from] = aer.Index + 1
		}
		if aer.Index > n.state.matchIndex[from] {
			n.state.matchIndex[from] = aer.Index
		}
		n.advanceCommitByQuorum()
		return
	}

	if ni := n.state.nextIndex[from]; ni > 0 {
		n.state.nextIndex[from] = ni - 1
	}
	n.sendAppendEntriesTo([]NodeId{from})
}

// advanceCommitByQuorum recomputes the eligible commit prefix from
// current matchIndex values and applies any newly committed entries
// (spec §4.1.5: only a contiguous prefix of current-term entries may
// be committed, never the raw maximum matched index).
func (n *Node) advanceCommitByQuorum() {
	newCommit := eligiblePrefixEnd(n.state.commitIndex, n.state.log, n.state.term, n.state.matchIndex, n.quorumSize)
	if newCommit > n.state.commitIndex {
		n.advanceCommitTo(newCommit)
	}
}

// advanceCommitTo moves commitIndex forward to target and applies
// every newly committed entry in order.
func (n *Node) advanceCommitTo(target LogIndex) {
	invariant(target >= n.state.commitIndex, "commit index moved backward: %d -> %d", n.state.commitIndex, target)
	invariant(target <= n.state.lastIndex(), "commit index %d beyond log end %d", target, n.state.lastIndex())

	old := n.state.commitIndex
	n.state.commitIndex = target
	n.logger.LogCommitAdvanced(n.id, old, target)
	n.metrics.CommitIndex.Set(float64(target))
	n.applyLogEntries()
}

// applyLogEntries applies every committed, not-yet-applied entry to
// the state machine in order, populates the replay cache, and — for
// the replica that is this command's leader — answers the submitting
// client (spec §4.1.6).
func (n *Node) applyLogEntries() {
	for int64(n.state.lastApplied) < int64(n.state.commitIndex) {
		idx := n.state.lastApplied + 1
		entry, ok := n.state.entryAt(idx)
		invariant(ok, "no log entry at committed index %d", idx)

		result, err := n.sm.Apply(entry.Command.Entry)
		if err != nil {
			result = nil
		}

		resp := CommandResponse{
			Result:      result,
			LeaderHint:  n.state.currentLeader,
			ResponderId: n.id,
			RequestId:   entry.Command.RequestId,
		}
		key := entry.Command.replayKey()
		if existing, ok := n.state.replay[key]; !ok || existing.has {
			n.state.replay[key] = replayEntry{response: resp, has: true}
		}

		n.state.lastApplied = idx
		n.metrics.CommandsApplied.Inc()
		n.logger.LogCommandApplied(n.id, entry.Command.ClientId, entry.Command.RequestId, idx)

		if n.state.role == Leader {
			n.sender.send(NodeId(entry.Command.ClientId), resp)
		}
	}
}

// sendAppendEntriesTo sends a fresh AppendEntries to each listed
// peer, built from this leader's current view of that peer's
// nextIndex.
func (n *Node) sendAppendEntriesTo(ids []NodeId) {
	for _, id := range ids {
		prevIndex := n.state.nextIndex[id] - 1
		var prevTerm Term
		if entry, ok := n.state.entryAt(prevIndex); ok {
			prevTerm = entry.Term
		}

		var entries []LogEntry
		if start := n.state.nextIndex[id]; int64(start) < int64(len(n.state.log)) && start >= 0 {
			entries = append(entries, n.state.log[start:]...)
		}

		n.sender.send(id, AppendEntries{
			Term:         n.state.term,
			LeaderId:     n.id,
			PrevLogIndex: prevIndex,
			PrevLogTerm:  prevTerm,
			Entries:      entries,
			LeaderCommit: n.state.commitIndex,
			QuorumVotes:  n.state.quorumCert,
		})
		n.metrics.AppendEntriesOut.Inc()
	}
}

// handleRequestVoteResponse counts a granted vote toward the current
// candidacy and promotes to leader once a quorum, including this
// replica's own implicit self-vote, is reached (spec §4.1.8).
func (n *Node) handleRequestVoteResponse(from NodeId, rvr RequestVoteResponse) {
	if rvr.Term > n.state.term {
		n.becomeFollower(rvr.Term, "", false)
		return
	}
	if n.state.role != Candidate || rvr.Term != n.state.term || rvr.CandidateId != n.id {
		return
	}
	if !n.state.potentialVoters[from] {
		return
	}
	delete(n.state.potentialVoters, from)
	if !rvr.VoteGranted {
		return
	}

	n.state.yesVotes[rvr.key()] = rvr
	if len(n.state.yesVotes)+1 >= n.quorumSize {
		n.becomeLeader()
	}
}

// handleElectionTimeout implements spec §4.1.2, including the lazy
// vote externalization step: if this replica is holding a pending
// vote for the current term, it releases that vote instead of
// starting its own candidacy, since its own timer firing without a
// contradicting leader heartbeat is exactly the signal lazy voting
// waits for.
func (n *Node) handleElectionTimeout(ev ElectionTimeoutEvent) {
	if ev.Term != n.state.term {
		return
	}

	if n.state.lazy.valid && n.state.lazy.term == n.state.term {
		candidate := n.state.lazy.candidateId
		n.state.lazy.valid = false
		n.sendVote(candidate, true)
		n.logger.LogVoteGranted(n.id, n.state.term, candidate)
		n.timers.resetElection(n.state.term)
		return
	}

	n.becomeCandidate()
}

// handleHeartbeatTimeout implements spec §4.4: a leader re-sends
// AppendEntries to every follower on a fixed interval regardless of
// pending log work, so followers never mistake a quiet log for an
// absent leader.
func (n *Node) handleHeartbeatTimeout(ev HeartbeatTimeoutEvent) {
	if ev.Term != n.state.term || n.state.role != Leader {
		return
	}
	n.sendAppendEntriesTo(n.membership.Ids())
}

// handleCommand implements spec §4.1.9: replay-cache lookup first,
// then either leader-side log append or follower-side forward/redirect.
func (n *Node) handleCommand(clientId ClientId, cmd Command) {
	if entry, ok := n.state.replay[cmd.replayKey()]; ok {
		n.metrics.ReplayHits.Inc()
		n.logger.LogReplayHit(n.id, cmd.ClientId, cmd.RequestId)
		if entry.has {
			n.sender.send(NodeId(clientId), entry.response)
		}
		return
	}

	if n.state.role != Leader {
		if n.state.hasLeader && !n.state.ignoreLeader {
			n.sender.forwardCommand(n.state.currentLeader, cmd)
			return
		}
		n.sender.send(NodeId(clientId), CommandResponse{
			LeaderHint:  n.state.currentLeader,
			ResponderId: n.id,
			RequestId:   cmd.RequestId,
		})
		return
	}

	n.state.log = append(n.state.log, LogEntry{Term: n.state.term, Command: cmd})
	n.sendAppendEntriesTo(n.membership.Ids())
	n.advanceCommitByQuorum()
}

// handleRevolution implements spec §4.1.10 (Glossary "Revolution"): a
// client can ask every replica to stop recognizing a specific leader.
// A replica only honors it when the named leader matches the one it
// currently believes in, so a stale Revolution naming an
// already-superseded leader is a silent no-op. Each (ClientId,
// Signature) pair is honored at most once: an honored Revolution
// leaves a no-result entry in the replay cache.
func (n *Node) handleRevolution(clientId ClientId, rev Revolution) {
	key := replayKey{clientId: rev.ClientId, sig: string(rev.Signature)}
	if _, used := n.state.replay[key]; used {
		return
	}
	if !n.state.hasLeader || n.state.currentLeader != rev.LeaderId {
		return
	}
	n.state.replay[key] = replayEntry{}
	n.state.ignoreLeader = true
	n.logger.LogRevolution(n.id, clientId, rev.LeaderId)
}
