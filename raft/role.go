package raft

// becomeFollower drops the replica back to Follower for newTerm,
// clearing all candidate- and leader-only state. It is the landing
// point for every "I've seen a higher term" or "I've seen a
// legitimate leader" transition (spec §4.1.1, §4.1.2, §4.1.4).
func (n *Node) becomeFollower(newTerm Term, leader NodeId, hasLeader bool) {
	oldRole, oldTerm := n.state.role, n.state.term

	if newTerm != oldTerm {
		reason := "observed higher term"
		if hasLeader {
			reason = "observed legitimate leader"
		}
		n.logger.LogSteppedDown(n.id, oldTerm, newTerm, reason)
	}

	n.state.role = Follower
	n.state.term = newTerm
	n.state.hasVotedFor = false
	n.state.lazy = lazyVote{}
	n.state.currentLeader = leader
	n.state.hasLeader = hasLeader
	n.state.ignoreLeader = false

	n.state.nextIndex = nil
	n.state.matchIndex = nil
	n.state.convinced = nil
	n.state.quorumCert = nil
	n.state.yesVotes = nil
	n.state.potentialVoters = nil

	n.timers.stopHeartbeat()
	n.timers.resetElection(newTerm)

	n.logger.LogStateChange(n.id, oldRole, Follower, newTerm)
	n.metrics.CurrentTerm.Set(float64(newTerm))
	n.metrics.Role.Set(float64(Follower))
	if oldTerm != newTerm {
		n.metrics.TermAdvances.Inc()
	}
}

// becomeCandidate starts a new election: advances the term, votes for
// itself, and broadcasts RequestVote to every peer (spec §4.1.2).
func (n *Node) becomeCandidate() {
	newTerm := n.state.term + 1

	n.state.role = Candidate
	n.state.term = newTerm
	n.state.votedFor = n.id
	n.state.hasVotedFor = true
	n.state.lazy = lazyVote{}
	n.state.hasLeader = false
	n.state.ignoreLeader = false

	n.state.yesVotes = make(map[rvrKey]RequestVoteResponse)
	n.state.potentialVoters = make(map[NodeId]bool)
	for _, id := range n.membership.Ids() {
		n.state.potentialVoters[id] = true
	}

	n.timers.resetElection(newTerm)

	n.logger.LogStateChange(n.id, Follower, Candidate, newTerm)
	n.logger.LogElectionStarted(n.id, newTerm)
	n.metrics.ElectionsStarted.Inc()
	n.metrics.CurrentTerm.Set(float64(newTerm))
	n.metrics.Role.Set(float64(Candidate))

	lastIndex, lastTerm := n.state.lastLogIndexAndTerm()
	n.sender.broadcast(RequestVote{
		Term:         newTerm,
		CandidateId:  n.id,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	})
}

// becomeLeader promotes a candidate that has collected a quorum of
// yes votes. The collected vote set becomes this term's quorum
// certificate: every AppendEntries sent this term carries it
// unchanged, so followers can validate leadership without asking
// around themselves (spec §9, certificate caching).
func (n *Node) becomeLeader() {
	cert := make([]RequestVoteResponse, 0, len(n.state.yesVotes))
	for _, v := range n.state.yesVotes {
		cert = append(cert, v)
	}

	n.state.role = Leader
	n.state.currentLeader = n.id
	n.state.hasLeader = true
	n.state.quorumCert = cert
	n.state.yesVotes = nil
	n.state.potentialVoters = nil

	lastIndex := n.state.lastIndex()
	n.state.nextIndex = make(map[NodeId]LogIndex)
	n.state.matchIndex = make(map[NodeId]LogIndex)
	n.state.convinced = make(map[NodeId]bool)
	for _, id := range n.membership.Ids() {
		n.state.nextIndex[id] = lastIndex + 1
		n.state.matchIndex[id] = StartIndex
		n.state.convinced[id] = false
	}

	n.timers.stopElection()
	n.timers.startHeartbeat(n.state.term)

	n.logger.LogStateChange(n.id, Candidate, Leader, n.state.term)
	n.logger.LogElectionWon(n.id, n.state.term, len(cert))
	n.metrics.ElectionsWon.Inc()
	n.metrics.Role.Set(float64(Leader))

	n.sendAppendEntriesTo(n.membership.Ids())
}
