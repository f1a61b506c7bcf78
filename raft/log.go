package raft

// lastLogIndexAndTerm returns the index and term of the last log
// entry, or (StartIndex, 0) for an empty log. Grounded on the classic
// ConsensusModule.lastLogIndexAndTerm helper: candidates and leaders
// need this pair together often enough that splitting it invites bugs.
func (s *NodeState) lastLogIndexAndTerm() (LogIndex, Term) {
	if len(s.log) == 0 {
		return StartIndex, 0
	}
	last := s.lastIndex()
	return last, s.log[last].Term
}

// prevLogMatches reports whether the receiver's log agrees with the
// leader's claim at (prevIndex, prevTerm): either prevIndex is the
// start sentinel (nothing to check), or the receiver has an entry
// there with a matching term (spec §4.1.1, AE handling step 2).
func (s *NodeState) prevLogMatches(prevIndex LogIndex, prevTerm Term) bool {
	if prevIndex == StartIndex {
		return true
	}
	entry, ok := s.entryAt(prevIndex)
	if !ok {
		return false
	}
	return entry.Term == prevTerm
}

// appendFrom truncates the log to prevIndex+1 and appends entries,
// unconditionally, per spec §9's resolved Open Question: truncation
// happens even when the new entries agree with the existing suffix,
// not only on a genuine conflict.
func (s *NodeState) appendFrom(prevIndex LogIndex, entries []LogEntry) {
	keep := int64(prevIndex) + 1
	if keep < 0 {
		keep = 0
	}
	if keep > int64(len(s.log)) {
		keep = int64(len(s.log))
	}
	s.log = append(s.log[:keep:keep], entries...)
}

// isAtLeastAsUpToDate reports whether (candidateLastIndex,
// candidateLastTerm) is at least as up to date as the receiver's own
// log, per the standard Raft up-to-date rule: higher term wins; on a
// term tie, longer (or equal) log wins.
func (s *NodeState) isAtLeastAsUpToDate(candidateLastIndex LogIndex, candidateLastTerm Term) bool {
	lastIndex, lastTerm := s.lastLogIndexAndTerm()
	if candidateLastTerm != lastTerm {
		return candidateLastTerm > lastTerm
	}
	return candidateLastIndex >= lastIndex
}

// eligiblePrefixEnd returns the highest index i such that every entry
// in [commitIndex+1, i] that belongs to the given term is backed by a
// quorum of matchIndex values reaching at least i. It implements the
// "prefix of eligible indices, not the maximum matched index" commit
// rule from spec §4.1.5: a leader may only advance commitIndex through
// entries from its own current term, but older-term entries it
// inherited are merely skipped, not a reason to abort the scan. A
// leader that aborted there could get stuck unable to ever advance
// commitIndex again for its whole term.
func eligiblePrefixEnd(commitIndex LogIndex, log []LogEntry, currentTerm Term, matchIndex map[NodeId]LogIndex, quorumSize int) LogIndex {
	highest := commitIndex
	for i := int64(commitIndex) + 1; i < int64(len(log)); i++ {
		idx := LogIndex(i)
		if log[idx].Term != currentTerm {
			continue
		}
		count := 1 // the leader itself
		for _, matched := range matchIndex {
			if matched >= idx {
				count++
			}
		}
		if count < quorumSize {
			break
		}
		highest = idx
	}
	return highest
}
