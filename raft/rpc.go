package raft

// RPC is the closed sum type of everything that travels between
// replicas and clients. Exactly one of the concrete types below is
// wrapped per message; the handler type-switches on it (handler.go).
type RPC interface {
	isRPC()
}

// AppendEntries replicates log entries (or, with Entries empty, serves
// as a heartbeat) and carries the leader's election certificate so a
// receiver can validate the sender's claim to leadership without a
// separate round trip.
type AppendEntries struct {
	Term         Term
	LeaderId     NodeId
	PrevLogIndex LogIndex
	PrevLogTerm  Term
	Entries      []LogEntry
	LeaderCommit LogIndex
	QuorumVotes  []RequestVoteResponse
}

func (AppendEntries) isRPC() {}

// AppendEntriesResponse answers an AppendEntries. Convinced and
// Success are orthogonal (spec §4.1.1): Convinced means "I accept you
// as leader of your stated term"; Success means "my log matched and I
// appended."
type AppendEntriesResponse struct {
	Term      Term
	NodeId    NodeId
	Convinced bool
	Success   bool
	Index     LogIndex
}

func (AppendEntriesResponse) isRPC() {}

// RequestVote solicits a vote for a candidacy.
type RequestVote struct {
	Term         Term
	CandidateId  NodeId
	LastLogIndex LogIndex
	LastLogTerm  Term
}

func (RequestVote) isRPC() {}

// RequestVoteResponse answers a RequestVote. Its Signature makes the
// struct itself non-comparable; callers collecting sets of these as
// election certificates key on rvrKey (term, candidate, voter) instead
// of the struct value. The certificate is embedded, verbatim, inside
// later AppendEntries RPCs.
type RequestVoteResponse struct {
	Term        Term
	CandidateId NodeId
	NodeId      NodeId
	VoteGranted bool
	Signature   Signature
}

func (RequestVoteResponse) isRPC() {}

// rvrKey is the comparable identity of an RVR for deduplicating a
// quorum certificate set: one vote per (term, candidate, voter).
type rvrKey struct {
	term        Term
	candidateId NodeId
	nodeId      NodeId
}

func (r RequestVoteResponse) key() rvrKey {
	return rvrKey{term: r.Term, candidateId: r.CandidateId, nodeId: r.NodeId}
}

func (Command) isRPC() {}

func (CommandResponse) isRPC() {}

// Revolution is a client-initiated request to stop recognizing a
// leader (spec §4.1.10, Glossary "Revolution").
type Revolution struct {
	ClientId  ClientId
	LeaderId  NodeId
	Signature Signature
}

func (Revolution) isRPC() {}

// Debug carries free-form diagnostic payloads between replicas; it is
// gated by the node key like any inter-replica RPC but never mutates
// consensus state.
type Debug struct {
	SenderId NodeId
	Text     string
}

func (Debug) isRPC() {}
