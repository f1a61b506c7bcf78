// Package raft implements the event-driven consensus core of a
// Byzantine-fault-tolerant Raft replica: the single-threaded reducer
// that turns timer and RPC events into state transitions and outbound
// RPCs. Transport, cryptographic primitives, persistence, and the
// application state machine are all consumed through narrow
// interfaces defined in this package and implemented elsewhere.
package raft

import "fmt"

// NodeId identifies a replica. It must be totally ordered and usable
// as a map key; callers typically use a stable string such as a host
// name or a hex-encoded public key fingerprint.
type NodeId string

// ClientId identifies a command-submitting client.
type ClientId string

// RequestId disambiguates multiple commands from the same client.
type RequestId string

// Signature is an opaque, cryptographically bound byte string. Its
// shape is owned by whatever Signer/Verifier implementation a node is
// wired with (raft.Signer / raft.Verifier); the core only ever
// compares, stores, and hashes it as bytes.
type Signature []byte

// String renders a short fingerprint for logging; it never prints the
// full signature.
func (s Signature) String() string {
	if len(s) == 0 {
		return "sig()"
	}
	n := len(s)
	if n > 4 {
		n = 4
	}
	return fmt.Sprintf("sig(%x…)", []byte(s)[:n])
}

// Term is a monotonically increasing election epoch. The zero value is
// the initial term before any election has occurred.
type Term uint64

// LogIndex addresses an entry in the replicated log. StartIndex is the
// sentinel meaning "before the first entry"; the first real entry sits
// at index 0.
type LogIndex int64

// StartIndex is the position immediately preceding the first log
// entry. AppendEntries RPCs use it as prevLogIndex when a leader has
// sent no entries yet to a follower.
const StartIndex LogIndex = -1

// AppCommand is the opaque application payload inside a Command. The
// core never interprets it; it is handed to the StateMachine verbatim.
type AppCommand []byte

// LogEntry is one slot of the replicated log.
type LogEntry struct {
	Term    Term
	Command Command
}

// Command is a client-submitted operation. (ClientId, Signature) is
// the unique replay key described in spec §3 — the same pair must
// always be looked up together, never ClientId or Signature alone.
type Command struct {
	Entry     AppCommand
	ClientId  ClientId
	RequestId RequestId
	Signature Signature
}

// replayKey is the comparable map key derived from a Command for the
// replay cache. Signature is converted to a string because Go map
// keys must be comparable and []byte is not.
type replayKey struct {
	clientId ClientId
	sig      string
}

func (c Command) replayKey() replayKey {
	return replayKey{clientId: c.ClientId, sig: string(c.Signature)}
}

// CommandResult is the application-defined outcome of applying a
// Command, returned by the StateMachine and echoed back in a
// CommandResponse.
type CommandResult []byte

// CommandResponse is sent back to the client that submitted a Command,
// either because it was just applied or because it is a replay of an
// already-answered request.
type CommandResponse struct {
	Result      CommandResult
	LeaderHint  NodeId
	ResponderId NodeId
	RequestId   RequestId
	Proof       Signature
}

// StateMachine is the external, deterministic application collaborator
// consumed by the handler's apply step (spec §4.1.6). Implementations
// must be deterministic across replicas: the same committed log prefix
// must produce the same sequence of results everywhere.
type StateMachine interface {
	Apply(entry AppCommand) (CommandResult, error)
}
