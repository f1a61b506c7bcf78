package raft

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v4"
)

// rpcTag discriminates the RPC sum type on the wire. The values are
// part of the wire contract: changing one breaks compatibility with
// already-deployed peers, so existing tags are never renumbered.
type rpcTag uint8

const (
	tagAppendEntries rpcTag = iota + 1
	tagAppendEntriesResponse
	tagRequestVote
	tagRequestVoteResponse
	tagCommand
	tagCommandResponse
	tagRevolution
	tagDebug
)

// rpcEnvelope is the msgpack wrapper every encoded RPC travels inside:
// a tag naming which variant follows, plus that variant's own msgpack
// encoding. msgpack (rather than encoding/gob) is used here because
// gob requires registering every concrete type with every decoder
// instance and does not give a stable, language-neutral tag the way a
// one-byte discriminant plus a self-contained msgpack value does.
type rpcEnvelope struct {
	Tag  rpcTag
	Body []byte
}

// encodeRPC serializes rpc into the canonical bytes that get signed
// and transmitted as payload_bytes (spec §6).
func encodeRPC(rpc RPC) ([]byte, error) {
	var tag rpcTag
	var body interface{}

	switch v := rpc.(type) {
	case AppendEntries:
		tag, body = tagAppendEntries, v
	case AppendEntriesResponse:
		tag, body = tagAppendEntriesResponse, v
	case RequestVote:
		tag, body = tagRequestVote, v
	case RequestVoteResponse:
		tag, body = tagRequestVoteResponse, v
	case Command:
		tag, body = tagCommand, v
	case CommandResponse:
		tag, body = tagCommandResponse, v
	case Revolution:
		tag, body = tagRevolution, v
	case Debug:
		tag, body = tagDebug, v
	default:
		return nil, fmt.Errorf("raft: unknown rpc type %T", rpc)
	}

	bodyBytes, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("raft: marshal rpc body: %w", err)
	}
	return msgpack.Marshal(rpcEnvelope{Tag: tag, Body: bodyBytes})
}

// EncodeRPC is the exported form of encodeRPC, used by callers outside
// this package (the transport package's tests, cmd/client) that need
// to produce wire bytes for an RPC directly.
func EncodeRPC(rpc RPC) ([]byte, error) {
	return encodeRPC(rpc)
}

// SigningBytes is the exported form of signingBytes.
func SigningBytes(rpc RPC) ([]byte, error) {
	return signingBytes(rpc)
}

// WithSignature is the exported form of withSignature.
func WithSignature(rpc RPC, sig Signature) RPC {
	return withSignature(rpc, sig)
}

// DecodeInbound decodes a wire payload into an InboundRPCEvent. It is
// the boundary a Transport implementation calls at once it has
// resolved who sent a frame: a peer NodeId, or a client ClientId with
// isClient set.
func DecodeInbound(payload []byte, sig Signature, from NodeId, isClient bool, client ClientId) (InboundRPCEvent, error) {
	rpc, err := decodeRPC(payload)
	if err != nil {
		return InboundRPCEvent{}, err
	}
	return InboundRPCEvent{From: from, RPC: rpc, Sig: sig, IsClient: isClient, ClientId: client}, nil
}

// signingBytes returns the canonical bytes a signature over rpc must
// cover. Command, RequestVoteResponse, CommandResponse, and Revolution
// each embed their own signature-shaped field (Signature, Signature,
// Proof, Signature); that field is cleared before encoding so the
// signature never has to cover itself. Other variants have no such
// field and sign their full encoding.
func signingBytes(rpc RPC) ([]byte, error) {
	switch v := rpc.(type) {
	case Command:
		v.Signature = nil
		return encodeRPC(v)
	case RequestVoteResponse:
		v.Signature = nil
		return encodeRPC(v)
	case CommandResponse:
		v.Proof = nil
		return encodeRPC(v)
	case Revolution:
		v.Signature = nil
		return encodeRPC(v)
	default:
		return encodeRPC(rpc)
	}
}

// withSignature returns a copy of rpc with its embedded signature-
// shaped field (if any) set to sig.
func withSignature(rpc RPC, sig Signature) RPC {
	switch v := rpc.(type) {
	case Command:
		v.Signature = sig
		return v
	case RequestVoteResponse:
		v.Signature = sig
		return v
	case CommandResponse:
		v.Proof = sig
		return v
	case Revolution:
		v.Signature = sig
		return v
	default:
		return rpc
	}
}

// decodeRPC reverses encodeRPC, recovering the concrete RPC variant
// from its wire bytes.
func decodeRPC(payload []byte) (RPC, error) {
	var env rpcEnvelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("raft: unmarshal rpc envelope: %w", err)
	}

	switch env.Tag {
	case tagAppendEntries:
		var v AppendEntries
		if err := msgpack.Unmarshal(env.Body, &v); err != nil {
			return nil, fmt.Errorf("raft: unmarshal AppendEntries: %w", err)
		}
		return v, nil
	case tagAppendEntriesResponse:
		var v AppendEntriesResponse
		if err := msgpack.Unmarshal(env.Body, &v); err != nil {
			return nil, fmt.Errorf("raft: unmarshal AppendEntriesResponse: %w", err)
		}
		return v, nil
	case tagRequestVote:
		var v RequestVote
		if err := msgpack.Unmarshal(env.Body, &v); err != nil {
			return nil, fmt.Errorf("raft: unmarshal RequestVote: %w", err)
		}
		return v, nil
	case tagRequestVoteResponse:
		var v RequestVoteResponse
		if err := msgpack.Unmarshal(env.Body, &v); err != nil {
			return nil, fmt.Errorf("raft: unmarshal RequestVoteResponse: %w", err)
		}
		return v, nil
	case tagCommand:
		var v Command
		if err := msgpack.Unmarshal(env.Body, &v); err != nil {
			return nil, fmt.Errorf("raft: unmarshal Command: %w", err)
		}
		return v, nil
	case tagCommandResponse:
		var v CommandResponse
		if err := msgpack.Unmarshal(env.Body, &v); err != nil {
			return nil, fmt.Errorf("raft: unmarshal CommandResponse: %w", err)
		}
		return v, nil
	case tagRevolution:
		var v Revolution
		if err := msgpack.Unmarshal(env.Body, &v); err != nil {
			return nil, fmt.Errorf("raft: unmarshal Revolution: %w", err)
		}
		return v, nil
	case tagDebug:
		var v Debug
		if err := msgpack.Unmarshal(env.Body, &v); err != nil {
			return nil, fmt.Errorf("raft: unmarshal Debug: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("raft: unknown rpc tag %d", env.Tag)
	}
}
