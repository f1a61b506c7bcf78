package raft

import "fmt"

// Sender is the only component that constructs, signs, and dispatches
// outbound RPCs (spec §4.3). The handler never calls Transport.Send
// directly; it always goes through a Sender so that every outbound
// message is signed uniformly, with one exception spec §4.1.9 calls
// out: a CMD forwarded verbatim to the current leader keeps the
// original client signature instead of being re-signed by the
// forwarder.
type Sender struct {
	self      NodeId
	peers     []NodeId
	transport Transport
	crypto    *CryptoGate
}

func newSender(self NodeId, peers []NodeId, transport Transport, crypto *CryptoGate) *Sender {
	return &Sender{self: self, peers: peers, transport: transport, crypto: crypto}
}

// send signs rpc with this node's own key and hands the resulting
// (payload, signature) pair to the transport for delivery to a single
// peer. The signature covers signingBytes(rpc), which for variants
// that embed their own signature-shaped field is computed with that
// field cleared; the field is then populated before encoding the
// transmitted payload so it never has to cover itself.
func (s *Sender) send(to NodeId, rpc RPC) error {
	msg, err := signingBytes(rpc)
	if err != nil {
		return fmt.Errorf("raft: compute signing bytes for %s: %w", to, err)
	}
	sig, err := s.crypto.sign(msg)
	if err != nil {
		return fmt.Errorf("raft: sign outbound rpc to %s: %w", to, err)
	}
	payload, err := encodeRPC(withSignature(rpc, sig))
	if err != nil {
		return fmt.Errorf("raft: encode outbound rpc to %s: %w", to, err)
	}
	return s.transport.Send(to, payload, sig)
}

// forwardCommand relays a client Command to the current leader,
// keeping the client's own signature as the transport signature
// instead of re-signing with the forwarder's key (spec §4.1.9).
func (s *Sender) forwardCommand(to NodeId, cmd Command) error {
	payload, err := encodeRPC(cmd)
	if err != nil {
		return fmt.Errorf("raft: encode forwarded command to %s: %w", to, err)
	}
	return s.transport.Send(to, payload, cmd.Signature)
}

// broadcast sends rpc to every other replica, signing once and reusing
// the same signed payload for each peer (the payload is identical
// across peers; only the destination differs).
func (s *Sender) broadcast(rpc RPC) []error {
	msg, err := signingBytes(rpc)
	if err != nil {
		return []error{fmt.Errorf("raft: compute signing bytes for broadcast: %w", err)}
	}
	sig, err := s.crypto.sign(msg)
	if err != nil {
		return []error{fmt.Errorf("raft: sign broadcast rpc: %w", err)}
	}
	payload, err := encodeRPC(withSignature(rpc, sig))
	if err != nil {
		return []error{fmt.Errorf("raft: encode broadcast rpc: %w", err)}
	}
	var errs []error
	for _, peer := range s.peers {
		if peer == s.self {
			continue
		}
		if err := s.transport.Send(peer, payload, sig); err != nil {
			errs = append(errs, fmt.Errorf("raft: send to %s: %w", peer, err))
		}
	}
	return errs
}
