package raft

import "fmt"

// Signer produces a signature over an arbitrary message using the
// node's own private key. Implementations live outside this package
// (spec §1: crypto primitives are out of scope for the core).
type Signer interface {
	Sign(message []byte) (Signature, error)
}

// Verifier checks a signature against a claimed signer's public key.
// A node's wired Verifier must know every replica's and every client's
// public key (spec §6: publicKeys, clientPublicKeys).
type Verifier interface {
	Verify(signerId NodeId, message []byte, sig Signature) bool
	VerifyClient(clientId ClientId, message []byte, sig Signature) bool
}

// CryptoGate wraps a Signer/Verifier pair and is the single point
// every inbound and outbound RPC passes through (spec §4.2). It never
// holds key material itself; it only orchestrates the calls.
type CryptoGate struct {
	signer   Signer
	verifier Verifier
}

func newCryptoGate(signer Signer, verifier Verifier) *CryptoGate {
	return &CryptoGate{signer: signer, verifier: verifier}
}

// sign produces the signature a Sender attaches to an outbound RPC's
// canonical byte encoding.
func (g *CryptoGate) sign(message []byte) (Signature, error) {
	if g.signer == nil {
		return nil, fmt.Errorf("raft: no signer configured")
	}
	return g.signer.Sign(message)
}

// verifyPeer checks that sig is a valid signature by the named replica
// over message. Any failure (unknown signer, bad signature) is treated
// identically: the RPC is rejected, never panicked on (spec §7:
// cryptographic failures are recoverable, expected conditions).
func (g *CryptoGate) verifyPeer(nodeId NodeId, message []byte, sig Signature) bool {
	if g.verifier == nil {
		return false
	}
	return g.verifier.Verify(nodeId, message, sig)
}

// verifyClient checks that sig is a valid signature by the named
// client over message.
func (g *CryptoGate) verifyClient(clientId ClientId, message []byte, sig Signature) bool {
	if g.verifier == nil {
		return false
	}
	return g.verifier.VerifyClient(clientId, message, sig)
}
