// Package keys provides the concrete Signer/Verifier raft.Node is
// wired with. Signing itself is deliberately built on the standard
// library's crypto/ed25519 rather than a third-party package: it is
// the certified, canonical modern Go implementation of the primitive,
// and golang.org/x/crypto/ed25519 (seen elsewhere in the retrieved
// corpus) is itself documented as a deprecated forwarding shim to this
// same package on any Go toolchain new enough to run this module.
package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sync"

	"bftraft/raft"
)

// Ed25519Signer signs with a single node's private key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewSigner parses a hex-encoded ed25519 private key.
func NewSigner(hexKey string) (*Ed25519Signer, error) {
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("keys: decode private key: %w", err)
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keys: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	return &Ed25519Signer{priv: ed25519.PrivateKey(b)}, nil
}

func (s *Ed25519Signer) Sign(message []byte) (raft.Signature, error) {
	return raft.Signature(ed25519.Sign(s.priv, message)), nil
}

// Ed25519Verifier verifies signatures against a registry of known
// public keys, for both replicas and clients.
type Ed25519Verifier struct {
	mu      sync.RWMutex
	nodes   map[raft.NodeId]ed25519.PublicKey
	clients map[raft.ClientId]ed25519.PublicKey
}

// NewVerifier builds an empty registry; callers populate it with
// AddNodeKey/AddClientKey as config is loaded.
func NewVerifier() *Ed25519Verifier {
	return &Ed25519Verifier{
		nodes:   make(map[raft.NodeId]ed25519.PublicKey),
		clients: make(map[raft.ClientId]ed25519.PublicKey),
	}
}

// AddNodeKey registers a replica's hex-encoded public key.
func (v *Ed25519Verifier) AddNodeKey(id raft.NodeId, hexKey string) error {
	pub, err := decodePublicKey(hexKey)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nodes[id] = pub
	return nil
}

// AddClientKey registers a client's hex-encoded public key.
func (v *Ed25519Verifier) AddClientKey(id raft.ClientId, hexKey string) error {
	pub, err := decodePublicKey(hexKey)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clients[id] = pub
	return nil
}

func decodePublicKey(hexKey string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("keys: decode public key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("keys: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}

func (v *Ed25519Verifier) Verify(signerId raft.NodeId, message []byte, sig raft.Signature) bool {
	v.mu.RLock()
	pub, ok := v.nodes[signerId]
	v.mu.RUnlock()
	if !ok {
		return false
	}
	return ed25519.Verify(pub, message, []byte(sig))
}

func (v *Ed25519Verifier) VerifyClient(clientId raft.ClientId, message []byte, sig raft.Signature) bool {
	v.mu.RLock()
	pub, ok := v.clients[clientId]
	v.mu.RUnlock()
	if !ok {
		return false
	}
	return ed25519.Verify(pub, message, []byte(sig))
}
