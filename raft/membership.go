package raft

import "fmt"

// PeerInfo is everything the rest of the node needs to know about one
// other replica: where to dial it and which public key verifies its
// signatures.
type PeerInfo struct {
	Id        NodeId
	Address   string
	PublicKey []byte
}

// Membership is the static replica directory a BFT-Raft node is
// configured with (spec §6: otherNodes, publicKeys). Adapted from the
// teacher's node registry: that type additionally placed nodes on a
// consistent-hash ring for shard ownership, a concern that does not
// exist here — a BFT-Raft replica set is a single fixed group, not a
// set of shards, so the ring and its rebalancing methods are dropped
// and only the id-keyed directory survives.
type Membership struct {
	self  NodeId
	peers map[NodeId]PeerInfo
}

// NewMembership builds a directory from the given peer list. self must
// not appear in peers; it is tracked separately so broadcast logic
// never mistakes the local replica for a remote one.
func NewMembership(self NodeId, peers []PeerInfo) (*Membership, error) {
	m := &Membership{self: self, peers: make(map[NodeId]PeerInfo, len(peers))}
	for _, p := range peers {
		if p.Id == self {
			return nil, fmt.Errorf("raft: membership includes self %q as a peer", self)
		}
		m.peers[p.Id] = p
	}
	return m, nil
}

// Peer returns the directory entry for id and whether it was found.
func (m *Membership) Peer(id NodeId) (PeerInfo, bool) {
	p, ok := m.peers[id]
	return p, ok
}

// Ids returns every known peer id, excluding self, in no particular
// order.
func (m *Membership) Ids() []NodeId {
	ids := make([]NodeId, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	return ids
}

// Size returns n, the total replica count including self — callers
// derive the BFT tolerance f = (n-1)/3 and the quorum size 2f+1 from
// this.
func (m *Membership) Size() int {
	return len(m.peers) + 1
}

// PublicKey looks up a peer's public key for signature verification.
func (m *Membership) PublicKey(id NodeId) ([]byte, bool) {
	p, ok := m.peers[id]
	if !ok {
		return nil, false
	}
	return p.PublicKey, true
}
