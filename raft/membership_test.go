package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMembership_RejectsSelfAsPeer(t *testing.T) {
	_, err := NewMembership("a", []PeerInfo{{Id: "a"}, {Id: "b"}})
	require.Error(t, err)
}

func TestMembership_SizeCountsSelf(t *testing.T) {
	m, err := NewMembership("a", []PeerInfo{{Id: "b"}, {Id: "c"}, {Id: "d"}})
	require.NoError(t, err)
	require.Equal(t, 4, m.Size())
	require.ElementsMatch(t, []NodeId{"b", "c", "d"}, m.Ids())
}

func TestMembership_PeerLookup(t *testing.T) {
	m, err := NewMembership("a", []PeerInfo{{Id: "b", Address: "host:1", PublicKey: []byte("key-b")}})
	require.NoError(t, err)

	p, ok := m.Peer("b")
	require.True(t, ok)
	require.Equal(t, "host:1", p.Address)

	_, ok = m.Peer("missing")
	require.False(t, ok)

	key, ok := m.PublicKey("b")
	require.True(t, ok)
	require.Equal(t, []byte("key-b"), key)
}
