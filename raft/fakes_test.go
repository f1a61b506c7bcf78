package raft

import (
	"bytes"
	"sync"
	"time"

	"go.uber.org/zap"
)

// fakeSigner/fakeVerifier implement a trivial, deterministic signature
// scheme for tests: "signing" just prepends the signer's id, so
// Verify can check it back without any real cryptography. This
// mirrors the teacher's MockStateMachine style of replacing an
// external collaborator with the simplest fake that exercises the
// same contract.
type fakeSigner struct {
	id NodeId
}

func (f fakeSigner) Sign(msg []byte) (Signature, error) {
	return Signature(append([]byte(string(f.id)+":"), msg...)), nil
}

type fakeClientSigner struct {
	id ClientId
}

func (f fakeClientSigner) Sign(msg []byte) (Signature, error) {
	return Signature(append([]byte(string(f.id)+":"), msg...)), nil
}

type fakeVerifier struct{}

func (fakeVerifier) Verify(id NodeId, msg []byte, sig Signature) bool {
	want := append([]byte(string(id)+":"), msg...)
	return bytes.Equal([]byte(sig), want)
}

func (fakeVerifier) VerifyClient(id ClientId, msg []byte, sig Signature) bool {
	want := append([]byte(string(id)+":"), msg...)
	return bytes.Equal([]byte(sig), want)
}

// fakeStateMachine records every applied entry in order; it never
// errors, matching the teacher's MockStateMachine.
type fakeStateMachine struct {
	mu      sync.Mutex
	applied [][]byte
}

func (f *fakeStateMachine) Apply(entry AppCommand) (CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, append([]byte(nil), entry...))
	return CommandResult(entry), nil
}

func (f *fakeStateMachine) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

// fakeNetwork wires a set of fakeTransports together in memory so
// handler-level tests can run a real multi-node election and
// replication round without any sockets.
type fakeNetwork struct {
	mu    sync.Mutex
	nodes map[NodeId]*fakeTransport
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{nodes: make(map[NodeId]*fakeTransport)}
}

func (n *fakeNetwork) register(id NodeId) *fakeTransport {
	t := &fakeTransport{net: n, self: id, events: make(chan InboundRPCEvent, 256), closed: make(chan struct{})}
	n.mu.Lock()
	n.nodes[id] = t
	n.mu.Unlock()
	return t
}

type fakeTransport struct {
	net    *fakeNetwork
	self   NodeId
	events chan InboundRPCEvent
	closed chan struct{}
	once   sync.Once

	dropTo map[NodeId]bool
}

func (t *fakeTransport) Send(to NodeId, message []byte, sig Signature) error {
	t.net.mu.Lock()
	dest, ok := t.net.nodes[to]
	dropped := t.dropTo != nil && t.dropTo[to]
	t.net.mu.Unlock()
	if dropped || !ok {
		return nil
	}

	rpc, err := decodeRPC(message)
	if err != nil {
		return err
	}
	ev := InboundRPCEvent{From: t.self, RPC: rpc, Sig: sig}
	if _, isCmd := rpc.(Command); isCmd {
		ev.IsClient = true
		ev.ClientId = ClientId(t.self)
	}
	if _, isRev := rpc.(Revolution); isRev {
		ev.IsClient = true
		ev.ClientId = ClientId(t.self)
	}

	go func() {
		select {
		case dest.events <- ev:
		case <-dest.closed:
		case <-time.After(time.Second):
		}
	}()
	return nil
}

func (t *fakeTransport) Recv() (InboundRPCEvent, bool) {
	select {
	case ev := <-t.events:
		return ev, true
	case <-t.closed:
		return InboundRPCEvent{}, false
	}
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// testCluster bundles n nodes wired to the same fakeNetwork, ready to
// Run(). Grounded on the teacher's createTestCluster/shutdownCluster
// helper pair (raft/election_test.go).
type testCluster struct {
	nodes []*Node
	sms   []*fakeStateMachine
}

func newTestCluster(n, quorum int) *testCluster {
	net := newFakeNetwork()
	ids := make([]NodeId, n)
	for i := range ids {
		ids[i] = NodeId(rune('a' + i))
	}

	verifier := fakeVerifier{}
	cluster := &testCluster{}

	for i, id := range ids {
		peers := make([]PeerInfo, 0, n-1)
		for _, other := range ids {
			if other != id {
				peers = append(peers, PeerInfo{Id: other})
			}
		}
		membership, err := NewMembership(id, peers)
		if err != nil {
			panic(err)
		}

		tr := net.register(id)
		sm := &fakeStateMachine{}
		logger := NewLogger(zap.NewNop())
		metrics := NewMetrics(nil, id)

		node := NewNode(Config{
			NodeId:      id,
			QuorumSize:  quorum,
			ElectionMin: 30 * time.Millisecond,
			ElectionMax: 60 * time.Millisecond,
			Heartbeat:   10 * time.Millisecond,
			Signer:      fakeSigner{id: id},
			Verifier:    verifier,
		}, membership, tr, sm, logger, metrics)

		cluster.nodes = append(cluster.nodes, node)
		cluster.sms = append(cluster.sms, sm)
	}
	return cluster
}

func (c *testCluster) run() {
	for _, n := range c.nodes {
		go n.Run()
	}
}

func (c *testCluster) stop() {
	for _, n := range c.nodes {
		n.Stop()
	}
}

func (c *testCluster) countLeaders() int {
	count := 0
	for _, n := range c.nodes {
		if n.state.role == Leader {
			count++
		}
	}
	return count
}

func (c *testCluster) leader() *Node {
	for _, n := range c.nodes {
		if n.state.role == Leader {
			return n
		}
	}
	return nil
}

// sentMessage records one call to recordingTransport.Send, decoded back
// to its RPC for assertions.
type sentMessage struct {
	to  NodeId
	rpc RPC
	sig Signature
}

// recordingTransport is a Transport that never delivers anywhere; it
// just remembers what a single Node, driven directly by test code
// rather than Run(), tried to send. Used for handler-level unit tests
// that need to inspect exactly one replica's outbound traffic.
type recordingTransport struct {
	mu   sync.Mutex
	sent []sentMessage
	in   chan InboundRPCEvent
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{in: make(chan InboundRPCEvent, 16)}
}

func (t *recordingTransport) Send(to NodeId, message []byte, sig Signature) error {
	rpc, err := decodeRPC(message)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.sent = append(t.sent, sentMessage{to: to, rpc: rpc, sig: sig})
	t.mu.Unlock()
	return nil
}

func (t *recordingTransport) Recv() (InboundRPCEvent, bool) {
	ev, ok := <-t.in
	return ev, ok
}

func (t *recordingTransport) Close() error {
	close(t.in)
	return nil
}

func (t *recordingTransport) messagesTo(id NodeId) []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []sentMessage
	for _, m := range t.sent {
		if m.to == id {
			out = append(out, m)
		}
	}
	return out
}

// newTestNode builds a single Node wired to a recordingTransport and a
// fakeStateMachine, for tests that drive handleEvent directly instead
// of calling Run().
func newTestNode(id NodeId, peerIds []NodeId, quorum int) (*Node, *recordingTransport, *fakeStateMachine) {
	peers := make([]PeerInfo, 0, len(peerIds))
	for _, p := range peerIds {
		peers = append(peers, PeerInfo{Id: p})
	}
	membership, err := NewMembership(id, peers)
	if err != nil {
		panic(err)
	}

	tr := newRecordingTransport()
	sm := &fakeStateMachine{}
	node := NewNode(Config{
		NodeId:      id,
		QuorumSize:  quorum,
		ElectionMin: time.Hour,
		ElectionMax: 2 * time.Hour,
		Heartbeat:   time.Hour,
		Signer:      fakeSigner{id: id},
		Verifier:    fakeVerifier{},
	}, membership, tr, sm, NewLogger(zap.NewNop()), NewMetrics(nil, id))
	return node, tr, sm
}

// signedEvent signs rpc as if it came from signer and returns the inbound
// event a Transport would have produced for it.
func signedEvent(from NodeId, signer Signer, rpc RPC) InboundRPCEvent {
	msg, err := signingBytes(rpc)
	if err != nil {
		panic(err)
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		panic(err)
	}
	return InboundRPCEvent{From: from, RPC: withSignature(rpc, sig), Sig: sig}
}

func signedClientEvent(clientId ClientId, signer Signer, rpc RPC) InboundRPCEvent {
	msg, err := signingBytes(rpc)
	if err != nil {
		panic(err)
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		panic(err)
	}
	return InboundRPCEvent{IsClient: true, ClientId: clientId, RPC: withSignature(rpc, sig), Sig: sig}
}
