package raft

import "sync"

// Node wires the consensus core's collaborators together and owns the
// single event loop goroutine (spec §5). Everything that can mutate
// NodeState runs on that one goroutine; every other method documented
// as safe to call concurrently only ever reads copies or pushes an
// Event.
type Node struct {
	id         NodeId
	quorumSize int

	state      *NodeState
	membership *Membership
	crypto     *CryptoGate
	sender     *Sender
	timers     *TimerFacility
	transport  Transport
	sm         StateMachine
	logger     *Logger
	metrics    *Metrics

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewNode constructs a Node in the initial Follower state. Run must be
// called to actually start the event loop and timers.
func NewNode(cfg Config, membership *Membership, transport Transport, sm StateMachine, logger *Logger, metrics *Metrics) *Node {
	n := &Node{
		id:         cfg.NodeId,
		quorumSize: cfg.QuorumSize,
		state:      newNodeState(cfg.NodeId),
		membership: membership,
		crypto:     newCryptoGate(cfg.Signer, cfg.Verifier),
		transport:  transport,
		sm:         sm,
		logger:     logger,
		metrics:    metrics,
		events:     make(chan Event, 256),
		done:       make(chan struct{}),
	}
	n.sender = newSender(cfg.NodeId, append(membership.Ids(), cfg.NodeId), transport, n.crypto)
	n.timers = newTimerFacility(cfg.ElectionMin, cfg.ElectionMax, cfg.Heartbeat, n.pushEvent)
	return n
}

// pushEvent is the only way anything outside the handler goroutine
// gets an occurrence onto the queue. While the queue is full it waits
// for the handler goroutine, the sole consumer, to make room; once
// Stop has been called it returns without enqueuing.
func (n *Node) pushEvent(e Event) {
	select {
	case n.events <- e:
	case <-n.done:
	}
}

// Run starts the background receive goroutine and the event loop, and
// blocks until Stop is called. A transport that closes on its own
// only ends the receive goroutine; the loop keeps handling timer
// events until Stop. Callers typically run it in its own goroutine.
func (n *Node) Run() {
	n.wg.Add(1)
	go n.recvLoop()

	n.timers.resetElection(n.state.term)

	for {
		select {
		case e := <-n.events:
			n.handleEvent(e)
		case <-n.done:
			n.timers.stopAll()
			n.wg.Wait()
			return
		}
	}
}

// recvLoop is the single background goroutine allowed to call
// Transport.Recv; it forwards everything onto the shared event queue
// and exits when the transport closes or Stop is called.
func (n *Node) recvLoop() {
	defer n.wg.Done()
	for {
		ev, ok := n.transport.Recv()
		if !ok {
			return
		}
		select {
		case n.events <- ev:
		case <-n.done:
			return
		}
	}
}

// Stop closes the event loop and the underlying transport. It is safe
// to call once; calling it twice panics on a closed channel, matching
// Go's own close semantics rather than silently ignoring misuse.
func (n *Node) Stop() {
	close(n.done)
	_ = n.transport.Close()
}

// Submit enqueues a client Command or Revolution as though it had
// arrived over the transport, used by in-process tests and by a
// co-located client. As on the wire, the event's signature is the
// one embedded in the Command or Revolution.
func (n *Node) Submit(rpc RPC, clientId ClientId) {
	var sig Signature
	switch v := rpc.(type) {
	case Command:
		sig = v.Signature
	case Revolution:
		sig = v.Signature
	}
	n.pushEvent(InboundRPCEvent{From: n.id, RPC: rpc, Sig: sig, IsClient: true, ClientId: clientId})
}
