package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"bftraft/raft"
)

// GRPCTransport implements raft.Transport over a mesh of bidirectional
// gRPC streams: one outbound stream per destination this node sends
// to, opened lazily and kept open, and one inbound stream per remote
// party that dials in. It is used identically by a replica and by the
// CLI client (cmd/client) — the only difference is the "kind" each
// side announces on its outgoing metadata.
type GRPCTransport struct {
	self     raft.NodeId
	isClient bool

	server   *grpc.Server
	listener net.Listener

	mu      sync.Mutex
	addrs   map[raft.NodeId]string
	streams map[raft.NodeId]grpc.ClientStream
	conns   map[raft.NodeId]*grpc.ClientConn

	events chan raft.InboundRPCEvent
	closed chan struct{}
	once   sync.Once
}

// NewGRPCTransport starts a server on listenAddr announcing identity
// self. isClient distinguishes a CLI client's transport (its RPCs are
// client-signed Commands/Revolutions) from a replica's.
func NewGRPCTransport(listenAddr string, self raft.NodeId, isClient bool) (*GRPCTransport, error) {
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", listenAddr, err)
	}

	t := &GRPCTransport{
		self:     self,
		isClient: isClient,
		addrs:    make(map[raft.NodeId]string),
		streams:  make(map[raft.NodeId]grpc.ClientStream),
		conns:    make(map[raft.NodeId]*grpc.ClientConn),
		events:   make(chan raft.InboundRPCEvent, 256),
		closed:   make(chan struct{}),
		listener: lis,
	}

	t.server = grpc.NewServer()
	t.server.RegisterService(&serviceDesc, t)
	go func() { _ = t.server.Serve(lis) }()

	return t, nil
}

// AddPeer registers the dial address for a destination id, whether it
// names a replica or a client.
func (t *GRPCTransport) AddPeer(id raft.NodeId, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addrs[id] = addr
}

// PeerIds returns every destination id registered via AddPeer.
func (t *GRPCTransport) PeerIds() []raft.NodeId {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]raft.NodeId, 0, len(t.addrs))
	for id := range t.addrs {
		ids = append(ids, id)
	}
	return ids
}

// Send implements raft.Transport. It lazily dials and caches a client
// stream per destination, reusing it across calls.
func (t *GRPCTransport) Send(to raft.NodeId, message []byte, sig raft.Signature) error {
	stream, err := t.streamTo(to)
	if err != nil {
		return err
	}
	envelope := raft.EncodeEnvelope(message, sig)
	if err := stream.SendMsg(&frame{data: envelope}); err != nil {
		t.mu.Lock()
		delete(t.streams, to)
		t.mu.Unlock()
		return fmt.Errorf("transport: send to %s: %w", to, err)
	}
	return nil
}

func (t *GRPCTransport) streamTo(to raft.NodeId) (grpc.ClientStream, error) {
	t.mu.Lock()
	if s, ok := t.streams[to]; ok {
		t.mu.Unlock()
		return s, nil
	}
	addr, ok := t.addrs[to]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("transport: no known address for %s", to)
	}

	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(frameCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	kind := "peer"
	if t.isClient {
		kind = "client"
	}
	ctx := metadata.NewOutgoingContext(context.Background(), metadata.Pairs("kind", kind, "id", string(t.self)))

	stream, err := cc.NewStream(ctx, clientStreamDesc, fullStreamMethod)
	if err != nil {
		cc.Close()
		return nil, fmt.Errorf("transport: open stream to %s: %w", addr, err)
	}

	t.mu.Lock()
	t.streams[to] = stream
	t.conns[to] = cc
	t.mu.Unlock()

	return stream, nil
}

// handleStream is invoked once per inbound connection. The caller's
// identity is read once from the stream's incoming metadata and
// attributed to every frame that arrives on it.
func (t *GRPCTransport) handleStream(stream grpc.ServerStream) error {
	from, isClient, err := identityFromContext(stream.Context())
	if err != nil {
		return err
	}

	for {
		var f frame
		if err := stream.RecvMsg(&f); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		payload, sig, err := raft.DecodeEnvelope(f.data)
		if err != nil {
			continue // malformed frame from a misbehaving peer; drop and keep the stream open
		}

		var ev raft.InboundRPCEvent
		if isClient {
			ev, err = raft.DecodeInbound(payload, sig, "", true, raft.ClientId(from))
		} else {
			ev, err = raft.DecodeInbound(payload, sig, raft.NodeId(from), false, "")
		}
		if err != nil {
			continue
		}

		select {
		case t.events <- ev:
		case <-t.closed:
			return nil
		}
	}
}

func identityFromContext(ctx context.Context) (id string, isClient bool, err error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false, fmt.Errorf("transport: no metadata on inbound stream")
	}
	kinds := md.Get("kind")
	ids := md.Get("id")
	if len(kinds) == 0 || len(ids) == 0 {
		return "", false, fmt.Errorf("transport: missing kind/id metadata on inbound stream")
	}
	return ids[0], kinds[0] == "client", nil
}

// Recv implements raft.Transport.
func (t *GRPCTransport) Recv() (raft.InboundRPCEvent, bool) {
	select {
	case ev := <-t.events:
		return ev, true
	case <-t.closed:
		return raft.InboundRPCEvent{}, false
	}
}

// Close stops the server and every outbound connection. Calls after
// the first do nothing.
func (t *GRPCTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.server.Stop()
		t.mu.Lock()
		for _, cc := range t.conns {
			cc.Close()
		}
		t.mu.Unlock()
	})
	return nil
}
