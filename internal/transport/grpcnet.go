package transport

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"gossipkv/internal/cluster"
)

const (
	serviceName   = "gossipkv.Transport"
	deliverMethod = "/" + serviceName + "/Deliver"

	// DefaultSendTimeout bounds a single Deliver RPC.
	DefaultSendTimeout = 2 * time.Second
)

// Deliverer is the server side of the frame transport service.
type Deliverer interface {
	Deliver(ctx context.Context, frame *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Deliverer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gossipkv/transport",
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Deliverer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Deliverer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCNet is a Transport for one local node whose peers are reached over
// gRPC. Sends are fire-and-forget; failures are logged and otherwise look
// like a dropped message.
type GRPCNet struct {
	self    cluster.Address
	server  *grpc.Server
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	peers map[cluster.Address]string
	conns map[cluster.Address]*grpc.ClientConn
	inbox  [][]byte
	closed bool

	wg sync.WaitGroup
}

// NewGRPCNet creates a transport for self. peers maps node addresses to
// host:port endpoints.
func NewGRPCNet(self cluster.Address, peers map[cluster.Address]string, logger *zap.Logger) *GRPCNet {
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &GRPCNet{
		self:    self,
		timeout: DefaultSendTimeout,
		logger:  logger.With(zap.Stringer("node", self)),
		peers:   make(map[cluster.Address]string, len(peers)),
		conns:   make(map[cluster.Address]*grpc.ClientConn),
	}
	for addr, endpoint := range peers {
		g.peers[addr] = endpoint
	}

	g.server = grpc.NewServer()
	g.server.RegisterService(&transportServiceDesc, g)
	return g
}

// AddPeer registers or replaces the endpoint of addr.
func (g *GRPCNet) AddPeer(addr cluster.Address, endpoint string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.peers[addr] = endpoint
	if conn, ok := g.conns[addr]; ok {
		conn.Close()
		delete(g.conns, addr)
	}
}

// Serve accepts frames on lis until Close is called.
func (g *GRPCNet) Serve(lis net.Listener) error {
	g.logger.Info("Transport listening", zap.String("addr", lis.Addr().String()))
	if err := g.server.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve transport: %w", err)
	}
	return nil
}

// Close stops the server, waits for in-flight sends and closes client
// connections. Sends after Close fail with ErrClosed.
func (g *GRPCNet) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	g.server.GracefulStop()
	g.wg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()
	for addr, conn := range g.conns {
		conn.Close()
		delete(g.conns, addr)
	}
}

// Deliver implements Deliverer by queueing the frame for the local node.
func (g *GRPCNet) Deliver(_ context.Context, frame *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	g.mu.Lock()
	g.inbox = append(g.inbox, slices.Clone(frame.GetValue()))
	g.mu.Unlock()
	return &emptypb.Empty{}, nil
}

func (g *GRPCNet) Send(from, to cluster.Address, payload []byte) (int, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return 0, ErrClosed
	}
	if to == g.self {
		g.inbox = append(g.inbox, slices.Clone(payload))
		g.mu.Unlock()
		return len(payload), nil
	}

	conn, err := g.conn(to)
	if err != nil {
		g.mu.Unlock()
		return 0, err
	}
	// Counted under mu so Close waits for it.
	g.wg.Add(1)
	g.mu.Unlock()

	frame := &wrapperspb.BytesValue{Value: slices.Clone(payload)}
	go func() {
		defer g.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()

		if err := conn.Invoke(ctx, deliverMethod, frame, new(emptypb.Empty)); err != nil {
			g.logger.Debug("Send failed",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
				zap.Error(err))
		}
	}()

	return len(payload), nil
}

func (g *GRPCNet) Receive(addr cluster.Address, deliver func([]byte)) int {
	if addr != g.self {
		return 0
	}

	g.mu.Lock()
	inbox := g.inbox
	g.inbox = nil
	g.mu.Unlock()

	for _, frame := range inbox {
		deliver(frame)
	}
	return len(inbox)
}

// conn returns the cached client for to. Callers hold g.mu.
func (g *GRPCNet) conn(to cluster.Address) (*grpc.ClientConn, error) {
	if conn, ok := g.conns[to]; ok {
		return conn, nil
	}

	endpoint, ok := g.peers[to]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAddress, to)
	}

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", endpoint, err)
	}
	g.conns[to] = conn
	return conn, nil
}
