package node

import (
	"errors"

	"go.uber.org/zap"

	"gossipkv/internal/clock"
	"gossipkv/internal/cluster"
	"gossipkv/internal/eventlog"
	"gossipkv/internal/gossip"
	"gossipkv/internal/message"
	"gossipkv/internal/metrics"
	"gossipkv/internal/quorum"
	"gossipkv/internal/repair"
	"gossipkv/internal/replication"
	"gossipkv/internal/ring"
	"gossipkv/internal/storage"
	"gossipkv/internal/transport"
)

// Node represents a single member of the cluster.
type Node struct {
	addr      cluster.Address
	clock     clock.Clock
	transport transport.Transport
	store     storage.Store
	sink      eventlog.Sink

	engine      *gossip.Engine
	coordinator *quorum.Coordinator
	replica     *ReplicaServer
	stabilizer  *repair.Stabilizer
	ring        *ring.Ring

	ringSize         uint64
	failureThreshold int64
	txTimeout        int64
	introducer       cluster.Address

	inbox  [][]byte
	failed bool

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Node.
type Option func(*Node)

// WithStore replaces the default in-memory store.
func WithStore(s storage.Store) Option {
	return func(n *Node) {
		n.store = s
	}
}

// WithSink sets where audit records go.
func WithSink(s eventlog.Sink) Option {
	return func(n *Node) {
		n.sink = s
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *zap.Logger) Option {
	return func(n *Node) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithMetrics records node activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Node) {
		n.metrics = m
	}
}

// WithRingSize sets the number of ring positions.
func WithRingSize(size uint64) Option {
	return func(n *Node) {
		if size > 0 {
			n.ringSize = size
		}
	}
}

// WithFailureThreshold sets how long a peer may stay silent.
func WithFailureThreshold(threshold int64) Option {
	return func(n *Node) {
		n.failureThreshold = threshold
	}
}

// WithTransactionTimeout sets the age at which pending transactions fail.
func WithTransactionTimeout(timeout int64) Option {
	return func(n *Node) {
		n.txTimeout = timeout
	}
}

// WithIntroducer overrides the introducer address.
func WithIntroducer(addr cluster.Address) Option {
	return func(n *Node) {
		n.introducer = addr
	}
}

// New creates a node reachable at addr over tr.
func New(addr cluster.Address, clk clock.Clock, tr transport.Transport, opts ...Option) *Node {
	n := &Node{
		addr:             addr,
		clock:            clk,
		transport:        tr,
		store:            storage.NewInMemoryStore(),
		sink:             eventlog.Nop{},
		ringSize:         ring.DefaultSize,
		failureThreshold: gossip.DefaultFailureThreshold,
		txTimeout:        quorum.DefaultTimeout,
		introducer:       cluster.Introducer(addr.Port),
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.sink == nil {
		n.sink = eventlog.Nop{}
	}
	n.logger = n.logger.With(zap.Stringer("node", addr))

	n.engine = gossip.NewEngine(addr, clk, n, n.sink,
		gossip.WithFailureThreshold(n.failureThreshold),
		gossip.WithIntroducer(n.introducer),
		gossip.WithLogger(n.logger),
		gossip.WithMetrics(n.metrics))
	n.coordinator = quorum.NewCoordinator(addr, clk, n, quorum.LocatorFunc(n.Replicas), n.sink,
		quorum.WithTimeout(n.txTimeout),
		quorum.WithLogger(n.logger),
		quorum.WithMetrics(n.metrics))
	n.replica = NewReplicaServer(addr, clk, n.store, n, n.sink, n.logger, n.metrics)
	n.stabilizer = repair.NewStabilizer(n.store, n.coordinator, n.logger, n.metrics)

	return n
}

// Start begins the join protocol.
func (n *Node) Start() {
	n.logger.Info("Starting node")
	n.engine.Start()
}

// Send encodes m and hands it to the transport. Failures only affect this
// one message.
func (n *Node) Send(to cluster.Address, m message.Message) {
	payload, err := message.Encode(m)
	if err != nil {
		n.metrics.MessageRejected("encode")
		n.logger.Warn("Failed to encode message",
			zap.Stringer("kind", m.Kind()),
			zap.Stringer("to", to),
			zap.Error(err))
		return
	}

	if _, err := n.transport.Send(n.addr, to, payload); err != nil {
		if !errors.Is(err, transport.ErrDropped) {
			n.logger.Debug("Send failed",
				zap.Stringer("kind", m.Kind()),
				zap.Stringer("to", to),
				zap.Error(err))
		}
		return
	}
	n.metrics.MessageSent(m.Kind().String())
}

// Receive moves every frame the transport holds for this node into the
// inbox and returns how many arrived. A failed node receives nothing.
func (n *Node) Receive() int {
	if n.failed {
		return 0
	}
	return n.transport.Receive(n.addr, func(frame []byte) {
		n.inbox = append(n.inbox, frame)
	})
}

// Tick drains the inbox and then runs the periodic duties.
func (n *Node) Tick() {
	if n.failed {
		return
	}
	n.ProcessMessages()
	n.RunDuties()
}

// ProcessMessages dispatches every queued frame and returns how many were
// handled.
func (n *Node) ProcessMessages() int {
	inbox := n.inbox
	n.inbox = nil
	for _, frame := range inbox {
		n.dispatch(frame)
	}
	return len(inbox)
}

// RunDuties performs one cycle of periodic work.
func (n *Node) RunDuties() {
	n.engine.Tick()
	if n.engine.InGroup() {
		n.engine.Evict()
		n.rebuildRing()
		n.stabilizer.Run()
		n.engine.PingAll()
	}
	n.coordinator.Sweep()
	n.metrics.SetPending(n.addr.String(), n.coordinator.Pending())
}

func (n *Node) dispatch(frame []byte) {
	m, err := message.Decode(frame)
	switch {
	case err == nil:
	case errors.Is(err, message.ErrShortMessage):
		n.metrics.MessageRejected("short")
		n.logger.Debug("Dropping short message", zap.Int("size", len(frame)))
		return
	case errors.Is(err, message.ErrUnknownKind):
		n.metrics.MessageRejected("unknown_kind")
		n.logger.Warn("Rejecting message", zap.Error(err))
		return
	default:
		n.metrics.MessageRejected("malformed")
		n.logger.Warn("Dropping malformed message", zap.Error(err))
		return
	}

	n.metrics.MessageReceived(m.Kind().String())

	switch m := m.(type) {
	case *message.Membership:
		if err := n.engine.Handle(m); err != nil {
			n.logger.Warn("Failed to handle membership message", zap.Error(err))
		}
	case *message.Data:
		if m.Type.IsOperation() {
			n.replica.Handle(m)
		} else {
			n.coordinator.Handle(m)
		}
	}
}

// rebuildRing replaces the ring with one built from the current view.
func (n *Node) rebuildRing() {
	n.ring = ring.Build(n.ringSize, n.engine.View())
	n.metrics.SetRingNodes(n.addr.String(), n.ring.Len())
}

// Replicas returns the replicas for key on the current ring.
func (n *Node) Replicas(key string) []replication.Replica {
	return replication.GetReplicasForKey(n.ring, key)
}

// Create issues a client CREATE and returns its transaction id.
func (n *Node) Create(key, value string) int64 {
	return n.coordinator.Create(key, value)
}

// Read issues a client READ and returns its transaction id.
func (n *Node) Read(key string) int64 {
	return n.coordinator.Read(key)
}

// Update issues a client UPDATE and returns its transaction id.
func (n *Node) Update(key, value string) int64 {
	return n.coordinator.Update(key, value)
}

// Delete issues a client DELETE and returns its transaction id.
func (n *Node) Delete(key string) int64 {
	return n.coordinator.Delete(key)
}

// Fail stops the node from receiving and ticking, as if it had crashed.
func (n *Node) Fail() {
	if n.failed {
		return
	}
	n.failed = true
	n.logger.Info("Node failed")
}

// Failed reports whether Fail was called.
func (n *Node) Failed() bool {
	return n.failed
}

// Addr returns the node's address.
func (n *Node) Addr() cluster.Address {
	return n.addr
}

// Members returns the peers this node knows, excluding itself.
func (n *Node) Members() []cluster.Address {
	return n.engine.Members()
}

// State returns the membership state.
func (n *Node) State() gossip.State {
	return n.engine.State()
}

// Ring returns the ring built on the last tick, or nil before the first.
func (n *Node) Ring() *ring.Ring {
	return n.ring
}

// Store returns the local storage primitive.
func (n *Node) Store() storage.Store {
	return n.store
}

// Pending returns the number of unresolved client transactions.
func (n *Node) Pending() int {
	return n.coordinator.Pending()
}
