package transport

import (
	"math/rand"
	"slices"
	"sync"

	"go.uber.org/zap"

	"gossipkv/internal/cluster"
	"gossipkv/internal/metrics"
)

// Stats counts traffic through a SimNet.
type Stats struct {
	Sent     int
	Received int
	Dropped  int
}

// SimNet is an in-memory network with one inbound queue per registered
// address and a configurable drop probability.
type SimNet struct {
	mu         sync.Mutex
	queues     map[cluster.Address][][]byte
	dropRate   float64
	queueLimit int
	rng        *rand.Rand
	stats      Stats
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// SimOption configures a SimNet.
type SimOption func(*SimNet)

// WithDropRate sets the probability in [0,1] that a sent message is lost.
func WithDropRate(p float64) SimOption {
	return func(n *SimNet) {
		n.dropRate = clampRate(p)
	}
}

// WithSeed makes drop decisions reproducible.
func WithSeed(seed int64) SimOption {
	return func(n *SimNet) {
		n.rng = rand.New(rand.NewSource(seed))
	}
}

// WithQueueLimit bounds each inbound queue; sends to a full queue fail.
// Zero means unbounded.
func WithQueueLimit(limit int) SimOption {
	return func(n *SimNet) {
		n.queueLimit = limit
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) SimOption {
	return func(n *SimNet) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithMetrics records drops in m.
func WithMetrics(m *metrics.Metrics) SimOption {
	return func(n *SimNet) {
		n.metrics = m
	}
}

// NewSimNet creates an empty network.
func NewSimNet(opts ...SimOption) *SimNet {
	n := &SimNet{
		queues: make(map[cluster.Address][][]byte),
		rng:    rand.New(rand.NewSource(1)),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Register creates the inbound queue for addr. Registering twice is a no-op.
func (n *SimNet) Register(addr cluster.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.queues[addr]; !ok {
		n.queues[addr] = nil
	}
}

// Unregister removes the queue for addr. Frames still waiting are counted
// as dropped and later sends to addr fail with ErrUnknownAddress.
func (n *SimNet) Unregister(addr cluster.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()

	queue, ok := n.queues[addr]
	if !ok {
		return
	}
	delete(n.queues, addr)
	for range queue {
		n.stats.Dropped++
		n.metrics.MessageDropped()
	}
}

// SetDropRate changes the drop probability for subsequent sends.
func (n *SimNet) SetDropRate(p float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropRate = clampRate(p)
}

func (n *SimNet) Send(from, to cluster.Address, payload []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	queue, ok := n.queues[to]
	if !ok {
		return 0, ErrUnknownAddress
	}

	n.stats.Sent++
	if n.dropRate > 0 && n.rng.Float64() < n.dropRate {
		n.stats.Dropped++
		n.metrics.MessageDropped()
		n.logger.Debug("Dropped message",
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		return 0, ErrDropped
	}
	if n.queueLimit > 0 && len(queue) >= n.queueLimit {
		n.stats.Dropped++
		n.metrics.MessageDropped()
		return 0, ErrQueueFull
	}

	n.queues[to] = append(queue, slices.Clone(payload))
	return len(payload), nil
}

func (n *SimNet) Receive(addr cluster.Address, deliver func([]byte)) int {
	n.mu.Lock()
	queue := n.queues[addr]
	if len(queue) > 0 {
		n.queues[addr] = nil
	}
	n.stats.Received += len(queue)
	n.mu.Unlock()

	for _, frame := range queue {
		deliver(frame)
	}
	return len(queue)
}

// Pending returns the number of frames waiting for addr.
func (n *SimNet) Pending(addr cluster.Address) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queues[addr])
}

// Stats returns traffic counters.
func (n *SimNet) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

func clampRate(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
