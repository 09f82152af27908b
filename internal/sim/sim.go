package sim

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"gossipkv/internal/clock"
	"gossipkv/internal/cluster"
	"gossipkv/internal/config"
	"gossipkv/internal/eventlog"
	"gossipkv/internal/message"
	"gossipkv/internal/metrics"
	"gossipkv/internal/node"
	"gossipkv/internal/transport"
)

// Simulation is a cluster of nodes advanced one round at a time.
type Simulation struct {
	cfg      *config.Config
	runID    string
	clock    *clock.SimClock
	net      *transport.SimNet
	recorder *eventlog.Recorder
	nodes    []*node.Node
	started  []bool
	issued   []Issued

	logger  *zap.Logger
	sinks   []eventlog.Sink
	reg     prometheus.Registerer
	metrics *metrics.Metrics
}

// Issued is a client operation the simulation handed to a coordinator.
type Issued struct {
	config.Operation
	TxID int64
}

// Option configures a Simulation.
type Option func(*Simulation)

// WithLogger sets the diagnostic logger shared by every node.
func WithLogger(l *zap.Logger) Option {
	return func(s *Simulation) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSink sends audit records to sink in addition to the built-in recorder.
func WithSink(sink eventlog.Sink) Option {
	return func(s *Simulation) {
		s.sinks = append(s.sinks, sink)
	}
}

// WithRegistry registers run metrics in reg.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(s *Simulation) {
		s.reg = reg
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(s *Simulation) {
		s.runID = id
	}
}

// New builds a simulation from cfg. No node is started until the first Step.
func New(cfg *config.Config, opts ...Option) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Simulation{
		cfg:      cfg,
		runID:    uuid.NewString(),
		clock:    clock.NewSimClock(),
		recorder: eventlog.NewRecorder(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("run_id", s.runID))
	if s.reg != nil {
		s.metrics = metrics.New(s.reg, s.runID)
	}

	s.net = transport.NewSimNet(
		transport.WithDropRate(cfg.DropRate),
		transport.WithSeed(cfg.Seed),
		transport.WithLogger(s.logger),
		transport.WithMetrics(s.metrics))

	sink := eventlog.Tee(append([]eventlog.Sink{s.recorder}, s.sinks...)...)
	for _, addr := range cfg.Addresses() {
		s.net.Register(addr)
		n := node.New(addr, s.clock, s.net,
			node.WithSink(sink),
			node.WithLogger(s.logger),
			node.WithMetrics(s.metrics),
			node.WithRingSize(cfg.RingSize),
			node.WithFailureThreshold(cfg.FailureThreshold),
			node.WithTransactionTimeout(cfg.TransactionTimeout),
			node.WithIntroducer(cluster.Introducer(cfg.Port)))
		s.nodes = append(s.nodes, n)
	}
	s.started = make([]bool, len(s.nodes))

	return s, nil
}

// Step runs one round: start due nodes, apply scheduled failures and
// client operations, then every live node receives and every live node
// ticks. The clock advances at the end.
func (s *Simulation) Step() {
	now := s.clock.Now()

	for i, n := range s.nodes {
		if !s.started[i] && now >= int64(i)*s.cfg.JoinStagger {
			s.started[i] = true
			n.Start()
		}
	}

	for _, f := range s.cfg.Failures {
		if f.At == now {
			if n := s.Node(f.Node); n != nil {
				n.Fail()
				s.net.Unregister(n.Addr())
			}
		}
	}

	for _, op := range s.cfg.Workload {
		if op.At != now {
			continue
		}
		if _, err := s.Issue(op); err != nil {
			s.logger.Warn("Skipping workload operation", zap.Int64("round", now), zap.Error(err))
		}
	}

	for i, n := range s.nodes {
		if s.started[i] {
			n.Receive()
		}
	}
	for i, n := range s.nodes {
		if s.started[i] {
			n.Tick()
		}
	}

	s.clock.Advance()
}

// Run steps until the configured number of rounds has elapsed or ctx is done.
func (s *Simulation) Run(ctx context.Context) (Summary, error) {
	s.logger.Info("Starting simulation",
		zap.Int("nodes", len(s.nodes)),
		zap.Int("rounds", s.cfg.Rounds),
		zap.Float64("drop_rate", s.cfg.DropRate))

	for s.clock.Now() < int64(s.cfg.Rounds) {
		if err := ctx.Err(); err != nil {
			return s.Summary(), fmt.Errorf("simulation stopped at round %d: %w", s.clock.Now(), err)
		}
		s.Step()
	}

	summary := s.Summary()
	s.logger.Info("Simulation finished",
		zap.Int64("rounds", summary.Rounds),
		zap.Bool("converged", summary.Converged),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// Issue hands op to its coordinator now and returns the transaction id.
func (s *Simulation) Issue(op config.Operation) (int64, error) {
	n := s.Node(op.Node)
	if n == nil {
		return 0, fmt.Errorf("unknown node %d", op.Node)
	}
	if !s.started[op.Node-1] || n.Failed() {
		return 0, fmt.Errorf("node %s is not running", n.Addr())
	}

	kind, err := config.ParseOp(op.Op)
	if err != nil {
		return 0, err
	}

	var id int64
	switch kind {
	case message.KindCreate:
		id = n.Create(op.Key, op.Value)
	case message.KindRead:
		id = n.Read(op.Key)
	case message.KindUpdate:
		id = n.Update(op.Key, op.Value)
	case message.KindDelete:
		id = n.Delete(op.Key)
	}

	s.issued = append(s.issued, Issued{Operation: op, TxID: id})
	return id, nil
}

// Node returns the node with id, or nil.
func (s *Simulation) Node(id int32) *node.Node {
	if id < 1 || int(id) > len(s.nodes) {
		return nil
	}
	return s.nodes[id-1]
}

// Nodes returns every node in id order.
func (s *Simulation) Nodes() []*node.Node {
	return slices.Clone(s.nodes)
}

// Live returns the started nodes that have not failed.
func (s *Simulation) Live() []*node.Node {
	var live []*node.Node
	for i, n := range s.nodes {
		if s.started[i] && !n.Failed() {
			live = append(live, n)
		}
	}
	return live
}

// Issued returns every client operation handed out so far.
func (s *Simulation) Issued() []Issued {
	return slices.Clone(s.issued)
}

// Recorder returns the audit records of the run.
func (s *Simulation) Recorder() *eventlog.Recorder {
	return s.recorder
}

// Clock returns the shared simulation clock.
func (s *Simulation) Clock() *clock.SimClock {
	return s.clock
}

// Network returns the simulated network.
func (s *Simulation) Network() *transport.SimNet {
	return s.net
}

// RunID returns the id stamped on this run's logs and metrics.
func (s *Simulation) RunID() string {
	return s.runID
}

// Metrics returns the run metrics, or nil when no registry was given.
func (s *Simulation) Metrics() *metrics.Metrics {
	return s.metrics
}
