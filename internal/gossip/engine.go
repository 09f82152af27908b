package gossip

import (
	"fmt"

	"go.uber.org/zap"

	"gossipkv/internal/clock"
	"gossipkv/internal/cluster"
	"gossipkv/internal/eventlog"
	"gossipkv/internal/message"
	"gossipkv/internal/metrics"
)

// DefaultFailureThreshold is how many time units a peer may stay silent
// before it is evicted.
const DefaultFailureThreshold = 2

// State is the membership state of the local node.
type State int

const (
	Uninitialized State = iota
	Joining
	InGroup
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Joining:
		return "JOINING"
	case InGroup:
		return "IN_GROUP"
	default:
		return "UNKNOWN"
	}
}

// Engine runs the membership protocol for one node.
type Engine struct {
	self       cluster.Address
	introducer cluster.Address
	clock      clock.Clock
	sender     message.Sender
	sink       eventlog.Sink
	table      *Table
	state      State
	heartbeat  int64
	threshold  int64

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithFailureThreshold overrides DefaultFailureThreshold.
func WithFailureThreshold(threshold int64) Option {
	return func(e *Engine) {
		if threshold > 0 {
			e.threshold = threshold
		}
	}
}

// WithIntroducer overrides the address JOINREQs are sent to.
func WithIntroducer(addr cluster.Address) Option {
	return func(e *Engine) {
		e.introducer = addr
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records membership changes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine for self. Nothing is sent until Start.
func NewEngine(self cluster.Address, clk clock.Clock, sender message.Sender, sink eventlog.Sink, opts ...Option) *Engine {
	if sink == nil {
		sink = eventlog.Nop{}
	}

	e := &Engine{
		self:       self,
		introducer: cluster.Introducer(self.Port),
		clock:      clk,
		sender:     sender,
		sink:       sink,
		table:      NewTable(self),
		threshold:  DefaultFailureThreshold,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.Stringer("node", self))
	return e
}

// Start bootstraps membership. The introducer forms the group on its own;
// every other node asks the introducer to let it in.
func (e *Engine) Start() {
	if e.state != Uninitialized {
		return
	}

	if e.self.IsIntroducer() {
		e.state = InGroup
		e.logger.Info("Starting up group")
		return
	}

	e.state = Joining
	e.sendJoinRequest()
}

// Handle applies one inbound membership message.
func (e *Engine) Handle(m *message.Membership) error {
	if e.state == Uninitialized {
		return nil
	}

	now := e.clock.Now()

	switch m.Type {
	case message.KindJoinReq:
		e.touch(m.Sender, now)
		e.send(m.Sender, message.KindJoinRep, now)

	case message.KindJoinRep:
		if e.state != InGroup {
			e.state = InGroup
			e.logger.Info("Joined group", zap.Stringer("via", m.Sender))
		}
		e.touch(m.Sender, now)
		for _, addr := range m.Members {
			e.touch(addr, now)
		}

	case message.KindPing:
		e.touch(m.Sender, now)
		e.send(m.Sender, message.KindPong, now)

	case message.KindPong:
		e.touch(m.Sender, now)
		for _, addr := range m.Members {
			if addr == e.self || e.table.Contains(addr) {
				continue
			}
			e.logger.Debug("Probing gossiped peer", zap.Stringer("peer", addr))
			e.send(addr, message.KindPing, e.heartbeat)
		}

	default:
		return fmt.Errorf("%w: %s is not a membership message", message.ErrUnknownKind, m.Type)
	}

	return nil
}

// Tick advances the heartbeat. While still joining the JOINREQ is repeated
// since the previous one may have been lost.
func (e *Engine) Tick() {
	e.heartbeat++
	if e.state == Joining {
		e.sendJoinRequest()
	}
}

// Evict removes every peer silent for longer than the failure threshold
// and returns them in address order.
func (e *Engine) Evict() []cluster.Address {
	expired := e.table.Expired(e.clock.Now(), e.threshold)
	for _, addr := range expired {
		e.table.Remove(addr)
		e.sink.NodeRemoved(e.self, addr)
		e.metrics.MembershipEvent("removed")
		e.logger.Info("Peer evicted", zap.Stringer("peer", addr))
	}
	if len(expired) > 0 {
		e.metrics.SetMembers(e.self.String(), e.table.Len())
	}
	return expired
}

// PingAll sends a PING carrying the member set to every known peer.
func (e *Engine) PingAll() {
	for _, addr := range e.table.Addresses() {
		e.send(addr, message.KindPing, e.heartbeat)
	}
}

// Members returns the known peers in address order. Self is not included.
func (e *Engine) Members() []cluster.Address {
	return e.table.Addresses()
}

// View returns the known peers plus self in address order.
func (e *Engine) View() []cluster.Address {
	view := append(e.table.Addresses(), e.self)
	cluster.SortAddresses(view)
	return view
}

// State returns the current membership state.
func (e *Engine) State() State {
	return e.state
}

// InGroup reports whether the node has joined.
func (e *Engine) InGroup() bool {
	return e.state == InGroup
}

// Heartbeat returns the local heartbeat counter.
func (e *Engine) Heartbeat() int64 {
	return e.heartbeat
}

func (e *Engine) touch(addr cluster.Address, now int64) {
	if !e.table.Touch(addr, now) {
		return
	}
	e.sink.NodeAdded(e.self, addr)
	e.metrics.MembershipEvent("added")
	e.metrics.SetMembers(e.self.String(), e.table.Len())
	e.logger.Info("Peer added", zap.Stringer("peer", addr))
}

func (e *Engine) sendJoinRequest() {
	e.logger.Debug("Trying to join", zap.Stringer("introducer", e.introducer))
	e.sender.Send(e.introducer, &message.Membership{
		Type:      message.KindJoinReq,
		Sender:    e.self,
		Heartbeat: e.heartbeat,
	})
}

func (e *Engine) send(to cluster.Address, kind message.Kind, heartbeat int64) {
	e.sender.Send(to, &message.Membership{
		Type:      kind,
		Sender:    e.self,
		Heartbeat: heartbeat,
		Members:   e.View(),
	})
}
