// Package metrics exposes Prometheus collectors for the gossip, quorum and
// transport layers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gossipkv"

// Metrics holds all collectors for one simulation run or one served node.
type Metrics struct {
	MembersTotal        *prometheus.GaugeVec
	MembershipEvents    *prometheus.CounterVec
	RingNodes           *prometheus.GaugeVec
	MessagesSent        *prometheus.CounterVec
	MessagesReceived    *prometheus.CounterVec
	MessagesDropped     prometheus.Counter
	MessagesRejected    *prometheus.CounterVec
	Transactions        *prometheus.CounterVec
	PendingTransactions *prometheus.GaugeVec
	ReplicaOps          *prometheus.CounterVec
	Stabilizations      prometheus.Counter
	StabilizedKeys      prometheus.Counter
}

// New registers every collector with reg. runID is attached as a constant
// label so several runs can share one registry.
func New(reg prometheus.Registerer, runID string) *Metrics {
	var (
		factory = promauto.With(reg)
		labels  = prometheus.Labels{"run_id": runID}
	)

	return &Metrics{
		MembersTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "gossip",
			Name:        "members",
			Help:        "Number of peers in the membership table",
			ConstLabels: labels,
		}, []string{"node"}),
		MembershipEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "gossip",
			Name:        "membership_events_total",
			Help:        "Peers added to or evicted from membership tables",
			ConstLabels: labels,
		}, []string{"event"}),
		RingNodes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "ring",
			Name:        "nodes",
			Help:        "Number of nodes on the local ring",
			ConstLabels: labels,
		}, []string{"node"}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "transport",
			Name:        "messages_sent_total",
			Help:        "Messages handed to the transport by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "transport",
			Name:        "messages_received_total",
			Help:        "Messages dispatched by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "transport",
			Name:        "messages_dropped_total",
			Help:        "Messages lost by the simulated network",
			ConstLabels: labels,
		}),
		MessagesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "transport",
			Name:        "messages_rejected_total",
			Help:        "Inbound frames that could not be decoded or dispatched",
			ConstLabels: labels,
		}, []string{"reason"}),
		Transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "quorum",
			Name:        "transactions_total",
			Help:        "Coordinator transactions by operation and outcome",
			ConstLabels: labels,
		}, []string{"op", "outcome"}),
		PendingTransactions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "quorum",
			Name:        "pending_transactions",
			Help:        "Transactions awaiting quorum",
			ConstLabels: labels,
		}, []string{"node"}),
		ReplicaOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "replica",
			Name:        "operations_total",
			Help:        "Operations applied to local storage by operation and result",
			ConstLabels: labels,
		}, []string{"op", "result"}),
		Stabilizations: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "stabilization",
			Name:        "runs_total",
			Help:        "Stabilization passes",
			ConstLabels: labels,
		}),
		StabilizedKeys: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "stabilization",
			Name:        "keys_total",
			Help:        "Keys re-issued by stabilization",
			ConstLabels: labels,
		}),
	}
}

// SetMembers records the membership table size of node.
func (m *Metrics) SetMembers(node string, n int) {
	if m == nil {
		return
	}
	m.MembersTotal.WithLabelValues(node).Set(float64(n))
}

// MembershipEvent counts an add or remove.
func (m *Metrics) MembershipEvent(event string) {
	if m == nil {
		return
	}
	m.MembershipEvents.WithLabelValues(event).Inc()
}

// SetRingNodes records the ring size seen by node.
func (m *Metrics) SetRingNodes(node string, n int) {
	if m == nil {
		return
	}
	m.RingNodes.WithLabelValues(node).Set(float64(n))
}

// MessageSent counts an outbound message.
func (m *Metrics) MessageSent(kind string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(kind).Inc()
}

// MessageReceived counts a dispatched inbound message.
func (m *Metrics) MessageReceived(kind string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(kind).Inc()
}

// MessageDropped counts a message lost in transit.
func (m *Metrics) MessageDropped() {
	if m == nil {
		return
	}
	m.MessagesDropped.Inc()
}

// MessageRejected counts an inbound frame that was discarded.
func (m *Metrics) MessageRejected(reason string) {
	if m == nil {
		return
	}
	m.MessagesRejected.WithLabelValues(reason).Inc()
}

// TransactionDone counts a terminal coordinator outcome.
func (m *Metrics) TransactionDone(op, outcome string) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(op, outcome).Inc()
}

// SetPending records the pending transaction count of node.
func (m *Metrics) SetPending(node string, n int) {
	if m == nil {
		return
	}
	m.PendingTransactions.WithLabelValues(node).Set(float64(n))
}

// ReplicaOp counts an operation applied by a replica.
func (m *Metrics) ReplicaOp(op string, ok bool) {
	if m == nil {
		return
	}
	result := "fail"
	if ok {
		result = "success"
	}
	m.ReplicaOps.WithLabelValues(op, result).Inc()
}

// Stabilized counts one stabilization pass re-issuing keys.
func (m *Metrics) Stabilized(keys int) {
	if m == nil {
		return
	}
	m.Stabilizations.Inc()
	m.StabilizedKeys.Add(float64(keys))
}
