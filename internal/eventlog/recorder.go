package eventlog

import (
	"slices"
	"sync"

	"gossipkv/internal/cluster"
	"gossipkv/internal/message"
)

// EventType classifies a recorded event.
type EventType int

const (
	EventNodeAdded EventType = iota
	EventNodeRemoved
	EventOpSuccess
	EventOpFail
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventNodeAdded:
		return "node_added"
	case EventNodeRemoved:
		return "node_removed"
	case EventOpSuccess:
		return "op_success"
	case EventOpFail:
		return "op_fail"
	default:
		return "unknown"
	}
}

// Event is one audit record.
type Event struct {
	Type        EventType
	Self        cluster.Address
	Peer        cluster.Address
	Op          message.Kind
	Coordinator bool
	TxID        int64
	Key         string
	Value       string
}

// Recorder keeps every record in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) NodeAdded(self, peer cluster.Address) {
	r.add(Event{Type: EventNodeAdded, Self: self, Peer: peer})
}

func (r *Recorder) NodeRemoved(self, peer cluster.Address) {
	r.add(Event{Type: EventNodeRemoved, Self: self, Peer: peer})
}

func (r *Recorder) OpSuccess(self cluster.Address, op message.Kind, coordinator bool, txID int64, key, value string) {
	r.add(Event{Type: EventOpSuccess, Self: self, Op: op, Coordinator: coordinator, TxID: txID, Key: key, Value: value})
}

func (r *Recorder) OpFail(self cluster.Address, op message.Kind, coordinator bool, txID int64, key, value string) {
	r.add(Event{Type: EventOpFail, Self: self, Op: op, Coordinator: coordinator, TxID: txID, Key: key, Value: value})
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of all records in arrival order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Filter returns the records for which keep is true.
func (r *Recorder) Filter(keep func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of records for which keep is true.
func (r *Recorder) Count(keep func(Event) bool) int {
	return len(r.Filter(keep))
}

// Outcomes returns the coordinator-side terminal records for txID.
func (r *Recorder) Outcomes(txID int64) []Event {
	return r.Filter(func(e Event) bool {
		return e.Coordinator && e.TxID == txID && (e.Type == EventOpSuccess || e.Type == EventOpFail)
	})
}

// Reset drops every record.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
