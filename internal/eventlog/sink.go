package eventlog

import (
	"gossipkv/internal/cluster"
	"gossipkv/internal/message"
)

// Sink receives audit records.
type Sink interface {
	NodeAdded(self, peer cluster.Address)
	NodeRemoved(self, peer cluster.Address)
	OpSuccess(self cluster.Address, op message.Kind, coordinator bool, txID int64, key, value string)
	OpFail(self cluster.Address, op message.Kind, coordinator bool, txID int64, key, value string)
}

// Nop discards every record.
type Nop struct{}

func (Nop) NodeAdded(cluster.Address, cluster.Address)   {}
func (Nop) NodeRemoved(cluster.Address, cluster.Address) {}
func (Nop) OpSuccess(cluster.Address, message.Kind, bool, int64, string, string) {}
func (Nop) OpFail(cluster.Address, message.Kind, bool, int64, string, string)    {}

type tee []Sink

// Tee fans every record out to all sinks in order.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

func (t tee) NodeAdded(self, peer cluster.Address) {
	for _, s := range t {
		s.NodeAdded(self, peer)
	}
}

func (t tee) NodeRemoved(self, peer cluster.Address) {
	for _, s := range t {
		s.NodeRemoved(self, peer)
	}
}

func (t tee) OpSuccess(self cluster.Address, op message.Kind, coordinator bool, txID int64, key, value string) {
	for _, s := range t {
		s.OpSuccess(self, op, coordinator, txID, key, value)
	}
}

func (t tee) OpFail(self cluster.Address, op message.Kind, coordinator bool, txID int64, key, value string) {
	for _, s := range t {
		s.OpFail(self, op, coordinator, txID, key, value)
	}
}
