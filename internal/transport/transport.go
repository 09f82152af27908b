package transport

import (
	"errors"

	"gossipkv/internal/cluster"
)

var (
	ErrDropped        = errors.New("message dropped")
	ErrUnknownAddress = errors.New("unknown destination address")
	ErrQueueFull      = errors.New("destination queue full")
	ErrClosed         = errors.New("transport closed")
)

// Transport delivers opaque frames between node addresses.
type Transport interface {
	// Send queues payload for to and returns the number of bytes accepted.
	Send(from, to cluster.Address, payload []byte) (int, error)
	// Receive hands every frame waiting for addr to deliver and returns how
	// many were delivered.
	Receive(addr cluster.Address, deliver func([]byte)) int
}
