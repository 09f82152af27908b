package ring

import (
	"slices"

	"github.com/cespare/xxhash/v2"

	"gossipkv/internal/cluster"
)

const (
	// DefaultSize is the number of positions on the ring.
	DefaultSize = 512
	// Replicas is the fixed replication factor.
	Replicas = 3
)

// Node is a member placed on the ring.
type Node struct {
	Addr     cluster.Address
	Position uint64
}

// Ring is a sorted, immutable set of nodes.
type Ring struct {
	size  uint64
	nodes []Node
}

// Build positions every distinct member on a ring of the given size.
// Nodes are ordered by position; ties are broken by address so that every
// node that sees the same membership derives the same ring.
func Build(size uint64, members []cluster.Address) *Ring {
	if size == 0 {
		size = DefaultSize
	}

	seen := make(map[cluster.Address]bool, len(members))
	nodes := make([]Node, 0, len(members))
	for _, addr := range members {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		nodes = append(nodes, Node{Addr: addr, Position: hashAddress(addr) % size})
	}

	return FromNodes(size, nodes)
}

// FromNodes builds a ring from explicitly positioned nodes.
func FromNodes(size uint64, nodes []Node) *Ring {
	if size == 0 {
		size = DefaultSize
	}

	sorted := slices.Clone(nodes)
	slices.SortFunc(sorted, compareNodes)

	return &Ring{
		size:  size,
		nodes: sorted,
	}
}

// Size returns the number of positions on the ring.
func (r *Ring) Size() uint64 {
	return r.size
}

// Len returns the number of nodes on the ring.
func (r *Ring) Len() int {
	return len(r.nodes)
}

// Nodes returns the ring members in ring order.
func (r *Ring) Nodes() []Node {
	return slices.Clone(r.nodes)
}

// Contains reports whether addr is on the ring.
func (r *Ring) Contains(addr cluster.Address) bool {
	for _, n := range r.nodes {
		if n.Addr == addr {
			return true
		}
	}
	return false
}

// Equal reports whether both rings hold the same nodes in the same order.
func (r *Ring) Equal(other *Ring) bool {
	if other == nil {
		return false
	}
	return r.size == other.size && slices.Equal(r.nodes, other.nodes)
}

// KeyPosition returns the ring position of a key.
func (r *Ring) KeyPosition(key string) uint64 {
	return xxhash.Sum64String(key) % r.size
}

// FindReplicas returns the primary, secondary and tertiary nodes for key, or
// nil when fewer than Replicas nodes are on the ring.
func (r *Ring) FindReplicas(key string) []Node {
	return r.ReplicasAt(r.KeyPosition(key))
}

// ReplicasAt returns the replica nodes for a ring position.
//
// The primary is the first node whose position is >= pos. A position at or
// below the smallest node, or beyond the largest, wraps to the first node.
func (r *Ring) ReplicasAt(pos uint64) []Node {
	n := len(r.nodes)
	if n < Replicas {
		return nil
	}

	primary := 0
	if pos > r.nodes[0].Position && pos <= r.nodes[n-1].Position {
		for i := 1; i < n; i++ {
			if pos <= r.nodes[i].Position {
				primary = i
				break
			}
		}
	}

	replicas := make([]Node, 0, Replicas)
	for i := 0; i < Replicas; i++ {
		replicas = append(replicas, r.nodes[(primary+i)%n])
	}
	return replicas
}

// PositionOf returns the ring position an address hashes to.
func (r *Ring) PositionOf(addr cluster.Address) uint64 {
	return hashAddress(addr) % r.size
}

func hashAddress(addr cluster.Address) uint64 {
	return xxhash.Sum64(addr.Bytes())
}

func compareNodes(a, b Node) int {
	switch {
	case a.Position < b.Position:
		return -1
	case a.Position > b.Position:
		return 1
	default:
		return a.Addr.Compare(b.Addr)
	}
}
