package replication

import (
	"gossipkv/internal/ring"
)

// Role records which ring position a stored copy represents. It is kept
// for diagnostics only and never changes read or write behavior.
type Role uint8

const (
	RoleNone Role = iota
	Primary
	Secondary
	Tertiary
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case Primary:
		return "PRIMARY"
	case Secondary:
		return "SECONDARY"
	case Tertiary:
		return "TERTIARY"
	default:
		return "NONE"
	}
}

// RoleFor maps a replica index to its role. Indexes past the tertiary stay
// tertiary.
func RoleFor(index int) Role {
	switch index {
	case 0:
		return Primary
	case 1:
		return Secondary
	default:
		return Tertiary
	}
}

// Replica is a ring node together with the role it holds for one key.
type Replica struct {
	ring.Node
	Role Role
}

// GetReplicasForKey returns the role-tagged replicas for key, or nil when
// the ring is too small to place Replicas copies.
func GetReplicasForKey(r *ring.Ring, key string) []Replica {
	if r == nil {
		return nil
	}

	nodes := r.FindReplicas(key)
	if len(nodes) == 0 {
		return nil
	}

	replicas := make([]Replica, len(nodes))
	for i, n := range nodes {
		replicas[i] = Replica{Node: n, Role: RoleFor(i)}
	}
	return replicas
}
