package message

import (
	"gossipkv/internal/cluster"
	"gossipkv/internal/replication"
)

// Kind tags every message on the wire.
type Kind uint8

const (
	KindJoinReq Kind = iota + 1
	KindJoinRep
	KindPing
	KindPong
	KindCreate
	KindRead
	KindUpdate
	KindDelete
	KindReply
	KindReadReply
)

// String returns the protocol name of the kind.
func (k Kind) String() string {
	switch k {
	case KindJoinReq:
		return "JOINREQ"
	case KindJoinRep:
		return "JOINREP"
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindCreate:
		return "CREATE"
	case KindRead:
		return "READ"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	case KindReply:
		return "REPLY"
	case KindReadReply:
		return "READREPLY"
	default:
		return "UNKNOWN"
	}
}

// IsMembership reports whether k belongs to the membership family.
func (k Kind) IsMembership() bool {
	return k >= KindJoinReq && k <= KindPong
}

// IsData reports whether k belongs to the data family.
func (k Kind) IsData() bool {
	return k >= KindCreate && k <= KindReadReply
}

// IsOperation reports whether k is a client operation sent to replicas.
func (k Kind) IsOperation() bool {
	return k >= KindCreate && k <= KindDelete
}

// Message is either *Membership or *Data.
type Message interface {
	Kind() Kind
	From() cluster.Address
	sealed()
}

// Membership is a gossip message.
type Membership struct {
	Type      Kind
	Sender    cluster.Address
	Heartbeat int64
	Members   []cluster.Address
}

func (m *Membership) Kind() Kind            { return m.Type }
func (m *Membership) From() cluster.Address { return m.Sender }
func (*Membership) sealed()                 {}

// Data is a key-value request or reply. Role is set on CREATE and UPDATE,
// Success on REPLY, Value on CREATE, UPDATE and READREPLY.
type Data struct {
	Type    Kind
	TxID    int64
	Sender  cluster.Address
	Key     string
	Value   string
	Role    replication.Role
	Success bool
}

func (m *Data) Kind() Kind            { return m.Type }
func (m *Data) From() cluster.Address { return m.Sender }
func (*Data) sealed()                 {}

// Sender delivers a message to another node. Delivery is best effort.
type Sender interface {
	Send(to cluster.Address, m Message)
}
