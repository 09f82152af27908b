package cluster

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// IntroducerID is the id of the well-known node that bootstraps the group.
const IntroducerID = 1

// Address identifies a node in the cluster.
type Address struct {
	ID   int32
	Port uint16
}

// Introducer returns the address joiners on port send their JOINREQ to.
func Introducer(port uint16) Address {
	return Address{ID: IntroducerID, Port: port}
}

// IsZero reports whether a is the null address.
func (a Address) IsZero() bool {
	return a.ID == 0 && a.Port == 0
}

// IsIntroducer reports whether a is the introducer.
func (a Address) IsIntroducer() bool {
	return a.ID == IntroducerID
}

// Compare orders addresses by id, then port.
func (a Address) Compare(b Address) int {
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	case a.Port < b.Port:
		return -1
	case a.Port > b.Port:
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts before b.
func (a Address) Less(b Address) bool {
	return a.Compare(b) < 0
}

// Bytes returns the fixed 6-byte big-endian encoding used for hashing.
func (a Address) Bytes() []byte {
	var buf [6]byte
	binary.BigEndian.PutUint32(buf[:4], uint32(a.ID))
	binary.BigEndian.PutUint16(buf[4:], a.Port)
	return buf[:]
}

// String returns "id:port".
func (a Address) String() string {
	return fmt.Sprintf("%d:%d", a.ID, a.Port)
}

// ParseAddress parses "id:port" or a bare "id" (port 0).
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}

	idPart, portPart, hasPort := strings.Cut(s, ":")
	id, err := strconv.ParseInt(idPart, 10, 32)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address id %q: %w", idPart, err)
	}
	if id <= 0 {
		return Address{}, fmt.Errorf("address id must be positive: %q", s)
	}

	var port uint64
	if hasPort {
		port, err = strconv.ParseUint(portPart, 10, 16)
		if err != nil {
			return Address{}, fmt.Errorf("invalid address port %q: %w", portPart, err)
		}
	}

	return Address{ID: int32(id), Port: uint16(port)}, nil
}

// SortAddresses sorts addrs in place by Compare.
func SortAddresses(addrs []Address) {
	slices.SortFunc(addrs, Address.Compare)
}
