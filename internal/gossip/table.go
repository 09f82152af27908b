package gossip

import (
	"maps"
	"slices"

	"gossipkv/internal/cluster"
)

// Table maps peers to the time they were last heard from. The owning
// node's own address is never stored.
type Table struct {
	self    cluster.Address
	entries map[cluster.Address]int64
}

// NewTable creates an empty table owned by self.
func NewTable(self cluster.Address) *Table {
	return &Table{
		self:    self,
		entries: make(map[cluster.Address]int64),
	}
}

// Touch records that addr was heard from at now and reports whether addr
// is new to the table. Touching self or the zero address is ignored.
func (t *Table) Touch(addr cluster.Address, now int64) bool {
	if addr == t.self || addr.IsZero() {
		return false
	}
	_, known := t.entries[addr]
	t.entries[addr] = now
	return !known
}

// Contains reports whether addr is a known peer.
func (t *Table) Contains(addr cluster.Address) bool {
	_, ok := t.entries[addr]
	return ok
}

// LastSeen returns the time addr was last heard from.
func (t *Table) LastSeen(addr cluster.Address) (int64, bool) {
	ts, ok := t.entries[addr]
	return ts, ok
}

// Remove deletes addr and reports whether it was present.
func (t *Table) Remove(addr cluster.Address) bool {
	if _, ok := t.entries[addr]; !ok {
		return false
	}
	delete(t.entries, addr)
	return true
}

// Expired returns, in address order, every peer with now - lastSeen > threshold.
func (t *Table) Expired(now, threshold int64) []cluster.Address {
	var out []cluster.Address
	for addr, ts := range t.entries {
		if now-ts > threshold {
			out = append(out, addr)
		}
	}
	cluster.SortAddresses(out)
	return out
}

// Addresses returns every known peer in address order.
func (t *Table) Addresses() []cluster.Address {
	addrs := slices.Collect(maps.Keys(t.entries))
	cluster.SortAddresses(addrs)
	return addrs
}

// Len returns the number of known peers.
func (t *Table) Len() int {
	return len(t.entries)
}
