// Package replication names the role each copy of a key plays and maps a
// key to its role-tagged replica set on the current ring.
package replication
