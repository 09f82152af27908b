// Package ring implements the consistent-hash ring used for replica
// placement. A ring is an immutable, sorted view of the live members; it is
// rebuilt wholesale from a membership snapshot every cycle rather than
// patched, so lookups never observe a half-applied change.
package ring
