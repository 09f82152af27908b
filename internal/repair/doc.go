// Package repair restores the replication invariant after membership
// changes. Stabilization takes every entry a node holds, clears local
// storage and re-creates each key through the quorum coordinator against
// the current ring. Keys this node still owns come back to it as one of
// their own replicas; keys it no longer owns move to their new replicas.
//
// It runs on every ring rebuild whether or not membership changed.
package repair
