// Package quorum provides coordination logic for quorum-based reads and writes.
// It fans out client operations to the replicas of a key, counts replica
// replies per transaction and resolves each transaction exactly once:
// success at two acknowledgements, failure at the first negative reply,
// or failure when the transaction ages past the timeout.
//
// Transaction id 0 is reserved for internal fire-and-forget writes; those
// are never tracked and never logged.
package quorum
