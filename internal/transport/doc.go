// Package transport moves encoded frames between nodes.
//
// The contract is deliberately weak: Send is at-most-once and may drop
// silently, nothing is ordered across distinct messages, and Receive only
// hands over what has already arrived. SimNet is the in-process lossy
// network used by the lock-step simulator; GRPCNet carries the same frames
// between processes over gRPC.
package transport
