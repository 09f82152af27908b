// Package eventlog is the audit sink of the cluster. Membership changes and
// the outcome of every key-value operation, on both the coordinator and
// the replicas, are recorded here; it is the only place client-visible
// results surface. It is separate from the diagnostic zap logger each
// component carries.
package eventlog
