// Package node wires one cluster member together: the gossip engine, the
// hash ring derived from it, the quorum coordinator, the replica handler
// and stabilization, all driven by Receive and Tick.
//
// A node is single threaded. Receive moves arrived frames into the node's
// inbox; Tick drains the inbox completely and then runs the periodic
// duties in a fixed order: failure sweep, ring rebuild, stabilization,
// ping fan-out and transaction timeout sweep.
package node
