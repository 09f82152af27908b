// Package gossip implements join, heartbeat and failure detection for the
// cluster.
//
// Every node pings every peer it knows once per tick and attaches its full
// member set to each message, so a joiner is known cluster-wide within a
// couple of rounds. Peers not heard from for longer than the failure
// threshold are evicted. There is no leave protocol: a node that stops
// responding simply ages out.
//
// Limitations:
// - Message size grows linearly with cluster size
// - No suspicion state, a single missed window evicts
// - The introducer (id 1) must be up for new nodes to join
package gossip
