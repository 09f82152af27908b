package sim

import (
	"slices"

	"gossipkv/internal/cluster"
	"gossipkv/internal/eventlog"
	"gossipkv/internal/node"
	"gossipkv/internal/transport"
)

// Summary describes the state of a run.
type Summary struct {
	RunID     string
	Rounds    int64
	Nodes     int
	Live      int
	Converged bool
	Added     int
	Removed   int
	Issued    int
	Succeeded int
	Failed    int
	Pending   int
	Network   transport.Stats
}

// Summary reports the run so far. Converged is true when every live node
// knows exactly the other live nodes.
func (s *Simulation) Summary() Summary {
	live := s.Live()

	sum := Summary{
		RunID:     s.runID,
		Rounds:    s.clock.Now(),
		Nodes:     len(s.nodes),
		Live:      len(live),
		Converged: s.converged(live),
		Issued:    len(s.issued),
		Network:   s.net.Stats(),
	}

	for _, e := range s.recorder.Events() {
		switch {
		case e.Type == eventlog.EventNodeAdded:
			sum.Added++
		case e.Type == eventlog.EventNodeRemoved:
			sum.Removed++
		case e.Coordinator && e.Type == eventlog.EventOpSuccess:
			sum.Succeeded++
		case e.Coordinator && e.Type == eventlog.EventOpFail:
			sum.Failed++
		}
	}
	for _, n := range live {
		sum.Pending += n.Pending()
	}

	return sum
}

func (s *Simulation) converged(live []*node.Node) bool {
	addrs := make([]cluster.Address, 0, len(live))
	for _, n := range live {
		addrs = append(addrs, n.Addr())
	}

	for _, n := range live {
		want := slices.DeleteFunc(slices.Clone(addrs), func(a cluster.Address) bool {
			return a == n.Addr()
		})
		if !slices.Equal(n.Members(), want) {
			return false
		}
	}
	return true
}
