package sim

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gossipkv/internal/cluster"
	"gossipkv/internal/config"
	"gossipkv/internal/eventlog"
	"gossipkv/internal/node"
	"gossipkv/internal/storage"
)

func newSim(t *testing.T, mutate func(*config.Config), opts ...Option) *Simulation {
	t.Helper()
	cfg := config.Default()
	cfg.Nodes = 5
	cfg.Rounds = 20
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(cfg, append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	require.NoError(t, err)
	return s
}

func stepUntil(s *Simulation, round int64) {
	for s.Clock().Now() < round {
		s.Step()
	}
}

func issue(t *testing.T, s *Simulation, node int32, op, key, value string) int64 {
	t.Helper()
	id, err := s.Issue(config.Operation{Node: node, Op: op, Key: key, Value: value})
	require.NoError(t, err)
	return id
}

func outcome(t *testing.T, s *Simulation, coordinator int32, txID int64) eventlog.Event {
	t.Helper()
	addr := s.Node(coordinator).Addr()
	events := s.Recorder().Filter(func(e eventlog.Event) bool {
		return e.Self == addr && e.Coordinator && e.TxID == txID
	})
	require.Len(t, events, 1, "transaction %d at %s", txID, addr)
	return events[0]
}

func TestMembershipConverges(t *testing.T) {
	s := newSim(t, func(c *config.Config) {
		c.Nodes = 10
		c.JoinStagger = 1
		c.Rounds = 30
	})

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.Converged)
	assert.Equal(t, 10, summary.Live)
	assert.Zero(t, summary.Removed)
	for _, n := range s.Nodes() {
		assert.Len(t, n.Members(), 9, "node %s", n.Addr())
		added := s.Recorder().Count(func(e eventlog.Event) bool {
			return e.Type == eventlog.EventNodeAdded && e.Self == n.Addr()
		})
		assert.Equal(t, 9, added, "node %s logs each peer once", n.Addr())
	}
}

func TestFailedNodeIsEvicted(t *testing.T) {
	victim := cluster.Address{ID: 4}
	s := newSim(t, func(c *config.Config) {
		c.Nodes = 6
		c.Failures = []config.Failure{{Node: victim.ID, At: 15}}
	})

	removals := func(self cluster.Address) int {
		return s.Recorder().Count(func(e eventlog.Event) bool {
			return e.Type == eventlog.EventNodeRemoved && e.Self == self && e.Peer == victim
		})
	}

	stepUntil(s, 15)
	require.True(t, s.Summary().Converged)

	// last heard from at round 15
	stepUntil(s, 18)
	for _, n := range s.Live() {
		assert.Contains(t, n.Members(), victim, "node %s evicted too early", n.Addr())
	}

	s.Step()
	for _, n := range s.Live() {
		assert.NotContains(t, n.Members(), victim, "node %s", n.Addr())
		assert.Equal(t, 1, removals(n.Addr()), "node %s", n.Addr())
	}

	stepUntil(s, 30)
	for _, n := range s.Live() {
		assert.Equal(t, 1, removals(n.Addr()), "node %s", n.Addr())
	}
	summary := s.Summary()
	assert.Equal(t, 5, summary.Live)
	assert.True(t, summary.Converged)
	assert.Equal(t, 5, summary.Removed)
	assert.Zero(t, s.Network().Pending(victim))
}

func TestQuorumOperations(t *testing.T) {
	s := newSim(t, func(c *config.Config) {
		c.Rounds = 32
		c.Workload = []config.Operation{
			{At: 12, Node: 2, Op: "create", Key: "k1", Value: "v1"},
			{At: 15, Node: 3, Op: "read", Key: "k1"},
			{At: 15, Node: 4, Op: "read", Key: "missing"},
			{At: 18, Node: 5, Op: "update", Key: "k1", Value: "v2"},
			{At: 21, Node: 1, Op: "read", Key: "k1"},
			{At: 24, Node: 2, Op: "delete", Key: "k1"},
			{At: 27, Node: 3, Op: "read", Key: "k1"},
		}
	})

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	want := []struct {
		typ   eventlog.EventType
		value string
	}{
		{eventlog.EventOpSuccess, "v1"},
		{eventlog.EventOpSuccess, "v1"},
		{eventlog.EventOpFail, ""},
		{eventlog.EventOpSuccess, "v2"},
		{eventlog.EventOpSuccess, "v2"},
		{eventlog.EventOpSuccess, ""},
		{eventlog.EventOpFail, ""},
	}

	issued := s.Issued()
	require.Len(t, issued, len(want))
	for i, op := range issued {
		e := outcome(t, s, op.Node, op.TxID)
		assert.Equal(t, want[i].typ, e.Type, "%s %s at %d", op.Op, op.Key, op.At)
		assert.Equal(t, want[i].value, e.Value, "%s %s at %d", op.Op, op.Key, op.At)
	}

	assert.Equal(t, 5, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.Zero(t, summary.Pending)

	missingReads := s.Recorder().Count(func(e eventlog.Event) bool {
		return !e.Coordinator && e.Type == eventlog.EventOpFail && e.Key == "missing"
	})
	assert.Equal(t, 3, missingReads, "every replica logs the miss")
}

func TestDataSurvivesReplicaFailure(t *testing.T) {
	s := newSim(t, func(c *config.Config) { c.Nodes = 6 })

	stepUntil(s, 10)
	issue(t, s, 1, "create", "k", "v")
	stepUntil(s, 13)

	replicas := s.Node(1).Replicas("k")
	require.Len(t, replicas, 3)
	victim := replicas[0].Addr
	s.Node(victim.ID).Fail()

	stepUntil(s, 22)

	var reader *node.Node
	for _, n := range s.Live() {
		if n.Addr() != victim {
			reader = n
			break
		}
	}
	require.NotNil(t, reader)
	assert.False(t, reader.Ring().Contains(victim))

	id := issue(t, s, reader.Addr().ID, "read", "k", "")
	stepUntil(s, 25)

	e := outcome(t, s, reader.Addr().ID, id)
	assert.Equal(t, eventlog.EventOpSuccess, e.Type)
	assert.Equal(t, "v", e.Value)
}

func TestStabilizationKeepsContent(t *testing.T) {
	s := newSim(t, nil)
	stepUntil(s, 8)
	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		issue(t, s, 2, "create", kv[0], kv[1])
	}
	stepUntil(s, 11)

	contents := func() map[cluster.Address]map[string]string {
		out := make(map[cluster.Address]map[string]string)
		for _, n := range s.Live() {
			values := make(map[string]string)
			for k, raw := range n.Store().Snapshot() {
				entry, err := storage.DecodeEntry(raw)
				require.NoError(t, err)
				values[k] = entry.Value
			}
			out[n.Addr()] = values
		}
		return out
	}

	var prev map[cluster.Address]map[string]string
	for round := 0; round < 5; round++ {
		live := s.Live()
		for _, n := range live {
			n.Receive()
		}
		for _, n := range live {
			n.ProcessMessages()
		}

		snap := contents()
		total := 0
		for _, values := range snap {
			total += len(values)
		}
		assert.Equal(t, 9, total, "three copies of three keys")
		if prev != nil {
			assert.Equal(t, prev, snap, "round %d", round)
		}
		prev = snap

		for _, n := range live {
			n.RunDuties()
		}
		s.Clock().Advance()
	}
}

func TestEveryOperationResolvesOnceUnderDrops(t *testing.T) {
	s := newSim(t, func(c *config.Config) {
		c.Nodes = 6
		c.DropRate = 0.1
		c.Seed = 3
		c.Rounds = 40
		c.Workload = []config.Operation{
			{At: 10, Node: 1, Op: "create", Key: "a", Value: "1"},
			{At: 10, Node: 2, Op: "create", Key: "b", Value: "2"},
			{At: 14, Node: 3, Op: "read", Key: "a"},
			{At: 18, Node: 4, Op: "update", Key: "b", Value: "3"},
			{At: 22, Node: 5, Op: "read", Key: "b"},
			{At: 26, Node: 6, Op: "delete", Key: "a"},
			{At: 30, Node: 1, Op: "read", Key: "zzz"},
		}
	})

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Positive(t, summary.Network.Dropped)
	assert.Zero(t, summary.Pending)
	require.Len(t, s.Issued(), 7)
	for _, op := range s.Issued() {
		outcome(t, s, op.Node, op.TxID)
	}
	assert.Equal(t, 7, summary.Succeeded+summary.Failed)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newSim(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Rounds)
}

func TestIssueRejectsStoppedNodes(t *testing.T) {
	s := newSim(t, func(c *config.Config) { c.JoinStagger = 5 })
	s.Step()

	_, err := s.Issue(config.Operation{Node: 3, Op: "read", Key: "k"})
	assert.Error(t, err, "node 3 has not started")

	_, err = s.Issue(config.Operation{Node: 9, Op: "read", Key: "k"})
	assert.Error(t, err)

	s.Node(1).Fail()
	_, err = s.Issue(config.Operation{Node: 1, Op: "read", Key: "k"})
	assert.Error(t, err)
}

func TestSummaryAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newSim(t, nil, WithRunID("run-1"), WithRegistry(reg), WithSink(eventlog.NewZapSink(zaptest.NewLogger(t))))

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, int64(20), summary.Rounds)
	assert.Equal(t, 5, summary.Nodes)
	assert.Equal(t, 20, summary.Added)
	assert.Positive(t, summary.Network.Sent)
	assert.Positive(t, summary.Network.Received)
	assert.Zero(t, summary.Network.Dropped)

	require.NotNil(t, s.Metrics())
	assert.Equal(t, 20.0, testutil.ToFloat64(s.Metrics().MembershipEvents.WithLabelValues("added")))
	assert.Equal(t, 4.0, testutil.ToFloat64(s.Metrics().MembersTotal.WithLabelValues("1:0")))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Replicas = 2

	_, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}
