package ring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gossipkv/internal/cluster"
)

func addrs(ids ...int32) []cluster.Address {
	out := make([]cluster.Address, len(ids))
	for i, id := range ids {
		out[i] = cluster.Address{ID: id}
	}
	return out
}

func positions(nodes []Node) []uint64 {
	out := make([]uint64, len(nodes))
	for i, n := range nodes {
		out[i] = n.Position
	}
	return out
}

func fixedRing() *Ring {
	return FromNodes(100, []Node{
		{Addr: cluster.Address{ID: 3}, Position: 90},
		{Addr: cluster.Address{ID: 1}, Position: 10},
		{Addr: cluster.Address{ID: 2}, Position: 50},
	})
}

func TestRing_ReplicasAt(t *testing.T) {
	tests := []struct {
		name string
		pos  uint64
		want []uint64
	}{
		{"beyond largest wraps to smallest", 95, []uint64{10, 50, 90}},
		{"below smallest wraps to smallest", 0, []uint64{10, 50, 90}},
		{"equal to smallest", 10, []uint64{10, 50, 90}},
		{"just above smallest", 11, []uint64{50, 90, 10}},
		{"equal to middle", 50, []uint64{50, 90, 10}},
		{"between middle and largest", 70, []uint64{90, 10, 50}},
		{"equal to largest", 90, []uint64{90, 10, 50}},
	}

	r := fixedRing()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, positions(r.ReplicasAt(tt.pos)))
		})
	}
}

func TestRing_TooSmall(t *testing.T) {
	for n := 0; n < Replicas; n++ {
		r := Build(DefaultSize, addrs(int32Range(n)...))
		assert.Empty(t, r.FindReplicas("key"), "ring of %d nodes", n)
	}
}

func TestRing_Build(t *testing.T) {
	t.Run("should sort nodes by position", func(t *testing.T) {
		r := Build(DefaultSize, addrs(5, 1, 4, 2, 3))
		nodes := r.Nodes()
		require.Len(t, nodes, 5)
		for i := 1; i < len(nodes); i++ {
			assert.LessOrEqual(t, nodes[i-1].Position, nodes[i].Position)
		}
	})

	t.Run("should drop duplicate members", func(t *testing.T) {
		r := Build(DefaultSize, addrs(1, 2, 2, 3, 1))
		assert.Equal(t, 3, r.Len())
	})

	t.Run("should break position ties by address", func(t *testing.T) {
		r := FromNodes(100, []Node{
			{Addr: cluster.Address{ID: 9}, Position: 40},
			{Addr: cluster.Address{ID: 2}, Position: 40},
			{Addr: cluster.Address{ID: 5}, Position: 40},
		})
		nodes := r.Nodes()
		assert.Equal(t, []cluster.Address{{ID: 2}, {ID: 5}, {ID: 9}},
			[]cluster.Address{nodes[0].Addr, nodes[1].Addr, nodes[2].Addr})
	})

	t.Run("should place positions within the ring size", func(t *testing.T) {
		r := Build(64, addrs(int32Range(20)...))
		for _, n := range r.Nodes() {
			assert.Less(t, n.Position, uint64(64))
			assert.Equal(t, r.PositionOf(n.Addr), n.Position)
		}
	})

	t.Run("should default the size", func(t *testing.T) {
		assert.Equal(t, uint64(DefaultSize), Build(0, nil).Size())
	})
}

func TestRing_Determinism(t *testing.T) {
	r1 := Build(DefaultSize, addrs(1, 2, 3, 4, 5, 6))
	r2 := Build(DefaultSize, addrs(6, 5, 4, 3, 2, 1))

	assert.True(t, r1.Equal(r2))

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		assert.Equal(t, r1.FindReplicas(key), r2.FindReplicas(key), key)
	}
}

func TestRing_Contains(t *testing.T) {
	r := Build(DefaultSize, addrs(1, 2, 3))
	assert.True(t, r.Contains(cluster.Address{ID: 2}))
	assert.False(t, r.Contains(cluster.Address{ID: 4}))
}

func int32Range(n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(i + 1)
	}
	return out
}
