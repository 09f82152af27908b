package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gossipkv/internal/clock"
	"gossipkv/internal/cluster"
	"gossipkv/internal/eventlog"
	"gossipkv/internal/message"
	"gossipkv/internal/quorum"
	"gossipkv/internal/replication"
	"gossipkv/internal/storage"
)

var (
	coordinatorAddr = cluster.Address{ID: 1}
	replicaAddr     = cluster.Address{ID: 2}
)

type captureSender struct {
	out []*message.Data
	to  []cluster.Address
}

func (c *captureSender) Send(to cluster.Address, m message.Message) {
	c.to = append(c.to, to)
	c.out = append(c.out, m.(*message.Data))
}

func newReplica(t *testing.T) (*ReplicaServer, *captureSender, *eventlog.Recorder, storage.Store, *clock.SimClock) {
	t.Helper()
	clk := clock.NewSimClock()
	store := storage.NewInMemoryStore()
	sender := &captureSender{}
	rec := eventlog.NewRecorder()
	return NewReplicaServer(replicaAddr, clk, store, sender, rec, nil, nil), sender, rec, store, clk
}

func request(kind message.Kind, tx int64, key, value string) *message.Data {
	return &message.Data{Type: kind, TxID: tx, Sender: coordinatorAddr, Key: key, Value: value}
}

func TestReplicaServerCreate(t *testing.T) {
	srv, sender, rec, store, clk := newReplica(t)
	clk.Set(7)

	req := request(message.KindCreate, 3, "k", "v")
	req.Role = replication.Secondary
	srv.Handle(req)

	raw, err := store.Read("k")
	require.NoError(t, err)
	entry, err := storage.DecodeEntry(raw)
	require.NoError(t, err)
	assert.Equal(t, storage.Entry{Value: "v", Timestamp: 7, Role: replication.Secondary}, entry)

	require.Len(t, sender.out, 1)
	assert.Equal(t, coordinatorAddr, sender.to[0])
	assert.Equal(t, message.KindReply, sender.out[0].Type)
	assert.Equal(t, int64(3), sender.out[0].TxID)
	assert.True(t, sender.out[0].Success)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, eventlog.EventOpSuccess, events[0].Type)
	assert.False(t, events[0].Coordinator)

	t.Run("duplicate create fails", func(t *testing.T) {
		srv.Handle(request(message.KindCreate, 4, "k", "other"))
		assert.False(t, sender.out[1].Success)
		assert.Equal(t, eventlog.EventOpFail, rec.Events()[1].Type)
	})
}

func TestReplicaServerRead(t *testing.T) {
	srv, sender, rec, _, _ := newReplica(t)

	t.Run("miss logs failure and replies empty", func(t *testing.T) {
		srv.Handle(request(message.KindRead, 1, "missing", ""))

		require.Len(t, sender.out, 1)
		assert.Equal(t, message.KindReadReply, sender.out[0].Type)
		assert.Empty(t, sender.out[0].Value)
		assert.Equal(t, eventlog.EventOpFail, rec.Events()[0].Type)
	})

	t.Run("hit returns the unwrapped value", func(t *testing.T) {
		srv.Handle(request(message.KindCreate, 2, "k", "v"))
		srv.Handle(request(message.KindRead, 3, "k", ""))

		last := sender.out[len(sender.out)-1]
		assert.Equal(t, message.KindReadReply, last.Type)
		assert.Equal(t, "v", last.Value)
		events := rec.Events()
		assert.Equal(t, eventlog.EventOpSuccess, events[len(events)-1].Type)
		assert.Equal(t, "v", events[len(events)-1].Value)
	})
}

func TestReplicaServerUpdateDelete(t *testing.T) {
	srv, sender, _, store, _ := newReplica(t)

	srv.Handle(request(message.KindUpdate, 1, "k", "v"))
	assert.False(t, sender.out[0].Success, "update of a missing key fails")

	srv.Handle(request(message.KindCreate, 2, "k", "v"))
	srv.Handle(request(message.KindUpdate, 3, "k", "v2"))
	assert.True(t, sender.out[2].Success)

	raw, err := store.Read("k")
	require.NoError(t, err)
	entry, err := storage.DecodeEntry(raw)
	require.NoError(t, err)
	assert.Equal(t, "v2", entry.Value)

	srv.Handle(request(message.KindDelete, 4, "k", ""))
	assert.True(t, sender.out[3].Success)
	srv.Handle(request(message.KindDelete, 5, "k", ""))
	assert.False(t, sender.out[4].Success)
	assert.Zero(t, store.Len())
}

func TestReplicaServerSilentRequests(t *testing.T) {
	srv, sender, rec, store, _ := newReplica(t)

	srv.Handle(request(message.KindCreate, quorum.SilentTxID, "k", "v"))
	srv.Handle(request(message.KindCreate, quorum.SilentTxID, "k", "v"))
	srv.Handle(request(message.KindRead, quorum.SilentTxID, "k", ""))

	assert.Equal(t, 1, store.Len())
	assert.Empty(t, sender.out)
	assert.Empty(t, rec.Events())
}
