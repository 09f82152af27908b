package gossip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gossipkv/internal/clock"
	"gossipkv/internal/cluster"
	"gossipkv/internal/eventlog"
	"gossipkv/internal/message"
)

type sent struct {
	to  cluster.Address
	msg *message.Membership
}

type captureSender struct {
	out []sent
}

func (c *captureSender) Send(to cluster.Address, m message.Message) {
	c.out = append(c.out, sent{to: to, msg: m.(*message.Membership)})
}

func (c *captureSender) take() []sent {
	out := c.out
	c.out = nil
	return out
}

func addr(id int32) cluster.Address {
	return cluster.Address{ID: id}
}

type fixture struct {
	clk    *clock.SimClock
	sender *captureSender
	rec    *eventlog.Recorder
	engine *Engine
}

func newFixture(t *testing.T, self cluster.Address) *fixture {
	f := &fixture{
		clk:    clock.NewSimClock(),
		sender: &captureSender{},
		rec:    eventlog.NewRecorder(),
	}
	f.engine = NewEngine(self, f.clk, f.sender, f.rec, WithLogger(zaptest.NewLogger(t)))
	return f
}

func (f *fixture) count(typ eventlog.EventType) int {
	return f.rec.Count(func(e eventlog.Event) bool { return e.Type == typ })
}

func TestEngineStart(t *testing.T) {
	t.Run("introducer forms the group alone", func(t *testing.T) {
		f := newFixture(t, addr(1))
		assert.Equal(t, Uninitialized, f.engine.State())

		f.engine.Start()
		assert.Equal(t, InGroup, f.engine.State())
		assert.Empty(t, f.sender.out)
	})

	t.Run("joiner asks the introducer on its own port", func(t *testing.T) {
		self := cluster.Address{ID: 4, Port: 7000}
		f := newFixture(t, self)

		f.engine.Start()
		assert.Equal(t, Joining, f.engine.State())

		out := f.sender.take()
		require.Len(t, out, 1)
		assert.Equal(t, cluster.Address{ID: 1, Port: 7000}, out[0].to)
		assert.Equal(t, message.KindJoinReq, out[0].msg.Type)
		assert.Equal(t, self, out[0].msg.Sender)
	})

	t.Run("joiner repeats the request every tick until admitted", func(t *testing.T) {
		f := newFixture(t, addr(2))
		f.engine.Start()
		f.sender.take()

		f.engine.Tick()
		out := f.sender.take()
		require.Len(t, out, 1)
		assert.Equal(t, message.KindJoinReq, out[0].msg.Type)
		assert.Equal(t, int64(1), out[0].msg.Heartbeat)

		require.NoError(t, f.engine.Handle(&message.Membership{Type: message.KindJoinRep, Sender: addr(1)}))
		f.engine.Tick()
		assert.Empty(t, f.sender.take())
	})

	t.Run("uninitialized node ignores traffic", func(t *testing.T) {
		f := newFixture(t, addr(2))
		require.NoError(t, f.engine.Handle(&message.Membership{Type: message.KindPing, Sender: addr(3)}))
		assert.Empty(t, f.engine.Members())
		assert.Empty(t, f.sender.out)
	})
}

func TestEngineJoinRequest(t *testing.T) {
	f := newFixture(t, addr(1))
	f.engine.Start()

	req := &message.Membership{Type: message.KindJoinReq, Sender: addr(2)}
	require.NoError(t, f.engine.Handle(req))
	require.NoError(t, f.engine.Handle(&message.Membership{Type: message.KindJoinReq, Sender: addr(3)}))
	// a retried request is answered but not logged again
	require.NoError(t, f.engine.Handle(req))

	assert.Equal(t, []cluster.Address{addr(2), addr(3)}, f.engine.Members())
	assert.Equal(t, 2, f.count(eventlog.EventNodeAdded))

	out := f.sender.take()
	require.Len(t, out, 3)
	last := out[2]
	assert.Equal(t, addr(2), last.to)
	assert.Equal(t, message.KindJoinRep, last.msg.Type)
	assert.Equal(t, []cluster.Address{addr(1), addr(2), addr(3)}, last.msg.Members)
}

func TestEngineJoinReply(t *testing.T) {
	f := newFixture(t, addr(3))
	f.engine.Start()

	rep := &message.Membership{
		Type:    message.KindJoinRep,
		Sender:  addr(1),
		Members: []cluster.Address{addr(1), addr(2), addr(3)},
	}
	require.NoError(t, f.engine.Handle(rep))

	assert.True(t, f.engine.InGroup())
	assert.Equal(t, []cluster.Address{addr(1), addr(2)}, f.engine.Members())
	assert.Equal(t, 2, f.count(eventlog.EventNodeAdded))
	for _, e := range f.rec.Events() {
		assert.Equal(t, addr(3), e.Self)
		assert.NotEqual(t, addr(3), e.Peer)
	}
}

func TestEnginePingPong(t *testing.T) {
	f := newFixture(t, addr(1))
	f.engine.Start()

	t.Run("ping inserts the sender and answers with pong", func(t *testing.T) {
		require.NoError(t, f.engine.Handle(&message.Membership{Type: message.KindPing, Sender: addr(2)}))

		assert.Equal(t, []cluster.Address{addr(2)}, f.engine.Members())
		out := f.sender.take()
		require.Len(t, out, 1)
		assert.Equal(t, message.KindPong, out[0].msg.Type)
		assert.Equal(t, addr(2), out[0].to)
		assert.Equal(t, []cluster.Address{addr(1), addr(2)}, out[0].msg.Members)
	})

	t.Run("pong probes unknown members instead of inserting them", func(t *testing.T) {
		pong := &message.Membership{
			Type:    message.KindPong,
			Sender:  addr(2),
			Members: []cluster.Address{addr(1), addr(2), addr(4), addr(5)},
		}
		require.NoError(t, f.engine.Handle(pong))

		assert.Equal(t, []cluster.Address{addr(2)}, f.engine.Members())
		out := f.sender.take()
		require.Len(t, out, 2)
		assert.Equal(t, addr(4), out[0].to)
		assert.Equal(t, addr(5), out[1].to)
		for _, s := range out {
			assert.Equal(t, message.KindPing, s.msg.Type)
		}
	})

	t.Run("ping refreshes the last seen time", func(t *testing.T) {
		f.clk.Set(5)
		require.NoError(t, f.engine.Handle(&message.Membership{Type: message.KindPing, Sender: addr(2)}))
		ts, ok := f.engine.table.LastSeen(addr(2))
		require.True(t, ok)
		assert.Equal(t, int64(5), ts)
	})
}

func TestEnginePingAll(t *testing.T) {
	f := newFixture(t, addr(1))
	f.engine.Start()
	for _, id := range []int32{4, 2, 3} {
		f.engine.table.Touch(addr(id), 0)
	}

	f.engine.Tick()
	f.engine.PingAll()

	out := f.sender.take()
	require.Len(t, out, 3)
	for i, id := range []int32{2, 3, 4} {
		assert.Equal(t, addr(id), out[i].to)
		assert.Equal(t, message.KindPing, out[i].msg.Type)
		assert.Equal(t, int64(1), out[i].msg.Heartbeat)
		assert.Len(t, out[i].msg.Members, 4)
	}
}

func TestEngineEvict(t *testing.T) {
	f := newFixture(t, addr(1))
	f.engine.Start()
	require.NoError(t, f.engine.Handle(&message.Membership{Type: message.KindPing, Sender: addr(2)}))
	f.clk.Set(1)
	require.NoError(t, f.engine.Handle(&message.Membership{Type: message.KindPing, Sender: addr(3)}))

	f.clk.Set(2)
	assert.Empty(t, f.engine.Evict())

	f.clk.Set(3)
	assert.Equal(t, []cluster.Address{addr(2)}, f.engine.Evict())
	assert.Equal(t, []cluster.Address{addr(3)}, f.engine.Members())

	f.clk.Set(4)
	assert.Equal(t, []cluster.Address{addr(3)}, f.engine.Evict())
	assert.Empty(t, f.engine.Evict())

	assert.Equal(t, 2, f.count(eventlog.EventNodeRemoved))
}

func TestEngineCustomThreshold(t *testing.T) {
	clk := clock.NewSimClock()
	e := NewEngine(addr(1), clk, &captureSender{}, nil, WithFailureThreshold(5))
	e.Start()
	require.NoError(t, e.Handle(&message.Membership{Type: message.KindPing, Sender: addr(2)}))

	clk.Set(5)
	assert.Empty(t, e.Evict())
	clk.Set(6)
	assert.Len(t, e.Evict(), 1)
}

func TestEngineRejectsDataKinds(t *testing.T) {
	f := newFixture(t, addr(1))
	f.engine.Start()

	err := f.engine.Handle(&message.Membership{Type: message.KindCreate, Sender: addr(2)})
	assert.ErrorIs(t, err, message.ErrUnknownKind)
	assert.Empty(t, f.engine.Members())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "UNINITIALIZED", Uninitialized.String())
	assert.Equal(t, "JOINING", Joining.String())
	assert.Equal(t, "IN_GROUP", InGroup.String())
	assert.Equal(t, "UNKNOWN", State(9).String())
}
