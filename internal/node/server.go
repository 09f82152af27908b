package node

import (
	"go.uber.org/zap"

	"gossipkv/internal/clock"
	"gossipkv/internal/cluster"
	"gossipkv/internal/eventlog"
	"gossipkv/internal/message"
	"gossipkv/internal/metrics"
	"gossipkv/internal/quorum"
	"gossipkv/internal/storage"
)

// ReplicaServer applies CREATE, READ, UPDATE and DELETE requests to the
// local store and answers the coordinator.
type ReplicaServer struct {
	self    cluster.Address
	clock   clock.Clock
	store   storage.Store
	sender  message.Sender
	sink    eventlog.Sink
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewReplicaServer creates a new replica server instance.
func NewReplicaServer(self cluster.Address, clk clock.Clock, store storage.Store, sender message.Sender, sink eventlog.Sink, logger *zap.Logger, m *metrics.Metrics) *ReplicaServer {
	if sink == nil {
		sink = eventlog.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplicaServer{
		self:    self,
		clock:   clk,
		store:   store,
		sender:  sender,
		sink:    sink,
		logger:  logger,
		metrics: m,
	}
}

// Handle applies one request. Requests under quorum.SilentTxID are applied
// without logging or replying.
func (s *ReplicaServer) Handle(m *message.Data) {
	switch m.Type {
	case message.KindCreate:
		ok := s.write(m, s.store.Create)
		s.finish(m, ok, m.Value)
		s.reply(m, ok)

	case message.KindUpdate:
		ok := s.write(m, s.store.Update)
		s.finish(m, ok, m.Value)
		s.reply(m, ok)

	case message.KindDelete:
		err := s.store.Delete(m.Key)
		s.finish(m, err == nil, "")
		s.reply(m, err == nil)

	case message.KindRead:
		value := s.read(m.Key)
		s.finish(m, value != "", value)
		if m.TxID != quorum.SilentTxID {
			s.sender.Send(m.Sender, &message.Data{
				Type:   message.KindReadReply,
				TxID:   m.TxID,
				Sender: s.self,
				Key:    m.Key,
				Value:  value,
			})
		}

	default:
		s.logger.Warn("Replica got a non-request message", zap.Stringer("kind", m.Type))
	}
}

// write wraps the value with the current time and role, then stores it.
func (s *ReplicaServer) write(m *message.Data, put func(key, value string) error) bool {
	raw, err := storage.EncodeEntry(storage.Entry{
		Value:     m.Value,
		Timestamp: s.clock.Now(),
		Role:      m.Role,
	})
	if err != nil {
		s.logger.Warn("Failed to encode entry", zap.String("key", m.Key), zap.Error(err))
		return false
	}
	return put(m.Key, raw) == nil
}

// read returns the stored value for key, or "" on a miss.
func (s *ReplicaServer) read(key string) string {
	raw, err := s.store.Read(key)
	if err != nil {
		return ""
	}
	entry, err := storage.DecodeEntry(raw)
	if err != nil {
		s.logger.Warn("Failed to decode entry", zap.String("key", key), zap.Error(err))
		return ""
	}
	return entry.Value
}

func (s *ReplicaServer) finish(m *message.Data, ok bool, value string) {
	if m.TxID == quorum.SilentTxID {
		return
	}

	s.metrics.ReplicaOp(m.Type.String(), ok)
	if ok {
		s.sink.OpSuccess(s.self, m.Type, false, m.TxID, m.Key, value)
	} else {
		s.sink.OpFail(s.self, m.Type, false, m.TxID, m.Key, value)
	}
	s.logger.Debug("Replica operation",
		zap.Stringer("op", m.Type),
		zap.Int64("tx_id", m.TxID),
		zap.String("key", m.Key),
		zap.Bool("ok", ok))
}

func (s *ReplicaServer) reply(m *message.Data, ok bool) {
	if m.TxID == quorum.SilentTxID {
		return
	}
	s.sender.Send(m.Sender, &message.Data{
		Type:    message.KindReply,
		TxID:    m.TxID,
		Sender:  s.self,
		Key:     m.Key,
		Success: ok,
	})
}
