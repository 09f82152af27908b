package eventlog

import (
	"go.uber.org/zap"

	"gossipkv/internal/cluster"
	"gossipkv/internal/message"
)

// ZapSink writes audit records as structured log lines.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a sink on top of logger. Records are tagged
// event=audit so they can be separated from diagnostics.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.With(zap.String("event", "audit"))}
}

func (s *ZapSink) NodeAdded(self, peer cluster.Address) {
	s.logger.Info("Node added",
		zap.Stringer("self", self),
		zap.Stringer("peer", peer))
}

func (s *ZapSink) NodeRemoved(self, peer cluster.Address) {
	s.logger.Info("Node removed",
		zap.Stringer("self", self),
		zap.Stringer("peer", peer))
}

func (s *ZapSink) OpSuccess(self cluster.Address, op message.Kind, coordinator bool, txID int64, key, value string) {
	s.logger.Info("Operation succeeded", opFields(self, op, coordinator, txID, key, value)...)
}

func (s *ZapSink) OpFail(self cluster.Address, op message.Kind, coordinator bool, txID int64, key, value string) {
	s.logger.Info("Operation failed", opFields(self, op, coordinator, txID, key, value)...)
}

func opFields(self cluster.Address, op message.Kind, coordinator bool, txID int64, key, value string) []zap.Field {
	return []zap.Field{
		zap.Stringer("self", self),
		zap.Stringer("op", op),
		zap.Bool("coordinator", coordinator),
		zap.Int64("tx_id", txID),
		zap.String("key", key),
		zap.String("value", value),
	}
}
