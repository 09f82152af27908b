package repair

import (
	"maps"
	"slices"

	"go.uber.org/zap"

	"gossipkv/internal/metrics"
	"gossipkv/internal/storage"
)

// Reissuer re-creates a key on its current replicas without tracking or
// logging the write.
type Reissuer interface {
	CreateSilent(key, value string)
}

// Result summarizes one stabilization pass.
type Result struct {
	Reissued int
	Skipped  int
}

// Stabilizer relocates a node's local data.
type Stabilizer struct {
	store    storage.Store
	reissuer Reissuer
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewStabilizer creates a stabilizer over store. logger and m may be nil.
func NewStabilizer(store storage.Store, reissuer Reissuer, logger *zap.Logger, m *metrics.Metrics) *Stabilizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stabilizer{
		store:    store,
		reissuer: reissuer,
		logger:   logger,
		metrics:  m,
	}
}

// Run snapshots and clears the store, then re-issues a silent CREATE for
// every entry in key order. Entries that cannot be decoded are dropped.
func (s *Stabilizer) Run() Result {
	snapshot := s.store.Snapshot()
	s.store.Clear()

	var res Result
	for _, key := range slices.Sorted(maps.Keys(snapshot)) {
		entry, err := storage.DecodeEntry(snapshot[key])
		if err != nil {
			s.logger.Warn("Dropping undecodable entry",
				zap.String("key", key),
				zap.Error(err))
			res.Skipped++
			continue
		}
		s.reissuer.CreateSilent(key, entry.Value)
		res.Reissued++
	}

	if res.Reissued > 0 || res.Skipped > 0 {
		s.logger.Debug("Stabilized",
			zap.Int("reissued", res.Reissued),
			zap.Int("skipped", res.Skipped))
	}
	s.metrics.Stabilized(res.Reissued)
	return res
}
