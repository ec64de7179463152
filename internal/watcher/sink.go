package watcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/cellemitter/emitter/internal/chain"
	"github.com/cellemitter/emitter/internal/metrics"
	"github.com/cellemitter/emitter/pkg/logger"
	"github.com/cellemitter/emitter/pkg/types"
)

// Sink receives the transactions a watcher matched for its key.
//
// A Sink is shared by every watcher and must be safe for concurrent use.
// A returned error makes the watcher rescan the same blocks later.
type Sink interface {
	Deliver(ctx context.Context, key types.SearchKey, txs []chain.Transaction) error
}

// LogSink logs every matched transaction
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a sink that writes matches to log
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{logger: log.Named("sink")}
}

// Deliver implements Sink
func (s *LogSink) Deliver(_ context.Context, key types.SearchKey, txs []chain.Transaction) error {
	for _, tx := range txs {
		s.logger.Info("matched transaction",
			zap.Stringer("key", key),
			zap.String("tx_hash", tx.TxHash.Hex()),
			zap.Uint64("block_number", uint64(tx.BlockNumber)),
			zap.Uint64("tx_index", uint64(tx.TxIndex)),
			zap.Int("cells", len(tx.Cells)))
	}
	return nil
}

// CountingSink counts matches per key and forwards them to the metrics
// collector
type CountingSink struct {
	collector *metrics.Collector

	mu     sync.Mutex
	counts map[string]int
	txs    map[string][]chain.Transaction
}

// NewCountingSink creates a counting sink. collector may be nil.
func NewCountingSink(collector *metrics.Collector) *CountingSink {
	return &CountingSink{
		collector: collector,
		counts:    make(map[string]int),
		txs:       make(map[string][]chain.Transaction),
	}
}

// Deliver implements Sink
func (s *CountingSink) Deliver(_ context.Context, key types.SearchKey, txs []chain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.ID()
	s.counts[id] += len(txs)
	s.txs[id] = append(s.txs[id], txs...)
	s.collector.RecordMatched(len(txs))
	return nil
}

// Count returns how many transactions were delivered for key
func (s *CountingSink) Count(key types.SearchKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key.ID()]
}

// Transactions returns a copy of the transactions delivered for key
func (s *CountingSink) Transactions(key types.SearchKey) []chain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chain.Transaction(nil), s.txs[key.ID()]...)
}

// MultiSink fans deliveries out to several sinks in order, stopping at the
// first error
type MultiSink []Sink

// Deliver implements Sink
func (m MultiSink) Deliver(ctx context.Context, key types.SearchKey, txs []chain.Transaction) error {
	for _, s := range m {
		if err := s.Deliver(ctx, key, txs); err != nil {
			return err
		}
	}
	return nil
}
