package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/cellemitter/emitter/internal/metrics"
	"github.com/cellemitter/emitter/pkg/types"
)

// InstrumentedClient records the latency of every call made through it
type InstrumentedClient struct {
	inner     Client
	collector *metrics.Collector
}

// NewInstrumentedClient wraps inner. A nil collector returns inner as is.
func NewInstrumentedClient(inner Client, collector *metrics.Collector) Client {
	if collector == nil {
		return inner
	}
	return &InstrumentedClient{inner: inner, collector: collector}
}

// GetIndexerTip implements Client
func (c *InstrumentedClient) GetIndexerTip(ctx context.Context) (*IndexerTip, error) {
	defer c.observe("get_indexer_tip", time.Now())
	return c.inner.GetIndexerTip(ctx)
}

// GetHeaderByNumber implements Client
func (c *InstrumentedClient) GetHeaderByNumber(ctx context.Context, number uint64) (*Header, error) {
	defer c.observe("get_header_by_number", time.Now())
	return c.inner.GetHeaderByNumber(ctx, number)
}

// GetTransactions implements Client
func (c *InstrumentedClient) GetTransactions(ctx context.Context, key types.IndexerSearchKey, order Order, limit uint64, after hexutil.Bytes) (*TransactionPage, error) {
	defer c.observe("get_transactions", time.Now())
	return c.inner.GetTransactions(ctx, key, order, limit, after)
}

func (c *InstrumentedClient) observe(method string, start time.Time) {
	c.collector.ObserveChainCall(method, time.Since(start).Seconds())
}
