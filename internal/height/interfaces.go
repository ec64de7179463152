package height

import (
	"context"

	"github.com/cellemitter/emitter/internal/chain"
)

// TipProvider reports the chain indexer's tip. chain.Client satisfies it.
//
// Implementations must be thread-safe as they may be called concurrently
// by the monitoring goroutine.
type TipProvider interface {
	// GetIndexerTip returns the block the indexer has reached.
	GetIndexerTip(ctx context.Context) (*chain.IndexerTip, error)
}
