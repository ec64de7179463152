// Package watcher implements the per-key scanners that advance a
// registration's tip.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/cellemitter/emitter/internal/chain"
	"github.com/cellemitter/emitter/internal/config"
	"github.com/cellemitter/emitter/internal/metrics"
	"github.com/cellemitter/emitter/internal/tipcell"
	"github.com/cellemitter/emitter/pkg/logger"
	"github.com/cellemitter/emitter/pkg/types"
)

// Poller follows the chain indexer on a fixed interval. Each round it scans
// the blocks between the registration's tip and the indexer tip in batches,
// hands the matches to a Sink and publishes the header at the end of every
// batch.
type Poller struct {
	cfg       config.WatcherConfig
	sink      Sink
	collector *metrics.Collector
	logger    *logger.Logger
}

// NewPoller creates a poller. Zero config values fall back to defaults.
func NewPoller(cfg config.WatcherConfig, sink Sink, collector *metrics.Collector, log *logger.Logger) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = config.DefaultPageSize
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = config.DefaultRetryBase
	}
	if cfg.RetryCap < cfg.RetryBase {
		cfg.RetryCap = cfg.RetryBase
	}
	if sink == nil {
		sink = NewLogSink(log)
	}

	return &Poller{
		cfg:       cfg,
		sink:      sink,
		collector: collector,
		logger:    log.Named("watcher"),
	}
}

// Run scans for key until ctx is cancelled or the cell is sealed. It only
// returns an error when the chain reports a tip behind the one already
// published.
func (p *Poller) Run(ctx context.Context, key types.SearchKey, client chain.Client, cell *tipcell.Cell) error {
	log := p.logger.With(zap.Stringer("key", key))
	log.Debug("watcher started", zap.Uint64("tip", cell.Load().Number()))

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		err := p.poll(ctx, key, client, cell, log)
		switch {
		case err == nil:
		case errors.Is(err, tipcell.ErrSealed), ctx.Err() != nil:
			return nil
		case errors.Is(err, tipcell.ErrRegression):
			log.Error("chain tip regressed", zap.Error(err))
			return err
		default:
			log.Warn("poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll catches the cell up with the indexer tip
func (p *Poller) poll(ctx context.Context, key types.SearchKey, client chain.Client, cell *tipcell.Cell, log *logger.Logger) error {
	if cell.Sealed() {
		return tipcell.ErrSealed
	}

	var target uint64
	err := p.retry(ctx, "get_indexer_tip", func(ctx context.Context) error {
		tip, err := client.GetIndexerTip(ctx)
		if err != nil {
			return err
		}
		target = uint64(tip.BlockNumber)
		return nil
	})
	if err != nil {
		return err
	}

	current := cell.Load().Number()
	for current < target {
		end := current + p.cfg.BatchSize
		if end > target {
			end = target
		}

		matched, err := p.scan(ctx, key, client, current+1, end)
		if err != nil {
			return err
		}
		if len(matched) > 0 {
			if err := p.sink.Deliver(ctx, key, matched); err != nil {
				return fmt.Errorf("deliver blocks %d-%d: %w", current+1, end, err)
			}
		}

		var header *chain.Header
		err = p.retry(ctx, "get_header_by_number", func(ctx context.Context) error {
			h, err := client.GetHeaderByNumber(ctx, end)
			if err != nil {
				return err
			}
			header = h
			return nil
		})
		if err != nil {
			return err
		}

		if err := cell.Publish(header.Tip()); err != nil {
			return err
		}
		p.collector.RecordPublish()
		log.Debug("tip advanced",
			zap.Uint64("from", current),
			zap.Uint64("to", end),
			zap.Int("matched", len(matched)))
		current = end
	}
	return nil
}

// scan returns the transactions matching key in blocks [from, to]
func (p *Poller) scan(ctx context.Context, key types.SearchKey, client chain.Client, from, to uint64) ([]chain.Transaction, error) {
	query := key.IndexerKey(types.NewRange(from, to+1))

	var (
		matched []chain.Transaction
		cursor  []byte
	)
	for {
		var page *chain.TransactionPage
		err := p.retry(ctx, "get_transactions", func(ctx context.Context) error {
			pg, err := client.GetTransactions(ctx, query, chain.OrderAsc, p.cfg.PageSize, cursor)
			if err != nil {
				return err
			}
			page = pg
			return nil
		})
		if err != nil {
			return nil, err
		}

		matched = append(matched, page.Objects...)
		if uint64(len(page.Objects)) < p.cfg.PageSize || len(page.LastCursor) == 0 {
			return matched, nil
		}
		cursor = page.LastCursor
	}
}

// retry runs fn with capped exponential backoff until it succeeds or ctx
// ends. Context errors are never retried.
func (p *Poller) retry(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	backoff := retry.NewExponential(p.cfg.RetryBase)
	backoff = retry.WithCappedDuration(p.cfg.RetryCap, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.collector.RecordWatcherError()
		p.logger.Debug("chain call failed, retrying", zap.String("method", method), zap.Error(err))
		return retry.RetryableError(fmt.Errorf("%s: %w", method, err))
	})
}
