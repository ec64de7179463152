// Package emitter coordinates registrations: it owns the registration
// table, the watcher supervisor and the chain client, and keeps table
// entries and watcher handles in lockstep.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/cellemitter/emitter/internal/chain"
	"github.com/cellemitter/emitter/internal/config"
	"github.com/cellemitter/emitter/internal/metrics"
	"github.com/cellemitter/emitter/internal/registry"
	"github.com/cellemitter/emitter/internal/supervisor"
	"github.com/cellemitter/emitter/internal/tipcell"
	"github.com/cellemitter/emitter/pkg/logger"
	"github.com/cellemitter/emitter/pkg/types"
)

var (
	// ErrChainData is returned by Register when the tip or header lookup fails
	ErrChainData = errors.New("chain data unavailable")

	// ErrClosed is returned by Register after Close
	ErrClosed = errors.New("emitter closed")

	// ErrInconsistentState reports a table entry without a watcher handle or
	// the reverse. It is raised as a panic, never returned.
	ErrInconsistentState = errors.New("registration table and watcher supervisor out of sync")
)

// Watcher advances a registration's tip cell. Run must return promptly once
// ctx is cancelled and must never publish to cell after returning.
type Watcher interface {
	Run(ctx context.Context, key types.SearchKey, client chain.Client, cell *tipcell.Cell) error
}

// WatcherFunc adapts a function to Watcher
type WatcherFunc func(ctx context.Context, key types.SearchKey, client chain.Client, cell *tipcell.Cell) error

// Run implements Watcher
func (f WatcherFunc) Run(ctx context.Context, key types.SearchKey, client chain.Client, cell *tipcell.Cell) error {
	return f(ctx, key, client, cell)
}

// Service implements register, delete and info.
//
// Per-key commits (table insert plus watcher spawn, table remove plus
// watcher cancel) happen under a striped lock so no caller ever sees one
// without the other. Network lookups happen outside the lock.
type Service struct {
	client      chain.Client
	watcher     Watcher
	table       *registry.Table
	supervisor  *supervisor.Supervisor
	collector   *metrics.Collector
	logger      *logger.Logger
	cancelGrace time.Duration

	stripes []sync.Mutex
	closed  *atomic.Bool
	started time.Time
}

// New creates an emitter service. collector may be nil.
func New(cfg config.EmitterConfig, client chain.Client, watcher Watcher, collector *metrics.Collector, log *logger.Logger) *Service {
	stripes := cfg.LockStripes
	if stripes <= 0 {
		stripes = config.DefaultLockStripes
	}
	grace := cfg.CancelGrace
	if grace <= 0 {
		grace = config.DefaultCancelGrace
	}

	return &Service{
		client:      client,
		watcher:     watcher,
		table:       registry.NewTable(),
		supervisor:  supervisor.New(log),
		collector:   collector,
		logger:      log.Named("emitter"),
		cancelGrace: grace,
		stripes:     make([]sync.Mutex, stripes),
		closed:      atomic.NewBool(false),
		started:     time.Now(),
	}
}

// Register starts watching key from block start.
//
// It returns false without error when key is already registered or when
// start is not below the current chain tip. Lookup failures are returned
// wrapped in ErrChainData and an invalid key in types.ErrInvalidSearchKey.
func (s *Service) Register(ctx context.Context, key types.SearchKey, start uint64) (bool, error) {
	if err := key.Validate(); err != nil {
		s.collector.RecordRegister(metrics.ResultInvalid)
		return false, err
	}
	key = key.Normalize()

	if s.closed.Load() {
		return false, ErrClosed
	}
	if s.table.Contains(key) {
		s.collector.RecordRegister(metrics.ResultExists)
		return false, nil
	}

	tip, err := s.client.GetIndexerTip(ctx)
	if err != nil {
		s.collector.RecordRegister(metrics.ResultError)
		return false, fmt.Errorf("%w: get indexer tip: %w", ErrChainData, err)
	}
	if start >= uint64(tip.BlockNumber) {
		s.collector.RecordRegister(metrics.ResultAhead)
		s.logger.Debug("start block not behind chain tip",
			zap.Stringer("key", key),
			zap.Uint64("start", start),
			zap.Uint64("tip", uint64(tip.BlockNumber)))
		return false, nil
	}

	header, err := s.client.GetHeaderByNumber(ctx, start)
	if err != nil {
		s.collector.RecordRegister(metrics.ResultError)
		return false, fmt.Errorf("%w: get header %d: %w", ErrChainData, start, err)
	}

	created, err := s.commit(key, tipcell.New(header.Tip()))
	if err != nil {
		return false, err
	}
	if !created {
		s.collector.RecordRegister(metrics.ResultExists)
		return false, nil
	}

	s.collector.RecordRegister(metrics.ResultCreated)
	s.updateGauges()
	s.logger.Info("registered",
		zap.Stringer("key", key),
		zap.Stringer("tip", header.Tip()))
	return true, nil
}

// commit inserts the cell and spawns its watcher as one step
func (s *Service) commit(key types.SearchKey, cell *tipcell.Cell) (bool, error) {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	if s.closed.Load() {
		return false, ErrClosed
	}
	if !s.table.InsertIfAbsent(key, cell) {
		return false, nil
	}

	_, err := s.supervisor.Spawn(key, func(ctx context.Context) error {
		return s.watcher.Run(ctx, key, s.client, cell)
	})
	if err == nil {
		return true, nil
	}

	s.table.Remove(key)
	if errors.Is(err, supervisor.ErrShutdown) {
		return false, ErrClosed
	}
	s.inconsistent(key, err)
	return false, nil
}

// Delete stops watching key and reports whether it was registered. Once it
// returns true the key's tip no longer changes. Delete waits up to the
// configured cancel grace for the watcher to exit.
func (s *Service) Delete(key types.SearchKey) bool {
	key = key.Normalize()

	mu := s.stripe(key)
	mu.Lock()
	cell, ok := s.table.Remove(key)
	if !ok {
		mu.Unlock()
		s.collector.RecordDelete(metrics.ResultMissing)
		return false
	}
	cell.Seal()
	handle, ok := s.supervisor.Cancel(key)
	mu.Unlock()

	if !ok {
		s.inconsistent(key, nil)
	}

	if !handle.Wait(s.cancelGrace) {
		s.logger.Warn("watcher did not stop within grace period",
			zap.Stringer("key", key),
			zap.Duration("grace", s.cancelGrace))
	}

	s.collector.RecordDelete(metrics.ResultDeleted)
	s.updateGauges()
	s.logger.Info("deleted",
		zap.Stringer("key", key),
		zap.Stringer("tip", cell.Load()))
	return true
}

// Info lists every registration with its current tip, ordered by key
func (s *Service) Info() []registry.Entry {
	return s.table.Snapshot()
}

// Tip returns the current tip of key
func (s *Service) Tip(key types.SearchKey) (types.TipSnapshot, bool) {
	cell, ok := s.table.Get(key.Normalize())
	if !ok {
		return types.TipSnapshot{}, false
	}
	return cell.Load(), true
}

// Status summarizes the service
type Status struct {
	Registrations  int           `json:"registrations"`
	WatchersActive int64         `json:"watchers_active"`
	Uptime         time.Duration `json:"uptime"`
	Closed         bool          `json:"closed"`
}

// Status returns a summary of the service
func (s *Service) Status() Status {
	return Status{
		Registrations:  s.table.Len(),
		WatchersActive: s.supervisor.Running(),
		Uptime:         time.Since(s.started),
		Closed:         s.closed.Load(),
	}
}

// Close deletes every registration and waits for all watchers to return or
// ctx to end. Register fails with ErrClosed afterwards.
func (s *Service) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Holding every stripe waits out in-flight commits; any commit that
	// follows sees closed.
	for i := range s.stripes {
		s.stripes[i].Lock()
	}
	removed := 0
	for _, entry := range s.table.Snapshot() {
		cell, ok := s.table.Remove(entry.Key)
		if !ok {
			continue
		}
		cell.Seal()
		if _, ok := s.supervisor.Cancel(entry.Key); !ok {
			s.unlockAll()
			s.inconsistent(entry.Key, nil)
		}
		removed++
	}
	s.unlockAll()

	s.logger.Info("closing", zap.Int("registrations", removed))
	err := s.supervisor.Shutdown(ctx)
	s.updateGauges()
	return err
}

func (s *Service) unlockAll() {
	for i := range s.stripes {
		s.stripes[i].Unlock()
	}
}

func (s *Service) stripe(key types.SearchKey) *sync.Mutex {
	return &s.stripes[xxhash.Sum64String(key.ID())%uint64(len(s.stripes))]
}

func (s *Service) updateGauges() {
	s.collector.SetRegistrations(s.table.Len())
	s.collector.SetWatchers(s.supervisor.Running())
}

// inconsistent aborts on a broken table/supervisor coupling
func (s *Service) inconsistent(key types.SearchKey, cause error) {
	err := fmt.Errorf("%w: key %s", ErrInconsistentState, key)
	if cause != nil {
		err = fmt.Errorf("%w: %w", err, cause)
	}
	s.logger.Error("internal consistency failure", zap.Stringer("key", key), zap.Error(err))
	panic(err)
}
