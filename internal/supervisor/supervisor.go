// Package supervisor owns the cancellable handles of running watchers.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/cellemitter/emitter/pkg/logger"
	"github.com/cellemitter/emitter/pkg/types"
)

var (
	// ErrAlreadySpawned is returned when a key already has a live handle
	ErrAlreadySpawned = errors.New("watcher already spawned")

	// ErrShutdown is returned by Spawn after Shutdown has been called
	ErrShutdown = errors.New("supervisor shut down")
)

// WatcherFunc is the body of a watcher goroutine. It must return once ctx
// is cancelled.
type WatcherFunc func(ctx context.Context) error

// Handle is the cancellable handle of one running watcher
type Handle struct {
	key     types.SearchKey
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
}

// Key returns the search key the watcher serves
func (h *Handle) Key() types.SearchKey {
	return h.key
}

// Done is closed once the watcher goroutine has returned
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the watcher acknowledges cancellation or timeout
// elapses. A non-positive timeout waits forever.
func (h *Handle) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-h.done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	}
}

// Supervisor owns the watcher goroutines, one per registered key.
//
// Thread-safety: all public methods are safe for concurrent use.
type Supervisor struct {
	logger  *logger.Logger
	handles *xsync.MapOf[string, *Handle]
	running *atomic.Int64

	// mu orders wg.Add in Spawn against wg.Wait in Shutdown
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a supervisor with no running watchers
func New(log *logger.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())

	return &Supervisor{
		logger:  log.Named("supervisor"),
		handles: xsync.NewMapOf[*Handle](),
		running: atomic.NewInt64(0),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Spawn starts fn in its own goroutine and records its handle under key
func (s *Supervisor) Spawn(key types.SearchKey, fn WatcherFunc) (*Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrShutdown
	}

	ctx, cancel := context.WithCancel(s.ctx)
	h := &Handle{
		key:     key,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}

	if _, loaded := s.handles.LoadOrStore(key.ID(), h); loaded {
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrAlreadySpawned, key)
	}

	s.wg.Add(1)
	s.running.Inc()
	go s.run(ctx, h, fn)

	return h, nil
}

// Cancel requests termination of the watcher for key and removes its
// handle. It does not wait; use the returned handle to await acknowledgment.
func (s *Supervisor) Cancel(key types.SearchKey) (*Handle, bool) {
	h, ok := s.handles.LoadAndDelete(key.ID())
	if !ok {
		return nil, false
	}
	h.cancel()
	return h, true
}

// Has reports whether key has a handle
func (s *Supervisor) Has(key types.SearchKey) bool {
	_, ok := s.handles.Load(key.ID())
	return ok
}

// Len returns the number of handles
func (s *Supervisor) Len() int {
	return s.handles.Size()
}

// Running returns the number of watcher goroutines that have not returned,
// including cancelled ones still draining.
func (s *Supervisor) Running() int64 {
	return s.running.Load()
}

// Shutdown cancels every watcher and waits for all of them to return
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.handles.Range(func(id string, _ *Handle) bool {
		s.handles.Delete(id)
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d watchers: %w", s.running.Load(), ctx.Err())
	}
}

func (s *Supervisor) run(ctx context.Context, h *Handle, fn WatcherFunc) {
	defer s.wg.Done()
	defer close(h.done)
	defer s.running.Dec()

	err := fn(ctx)

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		s.logger.Debug("watcher stopped",
			zap.Stringer("key", h.key),
			zap.Duration("uptime", time.Since(h.started)))
	default:
		s.logger.Error("watcher exited",
			zap.Stringer("key", h.key),
			zap.Error(err))
	}
}
