// Package height follows the chain indexer's tip for readiness checks and
// status reporting.
package height

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cellemitter/emitter/pkg/logger"
)

const (
	// DefaultPollInterval is the default interval for polling the indexer tip
	DefaultPollInterval = 5 * time.Second

	// DefaultSubscriberBufferSize is the buffer size for subscriber channels
	DefaultSubscriberBufferSize = 10
)

// TipMonitor polls the indexer tip and notifies subscribers when it changes.
//
// Thread-safety: All public methods are thread-safe and can be called concurrently.
type TipMonitor struct {
	provider TipProvider
	logger   *logger.Logger

	// State (protected by mu)
	current   uint64
	observed  bool
	lastErr   error
	updatedAt time.Time
	started   bool
	mu        sync.RWMutex

	pollInterval time.Duration

	// Subscriber management (protected by subMu)
	subscribers []chan<- uint64
	subMu       sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTipMonitor creates a stopped monitor. Call Start to begin polling.
func NewTipMonitor(provider TipProvider, interval time.Duration, log *logger.Logger) *TipMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &TipMonitor{
		provider:     provider,
		logger:       log.Named("height"),
		pollInterval: interval,
		subscribers:  make([]chan<- uint64, 0),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins polling. The first poll happens immediately.
//
// Returns an error if the monitor is already started.
func (m *TipMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("monitor already started")
	}
	m.started = true

	m.wg.Add(1)
	go m.monitorLoop()

	return nil
}

// Stop stops the monitor and waits for the polling goroutine to exit.
// Calling Stop more than once is safe.
func (m *TipMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Subscribe returns a channel that receives tip updates.
//
// Updates are dropped when the channel buffer is full.
func (m *TipMonitor) Subscribe() <-chan uint64 {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	ch := make(chan uint64, DefaultSubscriberBufferSize)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Current returns the last observed tip and whether any poll has succeeded
func (m *TipMonitor) Current() (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.observed
}

// Healthy reports whether the most recent poll succeeded
func (m *TipMonitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.observed && m.lastErr == nil
}

// LastError returns the error of the most recent poll, if it failed
func (m *TipMonitor) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// UpdatedAt returns when the tip last changed
func (m *TipMonitor) UpdatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updatedAt
}

func (m *TipMonitor) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		m.poll()

		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *TipMonitor) poll() {
	tip, err := m.provider.GetIndexerTip(m.ctx)
	if err != nil {
		if m.ctx.Err() != nil {
			return
		}
		m.mu.Lock()
		m.lastErr = err
		m.mu.Unlock()
		m.logger.Warn("failed to get indexer tip", zap.Error(err))
		return
	}

	number := uint64(tip.BlockNumber)

	m.mu.Lock()
	m.lastErr = nil
	if m.observed && number == m.current {
		m.mu.Unlock()
		return
	}
	old := m.current
	m.current = number
	m.observed = true
	m.updatedAt = time.Now()
	m.mu.Unlock()

	m.logger.Debug("indexer tip updated",
		zap.Uint64("old_tip", old),
		zap.Uint64("new_tip", number))
	m.notifySubscribers(number)
}

func (m *TipMonitor) notifySubscribers(tip uint64) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for i, ch := range m.subscribers {
		select {
		case ch <- tip:
		default:
			m.logger.Warn("subscriber channel full, dropping update",
				zap.Int("subscriber_index", i),
				zap.Uint64("tip", tip))
		}
	}
}
