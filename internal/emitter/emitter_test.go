package emitter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/cellemitter/emitter/internal/chain"
	"github.com/cellemitter/emitter/internal/config"
	"github.com/cellemitter/emitter/internal/metrics"
	"github.com/cellemitter/emitter/internal/registry"
	"github.com/cellemitter/emitter/internal/tipcell"
	"github.com/cellemitter/emitter/internal/watcher"
	"github.com/cellemitter/emitter/pkg/logger"
	"github.com/cellemitter/emitter/pkg/types"
)

func searchKey(arg byte) types.SearchKey {
	return types.SearchKey{
		Script: types.Script{
			HashType: types.HashTypeType,
			Args:     []byte{arg},
		},
		ScriptType: types.ScriptTypeLock,
	}
}

func tipAt(number uint64) types.TipSnapshot {
	return types.NewTipSnapshot(chain.MockHeaderHash(number), number)
}

// stepWatcher publishes the header of each block number sent on steps and
// reports the publish result on published
type stepWatcher struct {
	steps     chan uint64
	published chan error
	runs      *atomic.Int64
}

func newStepWatcher() *stepWatcher {
	return &stepWatcher{
		steps:     make(chan uint64),
		published: make(chan error, 16),
		runs:      atomic.NewInt64(0),
	}
}

func (w *stepWatcher) Run(ctx context.Context, _ types.SearchKey, client chain.Client, cell *tipcell.Cell) error {
	w.runs.Inc()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-w.steps:
			header, err := client.GetHeaderByNumber(ctx, n)
			if err != nil {
				w.published <- err
				continue
			}
			w.published <- cell.Publish(header.Tip())
		}
	}
}

// step asks the watcher to publish block n and waits for the result
func (w *stepWatcher) step(t *testing.T, n uint64) error {
	t.Helper()
	select {
	case w.steps <- n:
	case <-time.After(time.Second):
		t.Fatal("watcher not running")
	}
	return <-w.published
}

func newTestService(t *testing.T, client chain.Client, w Watcher) *Service {
	t.Helper()
	s := New(config.EmitterConfig{CancelGrace: time.Second, LockStripes: 8}, client, w, metrics.NewCollector(), logger.NewTestLoggerWithT(t))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func TestNew_Defaults(t *testing.T) {
	s := New(config.EmitterConfig{}, chain.NewMockClient(1), newStepWatcher(), nil, logger.NewTestLogger())

	assert.Len(t, s.stripes, config.DefaultLockStripes)
	assert.Equal(t, config.DefaultCancelGrace, s.cancelGrace)
	assert.Empty(t, s.Info())
}

func TestService_RegisterInfoDelete(t *testing.T) {
	client := chain.NewMockClient(200)
	w := newStepWatcher()
	s := newTestService(t, client, w)
	key := searchKey(0xa)

	ok, err := s.Register(context.Background(), key, 100)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []registry.Entry{{Key: key.Normalize(), Tip: tipAt(100)}}, s.Info())

	require.NoError(t, w.step(t, 120))
	require.NoError(t, w.step(t, 150))
	info := s.Info()
	require.Len(t, info, 1)
	assert.Equal(t, tipAt(150), info[0].Tip)

	tip, ok := s.Tip(key)
	require.True(t, ok)
	assert.Equal(t, tipAt(150), tip)

	cell, ok := s.table.Get(key)
	require.True(t, ok)

	assert.True(t, s.Delete(key))
	assert.Empty(t, s.Info())
	assert.Equal(t, int64(0), s.supervisor.Running())

	// New blocks arrive but the deleted key's tip stays put.
	client.AdvanceTip(100)
	assert.ErrorIs(t, cell.Publish(tipAt(250)), tipcell.ErrSealed)
	assert.Equal(t, tipAt(150), cell.Load())
	_, ok = s.Tip(key)
	assert.False(t, ok)
}

func TestService_RegisterAtOrBeyondTip(t *testing.T) {
	client := chain.NewMockClient(200)
	w := newStepWatcher()
	s := newTestService(t, client, w)

	for _, start := range []uint64{200, 250} {
		ok, err := s.Register(context.Background(), searchKey(0xa), start)
		require.NoError(t, err)
		assert.False(t, ok, "start %d", start)
	}

	assert.Empty(t, s.Info())
	assert.Zero(t, client.Calls("get_header_by_number"))
	assert.Zero(t, w.runs.Load())
}

func TestService_RegisterExisting(t *testing.T) {
	client := chain.NewMockClient(200)
	s := newTestService(t, client, newStepWatcher())
	key := searchKey(0xa)

	ok, err := s.Register(context.Background(), key, 100)
	require.NoError(t, err)
	require.True(t, ok)
	tipCalls := client.Calls("get_indexer_tip")

	// Different casing, same identity.
	upper := key
	upper.ScriptType = "LOCK"
	ok, err = s.Register(context.Background(), upper, 10)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, tipCalls, client.Calls("get_indexer_tip"))

	info := s.Info()
	require.Len(t, info, 1)
	assert.Equal(t, tipAt(100), info[0].Tip)
}

func TestService_ConcurrentRegister(t *testing.T) {
	client := chain.NewMockClient(200)
	client.SetDelay(5 * time.Millisecond)
	w := newStepWatcher()
	s := newTestService(t, client, w)
	key := searchKey(0xa)

	const callers = 32
	var (
		wg      sync.WaitGroup
		created = atomic.NewInt64(0)
		start   = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ok, err := s.Register(context.Background(), key, uint64(50+i%2*10))
			assert.NoError(t, err)
			if ok {
				created.Inc()
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), created.Load())
	assert.Len(t, s.Info(), 1)
	assert.Equal(t, 1, s.supervisor.Len())
	require.Eventually(t, func() bool {
		return w.runs.Load() == 1
	}, time.Second, time.Millisecond)
}

func TestService_ConcurrentRegisterDelete(t *testing.T) {
	client := chain.NewMockClient(200)
	s := newTestService(t, client, newStepWatcher())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		key := searchKey(byte(i % 4))
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.Register(context.Background(), key, 10)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			s.Delete(key)
		}()
	}
	wg.Wait()

	// Every surviving entry has exactly one handle.
	for _, entry := range s.Info() {
		assert.True(t, s.supervisor.Has(entry.Key))
	}
	assert.Equal(t, s.table.Len(), s.supervisor.Len())
}

func TestService_ChainErrors(t *testing.T) {
	tests := []struct {
		name   string
		inject func(m *chain.MockClient)
		target error
	}{
		{
			name:   "tip lookup",
			inject: func(m *chain.MockClient) { m.SetTipError(chain.ErrNetwork) },
			target: chain.ErrNetwork,
		},
		{
			name:   "header lookup",
			inject: func(m *chain.MockClient) { m.SetHeaderError(chain.ErrNotFound) },
			target: chain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := chain.NewMockClient(200)
			tt.inject(client)
			s := newTestService(t, client, newStepWatcher())

			ok, err := s.Register(context.Background(), searchKey(0xa), 100)
			assert.False(t, ok)
			assert.ErrorIs(t, err, ErrChainData)
			assert.ErrorIs(t, err, tt.target)
			assert.Empty(t, s.Info())
		})
	}
}

func TestService_RegisterCanceled(t *testing.T) {
	client := chain.NewMockClient(200)
	client.SetDelay(time.Hour)
	s := newTestService(t, client, newStepWatcher())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Register(ctx, searchKey(0xa), 100)
	assert.ErrorIs(t, err, ErrChainData)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestService_InvalidKey(t *testing.T) {
	client := chain.NewMockClient(200)
	s := newTestService(t, client, newStepWatcher())

	key := searchKey(0xa)
	key.ScriptType = "witness"
	ok, err := s.Register(context.Background(), key, 100)
	assert.False(t, ok)
	assert.ErrorIs(t, err, types.ErrInvalidSearchKey)
	assert.Zero(t, client.Calls("get_indexer_tip"))
}

func TestService_DeleteIdempotent(t *testing.T) {
	s := newTestService(t, chain.NewMockClient(200), newStepWatcher())
	key := searchKey(0xa)

	assert.False(t, s.Delete(key))

	ok, err := s.Register(context.Background(), key, 100)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, s.Delete(key))
	assert.False(t, s.Delete(key))

	// The key can be registered again after deletion.
	ok, err = s.Register(context.Background(), key, 150)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_RegisteredKeyIsDetached(t *testing.T) {
	s := newTestService(t, chain.NewMockClient(200), newStepWatcher())
	key := searchKey(0xb)
	key.Filter = &types.SearchKeyFilter{ScriptLenRange: types.NewRange(0, 10)}

	ok, err := s.Register(context.Background(), key, 100)
	require.NoError(t, err)
	require.True(t, ok)

	key.Filter.ScriptLenRange[1] = 99

	entries := s.Info()
	require.Len(t, entries, 1)
	assert.Equal(t, types.NewRange(0, 10), entries[0].Key.Filter.ScriptLenRange)

	fresh := searchKey(0xb)
	fresh.Filter = &types.SearchKeyFilter{ScriptLenRange: types.NewRange(0, 10)}
	assert.True(t, s.Delete(fresh))
	assert.Empty(t, s.Info())
}

func TestService_DeleteGrace(t *testing.T) {
	release := make(chan struct{})
	stubborn := WatcherFunc(func(ctx context.Context, _ types.SearchKey, _ chain.Client, _ *tipcell.Cell) error {
		<-ctx.Done()
		<-release
		return nil
	})

	s := New(config.EmitterConfig{CancelGrace: 20 * time.Millisecond}, chain.NewMockClient(200), stubborn, nil, logger.NewTestLogger())
	key := searchKey(0xa)
	ok, err := s.Register(context.Background(), key, 100)
	require.NoError(t, err)
	require.True(t, ok)

	begin := time.Now()
	assert.True(t, s.Delete(key))
	assert.Less(t, time.Since(begin), time.Second)
	assert.Empty(t, s.Info())
	assert.Equal(t, int64(1), s.supervisor.Running())

	close(release)
	require.Eventually(t, func() bool {
		return s.supervisor.Running() == 0
	}, time.Second, time.Millisecond)
	require.NoError(t, s.Close(context.Background()))
}

func TestService_WithPoller(t *testing.T) {
	client := chain.NewMockClient(200)
	client.AddTransaction(140, chain.MockHeaderHash(1))
	sink := watcher.NewCountingSink(nil)
	poller := watcher.NewPoller(config.WatcherConfig{
		PollInterval: 5 * time.Millisecond,
		BatchSize:    25,
		PageSize:     10,
		RetryBase:    time.Millisecond,
		RetryCap:     2 * time.Millisecond,
	}, sink, nil, logger.NewTestLogger())
	s := newTestService(t, client, poller)
	key := searchKey(0xa)

	ok, err := s.Register(context.Background(), key, 100)
	require.NoError(t, err)
	require.True(t, ok)

	var last uint64
	deadline := time.Now().Add(2 * time.Second)
	for last < 200 && time.Now().Before(deadline) {
		tip, ok := s.Tip(key)
		require.True(t, ok)
		require.GreaterOrEqual(t, tip.Number(), last)
		last = tip.Number()
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, uint64(200), last)
	assert.Equal(t, 1, sink.Count(key))

	cell, _ := s.table.Get(key)
	require.True(t, s.Delete(key))

	client.AdvanceTip(50)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, uint64(200), cell.Load().Number())
}

func TestService_Close(t *testing.T) {
	client := chain.NewMockClient(200)
	s := New(config.EmitterConfig{}, client, newStepWatcher(), nil, logger.NewTestLogger())

	for i := byte(0); i < 3; i++ {
		ok, err := s.Register(context.Background(), searchKey(i), 10)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, 3, s.Status().Registrations)

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	status := s.Status()
	assert.True(t, status.Closed)
	assert.Zero(t, status.Registrations)
	assert.Zero(t, status.WatchersActive)
	assert.Empty(t, s.Info())
	assert.False(t, s.Delete(searchKey(0)))

	_, err := s.Register(context.Background(), searchKey(9), 10)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestService_InconsistentStatePanics(t *testing.T) {
	s := newTestService(t, chain.NewMockClient(200), newStepWatcher())
	key := searchKey(0xa)

	ok, err := s.Register(context.Background(), key, 100)
	require.NoError(t, err)
	require.True(t, ok)

	// Drop the handle behind the service's back.
	_, found := s.supervisor.Cancel(key)
	require.True(t, found)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, isErr := r.(error)
		require.True(t, isErr)
		assert.True(t, errors.Is(err, ErrInconsistentState))
	}()
	s.Delete(key)
}
