package height

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellemitter/emitter/internal/chain"
	"github.com/cellemitter/emitter/pkg/logger"
)

func TestNewTipMonitor(t *testing.T) {
	provider := chain.NewMockClient(1000)

	monitor := NewTipMonitor(provider, time.Second, logger.NewTestLogger())
	require.NotNil(t, monitor)
	assert.Equal(t, time.Second, monitor.pollInterval)
	assert.NotNil(t, monitor.subscribers)

	tip, ok := monitor.Current()
	assert.Zero(t, tip)
	assert.False(t, ok)
	assert.False(t, monitor.Healthy())

	monitor = NewTipMonitor(provider, 0, logger.NewTestLogger())
	assert.Equal(t, DefaultPollInterval, monitor.pollInterval)
}

func TestTipMonitor_StartStop(t *testing.T) {
	monitor := NewTipMonitor(chain.NewMockClient(1000), 10*time.Millisecond, logger.NewTestLogger())

	require.NoError(t, monitor.Start())
	assert.Error(t, monitor.Start(), "second start should fail")

	monitor.Stop()
	monitor.Stop()
}

func TestTipMonitor_FollowsTip(t *testing.T) {
	provider := chain.NewMockClient(1000)
	monitor := NewTipMonitor(provider, 10*time.Millisecond, logger.NewTestLoggerWithT(t))
	updates := monitor.Subscribe()

	require.NoError(t, monitor.Start())
	defer monitor.Stop()

	select {
	case tip := <-updates:
		assert.Equal(t, uint64(1000), tip)
	case <-time.After(time.Second):
		t.Fatal("no initial update")
	}
	assert.True(t, monitor.Healthy())
	assert.False(t, monitor.UpdatedAt().IsZero())

	provider.SetTip(1005)
	select {
	case tip := <-updates:
		assert.Equal(t, uint64(1005), tip)
	case <-time.After(time.Second):
		t.Fatal("no update after tip change")
	}

	tip, ok := monitor.Current()
	assert.True(t, ok)
	assert.Equal(t, uint64(1005), tip)
}

func TestTipMonitor_OnlyNotifiesOnChange(t *testing.T) {
	provider := chain.NewMockClient(7)
	monitor := NewTipMonitor(provider, 5*time.Millisecond, logger.NewTestLogger())
	updates := monitor.Subscribe()

	require.NoError(t, monitor.Start())
	defer monitor.Stop()

	require.Eventually(t, func() bool {
		return provider.Calls("get_indexer_tip") >= 5
	}, time.Second, time.Millisecond)
	assert.Len(t, updates, 1)
}

func TestTipMonitor_ProviderError(t *testing.T) {
	provider := chain.NewMockClient(10)
	provider.SetTipError(chain.ErrNetwork)
	monitor := NewTipMonitor(provider, 5*time.Millisecond, logger.NewTestLogger())

	require.NoError(t, monitor.Start())
	defer monitor.Stop()

	require.Eventually(t, func() bool {
		return monitor.LastError() != nil
	}, time.Second, time.Millisecond)
	assert.False(t, monitor.Healthy())
	assert.ErrorIs(t, monitor.LastError(), chain.ErrNetwork)

	provider.SetTipError(nil)
	require.Eventually(t, monitor.Healthy, time.Second, time.Millisecond)
	tip, _ := monitor.Current()
	assert.Equal(t, uint64(10), tip)
}

func TestTipMonitor_BufferOverflow(t *testing.T) {
	provider := chain.NewMockClient(0)
	monitor := NewTipMonitor(provider, time.Millisecond, logger.NewTestLogger())
	updates := monitor.Subscribe()

	require.NoError(t, monitor.Start())
	defer monitor.Stop()

	for i := 0; i < DefaultSubscriberBufferSize*2; i++ {
		provider.AdvanceTip(1)
		time.Sleep(3 * time.Millisecond)
	}
	assert.LessOrEqual(t, len(updates), DefaultSubscriberBufferSize)
}

func TestTipMonitor_ConcurrentReads(t *testing.T) {
	provider := chain.NewMockClient(1)
	monitor := NewTipMonitor(provider, time.Millisecond, logger.NewTestLogger())
	require.NoError(t, monitor.Start())
	defer monitor.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for j := 0; j < 200; j++ {
				tip, _ := monitor.Current()
				assert.GreaterOrEqual(t, tip, last)
				last = tip
				_ = monitor.Subscribe()
			}
		}()
	}
	for i := 0; i < 20; i++ {
		provider.AdvanceTip(1)
		time.Sleep(time.Millisecond)
	}
	wg.Wait()
}
