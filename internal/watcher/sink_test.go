package watcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellemitter/emitter/internal/chain"
	"github.com/cellemitter/emitter/pkg/logger"
)

func TestCountingSink(t *testing.T) {
	sink := NewCountingSink(nil)
	txs := []chain.Transaction{{BlockNumber: 1}, {BlockNumber: 2}}

	require.NoError(t, sink.Deliver(context.Background(), testKey, txs))
	require.NoError(t, sink.Deliver(context.Background(), testKey.Normalize(), txs[:1]))

	assert.Equal(t, 3, sink.Count(testKey))
	got := sink.Transactions(testKey)
	assert.Len(t, got, 3)

	got[0].BlockNumber = 99
	assert.Equal(t, uint64(1), uint64(sink.Transactions(testKey)[0].BlockNumber))
}

func TestLogSink(t *testing.T) {
	sink := NewLogSink(logger.NewTestLoggerWithT(t))
	assert.NoError(t, sink.Deliver(context.Background(), testKey, []chain.Transaction{{BlockNumber: 7}}))
}

func TestMultiSink(t *testing.T) {
	first, second := NewCountingSink(nil), NewCountingSink(nil)

	require.NoError(t, MultiSink{first, second}.Deliver(context.Background(), testKey, []chain.Transaction{{}}))
	assert.Equal(t, 1, first.Count(testKey))
	assert.Equal(t, 1, second.Count(testKey))

	err := MultiSink{failingSink{}, second}.Deliver(context.Background(), testKey, []chain.Transaction{{}})
	assert.Error(t, err)
	assert.Equal(t, 1, second.Count(testKey))
}
