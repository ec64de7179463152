package watcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellemitter/emitter/internal/chain"
	"github.com/cellemitter/emitter/pkg/logger"
)

func TestWebhookSink_Deliver(t *testing.T) {
	received := make(chan WebhookPayload, 1)
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		token = r.Header.Get("X-Token")

		var payload WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- payload
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second, logger.NewTestLoggerWithT(t))
	sink.SetHeader("X-Token", "abc")

	txs := []chain.Transaction{{TxHash: chain.MockHeaderHash(1), BlockNumber: 120, TxIndex: 2}}
	require.NoError(t, sink.Deliver(context.Background(), testKey, txs))

	payload := <-received
	assert.Equal(t, "abc", token)
	assert.Equal(t, "emitter", payload.Source)
	assert.Equal(t, testKey.ID(), payload.SearchKey.ID())
	require.Len(t, payload.Transactions, 1)
	assert.Equal(t, txs[0].TxHash, payload.Transactions[0].TxHash)
	assert.Equal(t, uint64(120), uint64(payload.Transactions[0].BlockNumber))
}

func TestWebhookSink_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second, logger.NewTestLogger())
	err := sink.Deliver(context.Background(), testKey, []chain.Transaction{{}})
	assert.ErrorContains(t, err, "status 502")

	// Nothing is posted for an empty batch.
	assert.NoError(t, sink.Deliver(context.Background(), testKey, nil))

	srv.Close()
	assert.Error(t, sink.Deliver(context.Background(), testKey, []chain.Transaction{{}}))
}
