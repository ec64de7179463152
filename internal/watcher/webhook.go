package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cellemitter/emitter/internal/chain"
	"github.com/cellemitter/emitter/pkg/logger"
	"github.com/cellemitter/emitter/pkg/types"
)

// WebhookPayload is the body posted for every delivered batch
type WebhookPayload struct {
	SearchKey    types.SearchKey     `json:"search_key"`
	Transactions []chain.Transaction `json:"transactions"`
	Source       string              `json:"source"`
	Time         string              `json:"time"`
}

// WebhookSink posts matched transactions to an HTTP endpoint. Any non-2xx
// response fails the delivery, so the watcher retries the same blocks.
type WebhookSink struct {
	url     string
	headers map[string]string
	client  *http.Client
	logger  *logger.Logger
}

// NewWebhookSink creates a webhook sink posting to url
func NewWebhookSink(url string, timeout time.Duration, log *logger.Logger) *WebhookSink {
	return &WebhookSink{
		url:     url,
		headers: make(map[string]string),
		client:  &http.Client{Timeout: timeout},
		logger:  log.Named("webhook"),
	}
}

// SetHeader adds a header sent with every request
func (w *WebhookSink) SetHeader(key, value string) {
	w.headers[key] = value
}

// Deliver implements Sink
func (w *WebhookSink) Deliver(ctx context.Context, key types.SearchKey, txs []chain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	body, err := json.Marshal(WebhookPayload{
		SearchKey:    key,
		Transactions: txs,
		Source:       "emitter",
		Time:         time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	w.logger.Debug("webhook delivered",
		zap.Stringer("key", key),
		zap.Int("transactions", len(txs)))
	return nil
}
