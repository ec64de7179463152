package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/cellemitter/emitter/internal/config"
	"github.com/cellemitter/emitter/pkg/logger"
	"github.com/cellemitter/emitter/pkg/types"
)

// RPCClient talks JSON-RPC 2.0 over HTTP to a chain indexer node
type RPCClient struct {
	logger     *logger.Logger
	httpClient *http.Client
	rpcURL     string
	nextID     *atomic.Uint64
}

// NewRPCClient creates a new indexer client
func NewRPCClient(cfg config.ChainConfig, log *logger.Logger) *RPCClient {
	rpcURL := cfg.RPCURL
	if !strings.HasPrefix(rpcURL, "http://") && !strings.HasPrefix(rpcURL, "https://") {
		rpcURL = fmt.Sprintf("http://%s", rpcURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultChainTimeout
	}

	return &RPCClient{
		logger: log.Named("chain").With(zap.String("rpc_url", rpcURL)),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		rpcURL: rpcURL,
		nextID: atomic.NewUint64(0),
	}
}

// GetIndexerTip implements Client
func (c *RPCClient) GetIndexerTip(ctx context.Context) (*IndexerTip, error) {
	resp, err := c.rpcCall(ctx, "get_indexer_tip", []interface{}{})
	if err != nil {
		return nil, err
	}
	if isNull(resp) {
		return nil, fmt.Errorf("indexer tip: %w", ErrNotFound)
	}

	var tip IndexerTip
	if err := json.Unmarshal(resp, &tip); err != nil {
		return nil, fmt.Errorf("failed to unmarshal indexer tip: %w", err)
	}
	return &tip, nil
}

// GetHeaderByNumber implements Client
func (c *RPCClient) GetHeaderByNumber(ctx context.Context, number uint64) (*Header, error) {
	resp, err := c.rpcCall(ctx, "get_header_by_number", []interface{}{hexutil.Uint64(number)})
	if err != nil {
		return nil, err
	}
	if isNull(resp) {
		return nil, fmt.Errorf("header %d: %w", number, ErrNotFound)
	}

	var header Header
	if err := json.Unmarshal(resp, &header); err != nil {
		return nil, fmt.Errorf("failed to unmarshal header: %w", err)
	}
	return &header, nil
}

// GetTransactions implements Client
func (c *RPCClient) GetTransactions(ctx context.Context, key types.IndexerSearchKey, order Order, limit uint64, after hexutil.Bytes) (*TransactionPage, error) {
	params := []interface{}{key, order, hexutil.Uint64(limit)}
	if len(after) > 0 {
		params = append(params, after)
	}

	resp, err := c.rpcCall(ctx, "get_transactions", params)
	if err != nil {
		return nil, err
	}

	var page TransactionPage
	if err := json.Unmarshal(resp, &page); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transactions: %w", err)
	}
	return &page, nil
}

// rpcCall makes an RPC call to the node
func (c *RPCClient) rpcCall(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := c.nextID.Inc()
	reqData, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNetwork, method, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("rpc call",
		zap.String("method", method),
		zap.Uint64("id", id),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s: HTTP %d: %s", ErrNetwork, method, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("%w: %s: failed to decode response: %w", ErrNetwork, method, err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
