package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cellemitter/emitter/internal/emitter"
	"github.com/cellemitter/emitter/internal/registry"
	"github.com/cellemitter/emitter/pkg/types"
)

const (
	jsonrpcVersion = "2.0"

	// maxRequestBytes bounds a JSON-RPC request body, batches included
	maxRequestBytes = 1 << 20
)

// JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
	CodeUnauthorized   = -32001
)

// RPCError is a JSON-RPC error object
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func errorResponse(id json.RawMessage, code int, message string) *rpcResponse {
	return &rpcResponse{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
}

// handleRPC serves a single JSON-RPC request or a batch
func (s *Server) handleRPC(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes))
	if err != nil {
		c.JSON(http.StatusOK, errorResponse(nil, CodeParseError, "failed to read request: "+err.Error()))
		return
	}
	body = bytes.TrimSpace(body)
	authHeader := c.GetHeader("Authorization")

	if len(body) > 0 && body[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil {
			c.JSON(http.StatusOK, errorResponse(nil, CodeParseError, "parse error: "+err.Error()))
			return
		}
		if len(batch) == 0 {
			c.JSON(http.StatusOK, errorResponse(nil, CodeInvalidRequest, "empty batch"))
			return
		}

		responses := make([]*rpcResponse, 0, len(batch))
		for _, raw := range batch {
			if resp := s.dispatch(c.Request.Context(), raw, authHeader); resp != nil {
				responses = append(responses, resp)
			}
		}
		if len(responses) == 0 {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, responses)
		return
	}

	if !json.Valid(body) {
		c.JSON(http.StatusOK, errorResponse(nil, CodeParseError, "parse error"))
		return
	}
	resp := s.dispatch(c.Request.Context(), body, authHeader)
	if resp == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// dispatch runs one request. It returns nil for notifications.
func (s *Server) dispatch(ctx context.Context, raw json.RawMessage, authHeader string) *rpcResponse {
	var req rpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, CodeInvalidRequest, "invalid request: "+err.Error())
	}
	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid request")
	}

	result, rpcErr := s.call(ctx, req.Method, req.Params, authHeader)
	if len(req.ID) == 0 {
		return nil
	}
	if rpcErr != nil {
		return errorResponse(req.ID, rpcErr.Code, rpcErr.Message)
	}
	return &rpcResponse{JSONRPC: jsonrpcVersion, ID: req.ID, Result: result}
}

func (s *Server) call(ctx context.Context, method string, params json.RawMessage, authHeader string) (interface{}, *RPCError) {
	switch method {
	case "register":
		if err := s.authorize(authHeader); err != nil {
			return nil, err
		}
		var (
			key   types.SearchKey
			start hexutil.Uint64
		)
		if err := parseParams(params, []string{"search_key", "start"}, &key, &start); err != nil {
			return nil, err
		}
		ok, err := s.service.Register(ctx, key, uint64(start))
		if err != nil {
			return nil, s.serviceError(method, err)
		}
		return ok, nil

	case "delete":
		if err := s.authorize(authHeader); err != nil {
			return nil, err
		}
		var key types.SearchKey
		if err := parseParams(params, []string{"search_key"}, &key); err != nil {
			return nil, err
		}
		return s.service.Delete(key), nil

	case "info":
		if err := parseParams(params, nil); err != nil {
			return nil, err
		}
		return s.info(), nil

	default:
		return nil, &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + method}
	}
}

func (s *Server) info() []registry.Entry {
	entries := s.service.Info()
	if entries == nil {
		entries = []registry.Entry{}
	}
	return entries
}

func (s *Server) authorize(header string) *RPCError {
	if s.auth == nil {
		return nil
	}
	if err := s.auth.Authorize(header); err != nil {
		return &RPCError{Code: CodeUnauthorized, Message: err.Error()}
	}
	return nil
}

func (s *Server) serviceError(method string, err error) *RPCError {
	switch {
	case errors.Is(err, types.ErrInvalidSearchKey):
		return &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	case errors.Is(err, emitter.ErrChainData), errors.Is(err, emitter.ErrClosed):
		s.logger.Warn("rpc call failed", zap.String("method", method), zap.Error(err))
		return &RPCError{Code: CodeServerError, Message: err.Error()}
	default:
		s.logger.Error("rpc call failed", zap.String("method", method), zap.Error(err))
		return &RPCError{Code: CodeInternalError, Message: err.Error()}
	}
}

// parseParams decodes positional (array) or named (object) params into
// targets, matched against names
func parseParams(raw json.RawMessage, names []string, targets ...interface{}) *RPCError {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		if len(targets) == 0 {
			return nil
		}
		return &RPCError{Code: CodeInvalidParams, Message: "missing params"}
	}

	switch raw[0] {
	case '[':
		var positional []json.RawMessage
		if err := json.Unmarshal(raw, &positional); err != nil {
			return &RPCError{Code: CodeInvalidParams, Message: err.Error()}
		}
		if len(positional) != len(targets) {
			return &RPCError{Code: CodeInvalidParams, Message: "wrong number of params"}
		}
		for i, target := range targets {
			if err := json.Unmarshal(positional[i], target); err != nil {
				return &RPCError{Code: CodeInvalidParams, Message: "invalid " + names[i] + ": " + err.Error()}
			}
		}
		return nil

	case '{':
		var named map[string]json.RawMessage
		if err := json.Unmarshal(raw, &named); err != nil {
			return &RPCError{Code: CodeInvalidParams, Message: err.Error()}
		}
		for i, target := range targets {
			value, ok := named[names[i]]
			if !ok {
				return &RPCError{Code: CodeInvalidParams, Message: "missing param " + names[i]}
			}
			if err := json.Unmarshal(value, target); err != nil {
				return &RPCError{Code: CodeInvalidParams, Message: "invalid " + names[i] + ": " + err.Error()}
			}
		}
		return nil

	default:
		return &RPCError{Code: CodeInvalidParams, Message: "params must be an array or object"}
	}
}
