package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/cellemitter/emitter/pkg/types"
)

var (
	// ErrNetwork wraps transport-level failures talking to the chain service
	ErrNetwork = errors.New("chain network error")

	// ErrNotFound is returned when the requested object does not exist
	ErrNotFound = errors.New("not found")
)

// Client is the chain-data service consumed by the emitter and its watchers.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// GetIndexerTip returns the block the chain indexer has reached.
	GetIndexerTip(ctx context.Context) (*IndexerTip, error)

	// GetHeaderByNumber returns the header at number, or ErrNotFound.
	GetHeaderByNumber(ctx context.Context, number uint64) (*Header, error)

	// GetTransactions pages through transactions matching key.
	GetTransactions(ctx context.Context, key types.IndexerSearchKey, order Order, limit uint64, after hexutil.Bytes) (*TransactionPage, error)
}

// RPCError is an error object returned by the JSON-RPC server
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// IndexerTip is the indexer's current block
type IndexerTip struct {
	BlockHash   common.Hash    `json:"block_hash"`
	BlockNumber hexutil.Uint64 `json:"block_number"`
}

// Header is the subset of a block header the emitter uses
type Header struct {
	Hash       common.Hash    `json:"hash"`
	Number     hexutil.Uint64 `json:"number"`
	ParentHash common.Hash    `json:"parent_hash"`
	Timestamp  hexutil.Uint64 `json:"timestamp"`
}

// Tip converts the header to a tip snapshot
func (h *Header) Tip() types.TipSnapshot {
	return types.TipSnapshot{BlockHash: h.Hash, BlockNumber: h.Number}
}

// Order is the scan direction of a paged query
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// IOType says whether a matched cell is consumed or created by a transaction
type IOType string

const (
	IOTypeInput  IOType = "input"
	IOTypeOutput IOType = "output"
)

// CellRef points at one matched input or output of a transaction.
// On the wire it is an [io_type, index] pair.
type CellRef struct {
	IOType IOType
	Index  hexutil.Uint64
}

// MarshalJSON implements json.Marshaler
func (c CellRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{c.IOType, c.Index})
}

// UnmarshalJSON implements json.Unmarshaler
func (c *CellRef) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode cell ref: %w", err)
	}
	if err := json.Unmarshal(pair[0], &c.IOType); err != nil {
		return fmt.Errorf("decode cell ref io_type: %w", err)
	}
	if err := json.Unmarshal(pair[1], &c.Index); err != nil {
		return fmt.Errorf("decode cell ref index: %w", err)
	}
	return nil
}

// Transaction is one transaction grouped with the cells that matched
type Transaction struct {
	TxHash      common.Hash    `json:"tx_hash"`
	BlockNumber hexutil.Uint64 `json:"block_number"`
	TxIndex     hexutil.Uint64 `json:"tx_index"`
	Cells       []CellRef      `json:"cells"`
}

// TransactionPage is one page of a get_transactions query
type TransactionPage struct {
	Objects    []Transaction `json:"objects"`
	LastCursor hexutil.Bytes `json:"last_cursor"`
}
