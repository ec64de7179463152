package chain

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/cellemitter/emitter/pkg/types"
)

// MockClient is an in-memory chain used by tests and by `run --mock-chain`.
// Headers exist for every block up to the tip and carry deterministic hashes.
type MockClient struct {
	mu        sync.Mutex
	tip       uint64
	tipErr    error
	headerErr error
	txErr     error
	delay     time.Duration
	txs       []Transaction
	calls     map[string]int
}

// NewMockClient creates a mock chain whose indexer is at tip
func NewMockClient(tip uint64) *MockClient {
	return &MockClient{
		tip:   tip,
		calls: make(map[string]int),
	}
}

// MockHeaderHash returns the hash the mock assigns to block number
func MockHeaderHash(number uint64) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], number)
	return common.Hash(sha256.Sum256(buf[:]))
}

// SetTip moves the indexer tip
func (m *MockClient) SetTip(tip uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tip = tip
}

// AdvanceTip moves the indexer tip forward by n blocks
func (m *MockClient) AdvanceTip(n uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tip += n
	return m.tip
}

// Tip returns the current indexer tip
func (m *MockClient) Tip() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tip
}

// SetTipError makes GetIndexerTip fail with err (nil clears it)
func (m *MockClient) SetTipError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tipErr = err
}

// SetHeaderError makes GetHeaderByNumber fail with err (nil clears it)
func (m *MockClient) SetHeaderError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headerErr = err
}

// SetTransactionsError makes GetTransactions fail with err (nil clears it)
func (m *MockClient) SetTransactionsError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txErr = err
}

// SetDelay simulates network latency on every call. The delay honours
// context cancellation.
func (m *MockClient) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// AddTransaction records a matching transaction at block
func (m *MockClient) AddTransaction(block uint64, txHash common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, Transaction{
		TxHash:      txHash,
		BlockNumber: hexutil.Uint64(block),
		Cells:       []CellRef{{IOType: IOTypeOutput, Index: 0}},
	})
	sort.SliceStable(m.txs, func(i, j int) bool { return m.txs[i].BlockNumber < m.txs[j].BlockNumber })
}

// Calls returns how many times method was invoked
func (m *MockClient) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// GetIndexerTip implements Client
func (m *MockClient) GetIndexerTip(ctx context.Context) (*IndexerTip, error) {
	if err := m.enter(ctx, "get_indexer_tip"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tipErr != nil {
		return nil, m.tipErr
	}
	return &IndexerTip{BlockHash: MockHeaderHash(m.tip), BlockNumber: hexutil.Uint64(m.tip)}, nil
}

// GetHeaderByNumber implements Client
func (m *MockClient) GetHeaderByNumber(ctx context.Context, number uint64) (*Header, error) {
	if err := m.enter(ctx, "get_header_by_number"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.headerErr != nil {
		return nil, m.headerErr
	}
	if number > m.tip {
		return nil, ErrNotFound
	}

	header := &Header{
		Hash:      MockHeaderHash(number),
		Number:    hexutil.Uint64(number),
		Timestamp: hexutil.Uint64(1_600_000_000_000 + number*8_000),
	}
	if number > 0 {
		header.ParentHash = MockHeaderHash(number - 1)
	}
	return header, nil
}

// GetTransactions implements Client. Only ascending order and the filter's
// block range are honoured; the cursor is the offset into the result set.
func (m *MockClient) GetTransactions(ctx context.Context, key types.IndexerSearchKey, order Order, limit uint64, after hexutil.Bytes) (*TransactionPage, error) {
	if err := m.enter(ctx, "get_transactions"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.txErr != nil {
		return nil, m.txErr
	}

	var matched []Transaction
	for _, tx := range m.txs {
		n := uint64(tx.BlockNumber)
		if n > m.tip {
			continue
		}
		if key.Filter != nil && key.Filter.BlockRange != nil {
			r := key.Filter.BlockRange
			if n < uint64(r[0]) || n >= uint64(r[1]) {
				continue
			}
		}
		matched = append(matched, tx)
	}

	var offset uint64
	if len(after) == 8 {
		offset = binary.BigEndian.Uint64(after)
	}
	if offset > uint64(len(matched)) {
		offset = uint64(len(matched))
	}
	end := offset + limit
	if end > uint64(len(matched)) {
		end = uint64(len(matched))
	}

	cursor := make([]byte, 8)
	binary.BigEndian.PutUint64(cursor, end)
	return &TransactionPage{
		Objects:    append([]Transaction(nil), matched[offset:end]...),
		LastCursor: cursor,
	}, nil
}

func (m *MockClient) enter(ctx context.Context, method string) error {
	m.mu.Lock()
	m.calls[method]++
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}
