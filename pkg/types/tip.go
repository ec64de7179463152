package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TipSnapshot is the furthest block scanned for a search key
type TipSnapshot struct {
	BlockHash   common.Hash    `json:"block_hash"`
	BlockNumber hexutil.Uint64 `json:"block_number"`
}

// NewTipSnapshot builds a snapshot from a hash and height
func NewTipSnapshot(hash common.Hash, number uint64) TipSnapshot {
	return TipSnapshot{BlockHash: hash, BlockNumber: hexutil.Uint64(number)}
}

// Number returns the block height as a plain integer
func (t TipSnapshot) Number() uint64 {
	return uint64(t.BlockNumber)
}

func (t TipSnapshot) String() string {
	return fmt.Sprintf("%d(%s)", uint64(t.BlockNumber), t.BlockHash.TerminalString())
}
