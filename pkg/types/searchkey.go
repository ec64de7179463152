package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrInvalidSearchKey is returned when a search key fails validation
var ErrInvalidSearchKey = errors.New("invalid search key")

// HashType selects how a script's code hash is matched
type HashType string

const (
	HashTypeData  HashType = "data"
	HashTypeType  HashType = "type"
	HashTypeData1 HashType = "data1"
	HashTypeData2 HashType = "data2"
)

// ScriptType selects which script slot of a cell a search key matches
type ScriptType string

const (
	ScriptTypeLock ScriptType = "lock"
	ScriptTypeType ScriptType = "type"
)

// Script identifies a lock or type script
type Script struct {
	CodeHash common.Hash   `json:"code_hash"`
	HashType HashType      `json:"hash_type"`
	Args     hexutil.Bytes `json:"args"`
}

// Range is a half-open [start, end) interval
type Range [2]hexutil.Uint64

// NewRange builds a Range from plain integers
func NewRange(start, end uint64) *Range {
	return &Range{hexutil.Uint64(start), hexutil.Uint64(end)}
}

func (r *Range) clone() *Range {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// SearchKeyFilter narrows the cells matched by a search key
type SearchKeyFilter struct {
	Script              *Script `json:"script,omitempty"`
	ScriptLenRange      *Range  `json:"script_len_range,omitempty"`
	OutputDataLenRange  *Range  `json:"output_data_len_range,omitempty"`
	OutputCapacityRange *Range  `json:"output_capacity_range,omitempty"`
}

// IsEmpty reports whether no filter field is set
func (f *SearchKeyFilter) IsEmpty() bool {
	return f == nil || (f.Script == nil && f.ScriptLenRange == nil &&
		f.OutputDataLenRange == nil && f.OutputCapacityRange == nil)
}

// SearchKey is the identity of a registration.
//
// Keys are compared by their normalized contents; use ID to obtain the
// canonical form.
type SearchKey struct {
	Script     Script           `json:"script"`
	ScriptType ScriptType       `json:"script_type"`
	Filter     *SearchKeyFilter `json:"filter,omitempty"`
}

// Validate checks that enum fields and ranges are well formed
func (k SearchKey) Validate() error {
	n := k.Normalize()
	if err := n.Script.validate(); err != nil {
		return fmt.Errorf("%w: script: %v", ErrInvalidSearchKey, err)
	}
	switch n.ScriptType {
	case ScriptTypeLock, ScriptTypeType:
	default:
		return fmt.Errorf("%w: unknown script_type %q", ErrInvalidSearchKey, k.ScriptType)
	}
	if f := n.Filter; f != nil {
		if f.Script != nil {
			if err := f.Script.validate(); err != nil {
				return fmt.Errorf("%w: filter script: %v", ErrInvalidSearchKey, err)
			}
		}
		for name, r := range map[string]*Range{
			"script_len_range":      f.ScriptLenRange,
			"output_data_len_range": f.OutputDataLenRange,
			"output_capacity_range": f.OutputCapacityRange,
		} {
			if r != nil && r[0] > r[1] {
				return fmt.Errorf("%w: %s start %d exceeds end %d", ErrInvalidSearchKey, name, uint64(r[0]), uint64(r[1]))
			}
		}
	}
	return nil
}

// Normalize returns a copy with lower-cased enums and an empty filter
// collapsed to nil.
func (k SearchKey) Normalize() SearchKey {
	out := SearchKey{
		Script:     k.Script.normalize(),
		ScriptType: ScriptType(strings.ToLower(string(k.ScriptType))),
	}
	if !k.Filter.IsEmpty() {
		f := *k.Filter
		if f.Script != nil {
			s := f.Script.normalize()
			f.Script = &s
		}
		f.ScriptLenRange = f.ScriptLenRange.clone()
		f.OutputDataLenRange = f.OutputDataLenRange.clone()
		f.OutputCapacityRange = f.OutputCapacityRange.clone()
		out.Filter = &f
	}
	return out
}

// ID returns the canonical identity of the key
func (k SearchKey) ID() string {
	b, err := json.Marshal(k.Normalize())
	if err != nil {
		// Every field has a total JSON encoding.
		panic(fmt.Sprintf("encode search key: %v", err))
	}
	return string(b)
}

// Equal reports whether two keys identify the same registration
func (k SearchKey) Equal(other SearchKey) bool {
	return k.ID() == other.ID()
}

// String implements fmt.Stringer
func (k SearchKey) String() string {
	return k.ID()
}

// IndexerKey converts the key into the chain indexer's query form,
// restricted to blockRange. A missing filter becomes an empty one so the
// block range can be attached, and results are grouped by transaction.
func (k SearchKey) IndexerKey(blockRange *Range) IndexerSearchKey {
	n := k.Normalize()
	filter := &IndexerSearchKeyFilter{BlockRange: blockRange}
	if n.Filter != nil {
		filter.Script = n.Filter.Script
		filter.ScriptLenRange = n.Filter.ScriptLenRange
		filter.OutputDataLenRange = n.Filter.OutputDataLenRange
		filter.OutputCapacityRange = n.Filter.OutputCapacityRange
	}
	group := true
	return IndexerSearchKey{
		Script:             n.Script,
		ScriptType:         n.ScriptType,
		Filter:             filter,
		GroupByTransaction: &group,
	}
}

// IndexerSearchKeyFilter is the indexer's filter, which adds a block range
type IndexerSearchKeyFilter struct {
	Script              *Script `json:"script,omitempty"`
	ScriptLenRange      *Range  `json:"script_len_range,omitempty"`
	OutputDataLenRange  *Range  `json:"output_data_len_range,omitempty"`
	OutputCapacityRange *Range  `json:"output_capacity_range,omitempty"`
	BlockRange          *Range  `json:"block_range,omitempty"`
}

// IndexerSearchKey is the query key sent to the chain indexer
type IndexerSearchKey struct {
	Script             Script                  `json:"script"`
	ScriptType         ScriptType              `json:"script_type"`
	Filter             *IndexerSearchKeyFilter `json:"filter,omitempty"`
	WithData           *bool                   `json:"with_data,omitempty"`
	GroupByTransaction *bool                   `json:"group_by_transaction,omitempty"`
}

func (s Script) normalize() Script {
	out := Script{
		CodeHash: s.CodeHash,
		HashType: HashType(strings.ToLower(string(s.HashType))),
	}
	if len(s.Args) > 0 {
		out.Args = append(hexutil.Bytes(nil), s.Args...)
	}
	return out
}

func (s Script) validate() error {
	switch s.HashType {
	case HashTypeData, HashTypeType, HashTypeData1, HashTypeData2:
		return nil
	default:
		return fmt.Errorf("unknown hash_type %q", s.HashType)
	}
}
