// Package registry tracks which search keys are registered and their tip cells.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync"

	"github.com/cellemitter/emitter/internal/tipcell"
	"github.com/cellemitter/emitter/pkg/types"
)

type registration struct {
	key  types.SearchKey
	cell *tipcell.Cell
}

// Entry is one row of a table snapshot
type Entry struct {
	Key types.SearchKey
	Tip types.TipSnapshot
}

// MarshalJSON encodes the entry as a [search_key, tip] pair
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{e.Key, e.Tip})
}

// UnmarshalJSON decodes a [search_key, tip] pair
func (e *Entry) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode entry: %w", err)
	}
	if err := json.Unmarshal(pair[0], &e.Key); err != nil {
		return fmt.Errorf("decode entry key: %w", err)
	}
	if err := json.Unmarshal(pair[1], &e.Tip); err != nil {
		return fmt.Errorf("decode entry tip: %w", err)
	}
	return nil
}

// Table maps search keys to their tip cells. It is the only authority on
// whether a key is registered.
//
// Thread-safety: all methods are safe for concurrent use. Operations on the
// same key are serialized by the map's bucket locks; different keys do not
// contend.
type Table struct {
	entries *xsync.MapOf[string, registration]
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{entries: xsync.NewMapOf[registration]()}
}

// InsertIfAbsent stores cell under key unless the key is already present.
// The check and the insert are a single atomic step.
func (t *Table) InsertIfAbsent(key types.SearchKey, cell *tipcell.Cell) bool {
	_, loaded := t.entries.LoadOrStore(key.ID(), registration{key: key.Normalize(), cell: cell})
	return !loaded
}

// Remove deletes key and returns its cell, if it was present
func (t *Table) Remove(key types.SearchKey) (*tipcell.Cell, bool) {
	reg, ok := t.entries.LoadAndDelete(key.ID())
	if !ok {
		return nil, false
	}
	return reg.cell, true
}

// Get returns the cell registered under key
func (t *Table) Get(key types.SearchKey) (*tipcell.Cell, bool) {
	reg, ok := t.entries.Load(key.ID())
	if !ok {
		return nil, false
	}
	return reg.cell, true
}

// Contains reports whether key is registered
func (t *Table) Contains(key types.SearchKey) bool {
	_, ok := t.entries.Load(key.ID())
	return ok
}

// Len returns the number of registrations
func (t *Table) Len() int {
	return t.entries.Size()
}

// Snapshot lists every registration with its current tip, ordered by key
// identity. Returned keys are copies. Concurrent inserts and removes may or may not be reflected.
func (t *Table) Snapshot() []Entry {
	type row struct {
		id    string
		entry Entry
	}

	rows := make([]row, 0, t.entries.Size())
	t.entries.Range(func(id string, reg registration) bool {
		rows = append(rows, row{id: id, entry: Entry{Key: reg.key.Normalize(), Tip: reg.cell.Load()}})
		return true
	})

	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })

	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = r.entry
	}
	return out
}
