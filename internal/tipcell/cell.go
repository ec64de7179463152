// Package tipcell holds the latest scanned tip for one registration.
//
// A Cell has exactly one writer (its watcher) and any number of readers.
// Each publish installs a new immutable version record with a single
// compare-and-swap, so readers always see a complete snapshot and never
// take a lock. Superseded records are dropped on swap and left to the
// garbage collector.
package tipcell

import (
	"errors"
	"fmt"

	"go.uber.org/atomic"

	"github.com/cellemitter/emitter/pkg/types"
)

var (
	// ErrSealed is returned by Publish once the cell has been sealed
	ErrSealed = errors.New("tip cell sealed")

	// ErrRegression is returned when a publish would move the tip backwards
	ErrRegression = errors.New("tip regression")
)

type version struct {
	tip        types.TipSnapshot
	generation uint64
	sealed     bool
}

// Cell is a single-writer, multi-reader tip holder
type Cell struct {
	current *atomic.Pointer[version]
}

// New creates a cell seeded with the initial snapshot
func New(initial types.TipSnapshot) *Cell {
	return &Cell{current: atomic.NewPointer(&version{tip: initial})}
}

// Load returns the most recently published snapshot, or the initial one
func (c *Cell) Load() types.TipSnapshot {
	return c.current.Load().tip
}

// Generation returns the number of successful publishes
func (c *Cell) Generation() uint64 {
	return c.current.Load().generation
}

// Sealed reports whether the cell rejects further publishes
func (c *Cell) Sealed() bool {
	return c.current.Load().sealed
}

// Publish replaces the visible snapshot. Only the owning watcher may call it.
func (c *Cell) Publish(next types.TipSnapshot) error {
	for {
		old := c.current.Load()
		if old.sealed {
			return ErrSealed
		}
		if next.Number() < old.tip.Number() {
			return fmt.Errorf("%w: %d -> %d", ErrRegression, old.tip.Number(), next.Number())
		}
		if c.current.CompareAndSwap(old, &version{tip: next, generation: old.generation + 1}) {
			return nil
		}
		// Lost to Seal; re-check.
	}
}

// Seal permanently stops publication. Once Seal returns, every later
// Publish fails with ErrSealed. Sealing twice is a no-op.
func (c *Cell) Seal() {
	for {
		old := c.current.Load()
		if old.sealed {
			return
		}
		sealed := *old
		sealed.sealed = true
		if c.current.CompareAndSwap(old, &sealed) {
			return
		}
	}
}
