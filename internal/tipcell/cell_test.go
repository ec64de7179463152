package tipcell

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellemitter/emitter/pkg/types"
)

// snapshotAt derives the hash from the height so readers can detect torn values.
func snapshotAt(n uint64) types.TipSnapshot {
	return types.NewTipSnapshot(common.BigToHash(new(big.Int).SetUint64(n*7919+1)), n)
}

func consistent(tip types.TipSnapshot) bool {
	return tip == snapshotAt(tip.Number())
}

func TestNew_HoldsInitialSnapshot(t *testing.T) {
	cell := New(snapshotAt(100))

	assert.Equal(t, snapshotAt(100), cell.Load())
	assert.Equal(t, uint64(0), cell.Generation())
	assert.False(t, cell.Sealed())
}

func TestPublish(t *testing.T) {
	cell := New(snapshotAt(100))

	require.NoError(t, cell.Publish(snapshotAt(150)))
	assert.Equal(t, snapshotAt(150), cell.Load())
	assert.Equal(t, uint64(1), cell.Generation())

	// Same height is not a regression.
	require.NoError(t, cell.Publish(snapshotAt(150)))
	assert.Equal(t, uint64(2), cell.Generation())
}

func TestPublish_RejectsRegression(t *testing.T) {
	cell := New(snapshotAt(100))

	err := cell.Publish(snapshotAt(99))
	assert.True(t, errors.Is(err, ErrRegression), "got %v", err)
	assert.Equal(t, snapshotAt(100), cell.Load(), "rejected publish leaves the tip untouched")
	assert.Equal(t, uint64(0), cell.Generation())
}

func TestSeal(t *testing.T) {
	cell := New(snapshotAt(100))
	require.NoError(t, cell.Publish(snapshotAt(120)))

	cell.Seal()
	cell.Seal()

	assert.True(t, cell.Sealed())
	assert.ErrorIs(t, cell.Publish(snapshotAt(130)), ErrSealed)
	assert.Equal(t, snapshotAt(120), cell.Load(), "sealing keeps the last snapshot readable")
	assert.Equal(t, uint64(1), cell.Generation())
}

func TestConcurrentReadersNeverSeeTornValues(t *testing.T) {
	const (
		readers   = 8
		publishes = 20000
	)

	cell := New(snapshotAt(0))
	done := make(chan struct{})

	var wg sync.WaitGroup
	failures := make(chan string, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for {
				tip := cell.Load()
				if !consistent(tip) {
					failures <- "torn snapshot " + tip.String()
					return
				}
				if tip.Number() < last {
					failures <- "tip went backwards"
					return
				}
				last = tip.Number()

				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}

	for n := uint64(1); n <= publishes; n++ {
		require.NoError(t, cell.Publish(snapshotAt(n)))
	}
	close(done)
	wg.Wait()
	close(failures)

	for f := range failures {
		t.Error(f)
	}
	assert.Equal(t, snapshotAt(publishes), cell.Load())
	assert.Equal(t, uint64(publishes), cell.Generation())
}

func TestSealRacingPublish(t *testing.T) {
	for round := 0; round < 200; round++ {
		cell := New(snapshotAt(0))
		sealed := make(chan struct{})

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := uint64(1); ; n++ {
				if err := cell.Publish(snapshotAt(n)); err != nil {
					assert.ErrorIs(t, err, ErrSealed)
					return
				}
			}
		}()

		go func() {
			cell.Seal()
			close(sealed)
		}()

		<-sealed
		frozen := cell.Load()
		wg.Wait()

		assert.Equal(t, frozen, cell.Load(), "no publish lands after Seal returns")
	}
}
