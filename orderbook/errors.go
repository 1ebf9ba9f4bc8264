package orderbook

import (
	"errors"
	"fmt"
)

var (
	// ErrNoLiquidity is returned when a mid price cannot be computed because
	// one side of the book is empty.
	ErrNoLiquidity = errors.New("no liquidity on one or both book sides")

	// ErrCrossedBook is returned when the best bid is at or above the best
	// ask. A crossed book is a transient invalid state and must trigger a
	// resync, never a density computation.
	ErrCrossedBook = errors.New("book is crossed")

	// ErrNotSynced is returned for deltas arriving before the matching
	// snapshot. Callers drop these; a resync is already pending.
	ErrNotSynced = errors.New("book is not synced")

	// ErrStaleDelta is returned for deltas entirely older than the current
	// snapshot. Harmless, dropped silently.
	ErrStaleDelta = errors.New("delta predates current snapshot")
)

// SequenceGapError reports a non-contiguous delta. The book keeps its prior
// state and moves to Resyncing; the caller must request a fresh snapshot.
type SequenceGapError struct {
	Symbol   string
	Expected int64
	Got      int64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("sequence gap on %s: expected continuation of %d, got %d", e.Symbol, e.Expected, e.Got)
}
