package orderbook

import (
	"sync"
	"time"

	"densityflow/models"
)

// SyncState tracks where a book sits in the snapshot/delta protocol.
type SyncState int

const (
	// AwaitingSnapshot means no snapshot has been applied yet.
	AwaitingSnapshot SyncState = iota
	// Synced means deltas are chaining cleanly onto the last snapshot.
	Synced
	// Resyncing means a gap or crossed book was detected and a fresh
	// snapshot has been requested. Deltas are rejected until it arrives.
	Resyncing
)

func (s SyncState) String() string {
	switch s {
	case AwaitingSnapshot:
		return "awaiting_snapshot"
	case Synced:
		return "synced"
	case Resyncing:
		return "resyncing"
	default:
		return "unknown"
	}
}

// Book is the materialized order book for a single instrument. It has one
// logical writer (the scanner apply loop); the mutex only serializes applies
// against View copies so readers never observe a partial update.
type Book struct {
	symbol string

	mu         sync.Mutex
	bids       *Ladder
	asks       *Ladder
	sequence   int64
	lastUpdate time.Time
	state      SyncState
	firstDelta bool
}

// View is a read-isolated copy of both ladders, levels ordered best-first.
type View struct {
	Symbol     string
	Bids       []models.BookLevel
	Asks       []models.BookLevel
	Sequence   int64
	LastUpdate time.Time
}

// MidPrice returns (bestBid+bestAsk)/2 for the view.
func (v *View) MidPrice() (float64, error) {
	if len(v.Bids) == 0 || len(v.Asks) == 0 {
		return 0, ErrNoLiquidity
	}
	bestBid := v.Bids[0].Price
	bestAsk := v.Asks[0].Price
	if bestBid >= bestAsk {
		return 0, ErrCrossedBook
	}
	return (bestBid + bestAsk) / 2, nil
}

func NewBook(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   NewLadder(true),
		asks:   NewLadder(false),
		state:  AwaitingSnapshot,
	}
}

func (b *Book) Symbol() string {
	return b.symbol
}

// ApplySnapshot replaces the entire ladder state and resets the sequence
// counter. The book becomes Synced; the next delta must straddle sequence.
func (b *Book) ApplySnapshot(snap models.BookSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids.Replace(snap.Bids)
	b.asks.Replace(snap.Asks)
	b.sequence = snap.Sequence
	b.lastUpdate = snap.ReceivedTime
	b.state = Synced
	b.firstDelta = true
}

// ApplyDelta applies an incremental update. Sequence continuity is checked
// before any mutation: a failed delta leaves the prior state untouched.
//
// The first delta after a snapshot must straddle the snapshot sequence
// (FirstSequence <= seq+1 <= Sequence); every later delta must chain with
// PrevSequence equal to the last applied Sequence. Any other arrangement is a
// gap: the book flips to Resyncing and the caller requests a new snapshot.
func (b *Book) ApplyDelta(delta models.BookDelta) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Synced {
		return ErrNotSynced
	}

	if b.firstDelta {
		if delta.Sequence <= b.sequence {
			return ErrStaleDelta
		}
		if delta.FirstSequence > b.sequence+1 {
			b.state = Resyncing
			return &SequenceGapError{Symbol: b.symbol, Expected: b.sequence, Got: delta.FirstSequence}
		}
	} else if delta.PrevSequence != b.sequence {
		if delta.Sequence <= b.sequence {
			return ErrStaleDelta
		}
		b.state = Resyncing
		return &SequenceGapError{Symbol: b.symbol, Expected: b.sequence, Got: delta.PrevSequence}
	}

	for _, change := range delta.Changes {
		switch change.Side {
		case models.SideBid:
			b.bids.Set(change.Price, change.Quantity)
		case models.SideAsk:
			b.asks.Set(change.Price, change.Quantity)
		}
	}

	b.sequence = delta.Sequence
	b.lastUpdate = delta.ReceivedTime
	b.firstDelta = false
	return nil
}

// MidPrice returns the arithmetic average of best bid and best ask.
func (b *Book) MidPrice() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.midPriceLocked()
}

func (b *Book) midPriceLocked() (float64, error) {
	bestBid, okBid := b.bids.Best()
	bestAsk, okAsk := b.asks.Best()
	if !okBid || !okAsk {
		return 0, ErrNoLiquidity
	}
	if bestBid.Price >= bestAsk.Price {
		return 0, ErrCrossedBook
	}
	return (bestBid.Price + bestAsk.Price) / 2, nil
}

// View returns an immutable copy of both ladders taken under the book mutex,
// so an in-progress apply can never bleed into an evaluation.
func (b *Book) View() *View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &View{
		Symbol:     b.symbol,
		Bids:       b.bids.Levels(),
		Asks:       b.asks.Levels(),
		Sequence:   b.sequence,
		LastUpdate: b.lastUpdate,
	}
}

func (b *Book) State() SyncState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Book) Sequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sequence
}

// MarkResyncing flags the book after an external consistency failure, such
// as a crossed book seen during evaluation. Returns true on the first call
// that moves the book out of Synced, so callers request one resync per
// incident rather than one per tick.
func (b *Book) MarkResyncing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Resyncing {
		return false
	}
	b.state = Resyncing
	return true
}
