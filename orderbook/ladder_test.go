package orderbook

import (
	"testing"

	"densityflow/models"
)

func TestLadderOrdering(t *testing.T) {
	bids := NewLadder(true)
	bids.Set(99, 1)
	bids.Set(101, 2)
	bids.Set(100, 3)

	levels := bids.Levels()
	if len(levels) != 3 || levels[0].Price != 101 || levels[1].Price != 100 || levels[2].Price != 99 {
		t.Fatalf("expected descending bids, got %+v", levels)
	}

	asks := NewLadder(false)
	asks.Set(101, 1)
	asks.Set(99, 2)
	asks.Set(100, 3)

	levels = asks.Levels()
	if len(levels) != 3 || levels[0].Price != 99 || levels[2].Price != 101 {
		t.Fatalf("expected ascending asks, got %+v", levels)
	}
}

func TestLadderBest(t *testing.T) {
	bids := NewLadder(true)
	if _, ok := bids.Best(); ok {
		t.Fatalf("expected no best on empty ladder")
	}

	bids.Set(100, 1)
	bids.Set(101, 2)
	best, ok := bids.Best()
	if !ok || best.Price != 101 || best.Quantity != 2 {
		t.Fatalf("unexpected best: %+v", best)
	}
}

func TestLadderSetZeroRemoves(t *testing.T) {
	l := NewLadder(false)
	l.Set(100, 5)
	l.Set(100, 0)
	if l.Len() != 0 {
		t.Fatalf("expected empty ladder, got %d levels", l.Len())
	}
}

func TestLadderReplace(t *testing.T) {
	l := NewLadder(true)
	l.Set(50, 1)
	l.Replace([]models.BookLevel{{Price: 100, Quantity: 1}, {Price: 99, Quantity: 2}})
	levels := l.Levels()
	if len(levels) != 2 || levels[0].Price != 100 {
		t.Fatalf("expected replaced levels, got %+v", levels)
	}
}
