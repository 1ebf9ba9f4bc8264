package orderbook

import (
	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"

	"densityflow/models"
)

// Ladder is one price-ordered side of an order book. Bids iterate from the
// highest price down, asks from the lowest price up, so walking a ladder
// always moves outward from the touch.
type Ladder struct {
	tree       *rbt.Tree[float64, float64]
	descending bool
}

func NewLadder(descending bool) *Ladder {
	var comparator func(a, b float64) int
	if descending {
		comparator = func(a, b float64) int {
			if a > b {
				return -1
			} else if a < b {
				return 1
			}
			return 0
		}
	} else {
		comparator = func(a, b float64) int {
			if a < b {
				return -1
			} else if a > b {
				return 1
			}
			return 0
		}
	}
	return &Ladder{
		tree:       rbt.NewWith[float64, float64](comparator),
		descending: descending,
	}
}

// Set stores the absolute quantity at a price level. A quantity of zero or
// below removes the level.
func (l *Ladder) Set(price, quantity float64) {
	if quantity <= 0 {
		l.tree.Remove(price)
		return
	}
	l.tree.Put(price, quantity)
}

// Best returns the level closest to the touch.
func (l *Ladder) Best() (models.BookLevel, bool) {
	node := l.tree.Left()
	if node == nil {
		return models.BookLevel{}, false
	}
	return models.BookLevel{Price: node.Key, Quantity: node.Value}, true
}

func (l *Ladder) Len() int {
	return l.tree.Size()
}

// Replace swaps the entire ladder contents for the given levels.
func (l *Ladder) Replace(levels []models.BookLevel) {
	l.tree.Clear()
	for _, lvl := range levels {
		if lvl.Quantity > 0 {
			l.tree.Put(lvl.Price, lvl.Quantity)
		}
	}
}

// Levels copies the ladder out in walk order, best first.
func (l *Ladder) Levels() []models.BookLevel {
	out := make([]models.BookLevel, 0, l.tree.Size())
	it := l.tree.Iterator()
	for it.Next() {
		out = append(out, models.BookLevel{Price: it.Key(), Quantity: it.Value()})
	}
	return out
}
