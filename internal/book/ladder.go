package book

import (
	"sort"

	"quoter/internal/schema"
)

// ladder is one side of a book. Bids are kept descending, asks ascending, and no two levels
// share a price within schema.Epsilon.
type ladder struct {
	desc   bool
	levels []schema.BookLevel
}

func (l *ladder) top() (schema.BookLevel, bool) {
	if len(l.levels) == 0 {
		return schema.BookLevel{}, false
	}
	return l.levels[0], true
}

// search returns the index of price, or the index it would be inserted at.
func (l *ladder) search(price float64) (int, bool) {
	i := sort.Search(len(l.levels), func(i int) bool {
		p := l.levels[i].Price
		if l.desc {
			return p < price+schema.Epsilon
		}
		return p > price-schema.Epsilon
	})
	return i, i < len(l.levels) && schema.PriceEqual(l.levels[i].Price, price)
}

// set replaces the quantity at price. qty <= 0 removes the level.
func (l *ladder) set(price float64, qty int64) {
	if qty <= 0 {
		l.remove(price)
		return
	}
	i, found := l.search(price)
	if found {
		l.levels[i].Qty = qty
		return
	}
	l.insert(i, schema.BookLevel{Price: price, Qty: qty})
}

// adjust adds delta to the quantity at price, removing the level once it drops to zero.
func (l *ladder) adjust(price float64, delta int64) {
	i, found := l.search(price)
	if !found {
		if delta > 0 {
			l.insert(i, schema.BookLevel{Price: price, Qty: delta})
		}
		return
	}
	qty := l.levels[i].Qty + delta
	if qty <= 0 {
		l.levels = append(l.levels[:i], l.levels[i+1:]...)
		return
	}
	l.levels[i].Qty = qty
}

func (l *ladder) remove(price float64) {
	i, found := l.search(price)
	if !found {
		return
	}
	l.levels = append(l.levels[:i], l.levels[i+1:]...)
}

func (l *ladder) insert(i int, level schema.BookLevel) {
	l.levels = append(l.levels, schema.BookLevel{})
	copy(l.levels[i+1:], l.levels[i:])
	l.levels[i] = level
}

func (l *ladder) clear() {
	l.levels = l.levels[:0]
}
