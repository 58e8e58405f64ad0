package book

import (
	"iter"
	"strconv"

	"quoter/internal/schema"
)

// DepthLevels is the number of levels per side in a Depth snapshot.
const DepthLevels = 20

// Depth is a fixed size snapshot of the book.
type Depth struct {
	InstrumentID schema.InstrumentID
	Ts           int64
	Bids         [DepthLevels]schema.BookLevel
	BidsLength   int
	Asks         [DepthLevels]schema.BookLevel
	AsksLength   int
}

// Levels yields up to depth levels of side, most aggressive first. depth <= 0 yields every level.
// The sequence reads the live book, so it must not be used across updates.
func (b *Book) Levels(side schema.Side, depth int) iter.Seq2[int, schema.BookLevel] {
	return func(yield func(int, schema.BookLevel) bool) {
		l := b.ladder(side)
		if l == nil {
			return
		}
		n := len(l.levels)
		if depth > 0 && depth < n {
			n = depth
		}
		for i := 0; i < n; i++ {
			if !yield(i, l.levels[i]) {
				return
			}
		}
	}
}

// Quote derives a top of book quote. An empty side yields a zero level.
func (b *Book) Quote() schema.Quote {
	q := schema.Quote{Ts: b.updatedAt}
	if b.instr != nil {
		q.InstrumentID = b.instr.ID
	}
	q.Bid, _ = b.bids.top()
	q.Ask, _ = b.asks.top()
	return q
}

// Depth copies the top DepthLevels of each side.
func (b *Book) Depth() Depth {
	d := Depth{Ts: b.updatedAt}
	if b.instr != nil {
		d.InstrumentID = b.instr.ID
	}
	d.BidsLength = copy(d.Bids[:], b.bids.levels)
	d.AsksLength = copy(d.Asks[:], b.asks.levels)
	return d
}

// Debug returns a human readable format string
func (b *Book) Debug() string {
	appendSide := func(buf []byte, levels []schema.BookLevel) []byte {
		buf = append(buf, '[')
		for i, lv := range levels {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, '(')
			buf = strconv.AppendFloat(buf, lv.Price, 'f', -1, 64)
			buf = append(buf, ',')
			buf = strconv.AppendInt(buf, lv.Qty, 10)
			buf = append(buf, ')')
		}
		return append(buf, ']')
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, "Book{instrument="...)
	if b.instr != nil {
		buf = append(buf, b.instr.Alias...)
	}
	buf = append(buf, " updated_at="...)
	buf = strconv.AppendInt(buf, b.updatedAt, 10)
	buf = append(buf, " bids="...)
	buf = appendSide(buf, b.bids.levels)
	buf = append(buf, " asks="...)
	buf = appendSide(buf, b.asks.levels)
	buf = append(buf, '}')
	return string(buf)
}
