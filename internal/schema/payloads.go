package schema

// InstrumentID is the numeric identifier for an instrument.
type InstrumentID uint32

// BookLevel is one aggregated price level.
type BookLevel struct {
	Price float64
	Qty   int64
}

// IsZero reports whether the level carries no quantity.
func (l BookLevel) IsZero() bool {
	return l.Qty <= 0
}

// Quote is a top of book snapshot.
type Quote struct {
	InstrumentID InstrumentID
	Bid          BookLevel
	Ask          BookLevel
	ExchTs       int64
	Ts           int64
	Flags        uint32
}

// Level returns the level a unit quoting on side watches: bid for buy, ask for sell.
func (q Quote) Level(side Side) BookLevel {
	if side == SideSell {
		return q.Ask
	}
	return q.Bid
}

// Trade is a public trade print.
type Trade struct {
	InstrumentID InstrumentID
	Price        float64
	Qty          int64
	Side         Side
	ExchTs       int64
	Ts           int64
}
