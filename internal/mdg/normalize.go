package mdg

import (
	"time"

	"github.com/yanun0323/errors"

	"quoter/internal/book"
	"quoter/internal/schema"
	"quoter/internal/venue"
	"quoter/pkg/exception"
)

// TickKind tells how a RawTick is published.
type TickKind uint8

const (
	TickQuote TickKind = iota + 1
	TickTrade
)

// RawTick is a raw market data input.
type RawTick struct {
	Symbol   string
	Kind     TickKind
	Side     schema.Side
	Price    float64
	Size     int64
	BidPrice float64
	BidSize  int64
	AskPrice float64
	AskSize  int64
	TsEvent  int64
	TsRecv   int64
}

// Sink receives normalized market data. The simulator implements it.
type Sink interface {
	PublishQuote(schema.Quote) error
	PublishTrade(schema.Trade) error
	PublishDepth(venue.DepthUpdate) error
}

// Normalizer maps raw ticks to schema values. In depth mode quotes are published as level
// updates so that the receiving side rebuilds the top of book itself.
type Normalizer struct {
	reg   *schema.Registry
	depth bool
	last  map[schema.InstrumentID]RawTick
}

// NewNormalizer creates a normalizer for a registry.
func NewNormalizer(reg *schema.Registry, depth bool) *Normalizer {
	return &Normalizer{
		reg:   reg,
		depth: depth,
		last:  make(map[schema.InstrumentID]RawTick),
	}
}

// Publish converts tick and hands it to sink.
func (n *Normalizer) Publish(sink Sink, tick RawTick) error {
	if n.reg == nil {
		return errors.Wrap(exception.ErrNilInstance, "registry is nil")
	}
	instr, ok := n.reg.ByAlias(tick.Symbol)
	if !ok {
		return errors.Wrap(exception.ErrInvalidArgument, "symbol not found").With("symbol", tick.Symbol)
	}
	if tick.TsRecv == 0 {
		tick.TsRecv = time.Now().UTC().UnixNano()
	}
	if tick.TsEvent == 0 {
		tick.TsEvent = tick.TsRecv
	}

	switch tick.Kind {
	case TickTrade:
		return sink.PublishTrade(schema.Trade{
			InstrumentID: instr.ID,
			Price:        tick.Price,
			Qty:          tick.Size,
			Side:         tick.Side,
			ExchTs:       tick.TsEvent,
			Ts:           tick.TsRecv,
		})
	case TickQuote:
		if n.depth {
			return n.publishDepth(sink, instr.ID, tick)
		}
		return sink.PublishQuote(schema.Quote{
			InstrumentID: instr.ID,
			Bid:          schema.BookLevel{Price: tick.BidPrice, Qty: tick.BidSize},
			Ask:          schema.BookLevel{Price: tick.AskPrice, Qty: tick.AskSize},
			ExchTs:       tick.TsEvent,
			Ts:           tick.TsRecv,
		})
	default:
		return errors.Wrap(exception.ErrInvalidArgument, "unknown tick kind").With("kind", tick.Kind)
	}
}

func (n *Normalizer) publishDepth(sink Sink, id schema.InstrumentID, tick RawTick) error {
	prev, hadPrev := n.last[id]
	n.last[id] = tick

	// New levels go first so a side is never left empty in between.
	updates := []venue.DepthUpdate{
		{Action: book.ActionUpdate, Price: tick.BidPrice, Qty: tick.BidSize, Side: schema.SideBuy},
		{Action: book.ActionUpdate, Price: tick.AskPrice, Qty: tick.AskSize, Side: schema.SideSell},
	}
	if hadPrev && !schema.PriceEqual(prev.BidPrice, tick.BidPrice) {
		updates = append(updates, venue.DepthUpdate{Action: book.ActionDelete, Price: prev.BidPrice, Side: schema.SideBuy})
	}
	if hadPrev && !schema.PriceEqual(prev.AskPrice, tick.AskPrice) {
		updates = append(updates, venue.DepthUpdate{Action: book.ActionDelete, Price: prev.AskPrice, Side: schema.SideSell})
	}

	for _, u := range updates {
		u.InstrumentID = id
		u.Ts = tick.TsRecv
		if err := sink.PublishDepth(u); err != nil {
			return err
		}
	}
	return nil
}
