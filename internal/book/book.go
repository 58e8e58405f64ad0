package book

import (
	"math"

	"github.com/yanun0323/errors"

	"quoter/internal/schema"
	"quoter/pkg/exception"
)

// Action is a market data book mutation.
type Action uint8

const (
	ActionOrderAdd    Action = 1
	ActionOrderUpdate Action = 2
	ActionOrderDelete Action = 3
	ActionAdd         Action = 4
	ActionUpdate      Action = 5
	ActionDelete      Action = 6
)

func (a Action) String() string {
	switch a {
	case ActionOrderAdd:
		return "order_add"
	case ActionOrderUpdate:
		return "order_update"
	case ActionOrderDelete:
		return "order_delete"
	case ActionAdd:
		return "add"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

type orderEntry struct {
	price float64
	qty   int64
	side  schema.Side
}

// Book keeps aggregated price levels for one instrument and, when fed per-order updates, the
// per-order index needed to rebuild those levels.
//
// Book is not safe for concurrent use.
type Book struct {
	instr     *schema.Instrument
	bids      ladder
	asks      ladder
	orders    map[int64]orderEntry
	updatedAt int64
}

// New creates an empty book bound to instr.
func New(instr *schema.Instrument) *Book {
	return &Book{
		instr:  instr,
		bids:   ladder{desc: true},
		asks:   ladder{desc: false},
		orders: make(map[int64]orderEntry),
	}
}

// Instrument returns the instrument the book is bound to.
func (b *Book) Instrument() *schema.Instrument {
	return b.instr
}

// UpdatedAt returns the timestamp of the last applied update.
func (b *Book) UpdatedAt() int64 {
	return b.updatedAt
}

// Clear removes every level and order entry.
func (b *Book) Clear() {
	b.bids.clear()
	b.asks.clear()
	clear(b.orders)
}

// IsEmpty reports whether both sides have no levels.
func (b *Book) IsEmpty() bool {
	return len(b.bids.levels) == 0 && len(b.asks.levels) == 0
}

// IsCrossed reports whether best bid >= best ask. A book with an empty side is never crossed.
func (b *Book) IsCrossed() bool {
	bid, ok := b.bids.top()
	if !ok {
		return false
	}
	ask, ok := b.asks.top()
	if !ok {
		return false
	}
	return bid.Price >= ask.Price-schema.Epsilon
}

// Best returns the top level of side.
func (b *Book) Best(side schema.Side) (schema.BookLevel, bool) {
	l := b.ladder(side)
	if l == nil {
		return schema.BookLevel{}, false
	}
	return l.top()
}

// Update applies an aggregated level action and reports whether the top level of side changed.
func (b *Book) Update(action Action, price float64, qty int64, side schema.Side, ts int64) (bool, error) {
	l := b.ladder(side)
	if l == nil {
		return false, exception.ErrBookInvalidSide
	}

	switch action {
	case ActionAdd, ActionUpdate, ActionDelete:
	default:
		return false, exception.ErrBookInvalidAction
	}
	if !validPrice(price) {
		return false, errors.Wrap(exception.ErrBookInvalidPrice, "update").With("price", price)
	}

	before, hadTop := l.top()
	switch action {
	case ActionAdd, ActionUpdate:
		l.set(price, qty)
	case ActionDelete:
		l.remove(price)
	}
	b.updatedAt = ts

	return topChanged(before, hadTop, l), nil
}

// OrderUpdate applies a per-order action. Levels hold the sum of every live order at a price.
func (b *Book) OrderUpdate(action Action, orderID int64, price float64, qty int64, side schema.Side, ts int64) (bool, error) {
	switch action {
	case ActionOrderAdd, ActionOrderUpdate, ActionOrderDelete:
	default:
		return false, exception.ErrBookInvalidAction
	}

	prev, exists := b.orders[orderID]
	if exists && action != ActionOrderDelete && !side.IsAvailable() {
		side = prev.side
	}
	if action == ActionOrderDelete && exists {
		side = prev.side
	}
	l := b.ladder(side)
	if l == nil {
		return false, exception.ErrBookInvalidSide
	}
	if action != ActionOrderDelete && !validPrice(price) {
		return false, errors.Wrap(exception.ErrBookInvalidPrice, "order update").With("price", price).With("order_id", orderID)
	}

	// an order may move sides on update, so both ladders are snapshotted
	bidBefore, hadBid := b.bids.top()
	askBefore, hadAsk := b.asks.top()

	if exists {
		b.ladder(prev.side).adjust(prev.price, -prev.qty)
		delete(b.orders, orderID)
	}
	if action != ActionOrderDelete && qty > 0 {
		l.adjust(price, qty)
		b.orders[orderID] = orderEntry{price: price, qty: qty, side: side}
	}
	b.updatedAt = ts

	return topChanged(bidBefore, hadBid, &b.bids) || topChanged(askBefore, hadAsk, &b.asks), nil
}

// validPrice rejects prices the ladders can not order.
func validPrice(price float64) bool {
	return price >= 0 && !math.IsInf(price, 0)
}

func (b *Book) ladder(side schema.Side) *ladder {
	switch side {
	case schema.SideBuy:
		return &b.bids
	case schema.SideSell:
		return &b.asks
	default:
		return nil
	}
}

func topChanged(before schema.BookLevel, hadTop bool, l *ladder) bool {
	after, hasTop := l.top()
	if hadTop != hasTop {
		return true
	}
	if !hasTop {
		return false
	}
	return !schema.PriceEqual(before.Price, after.Price) || before.Qty != after.Qty
}
