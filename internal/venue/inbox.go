package venue

import (
	stderrors "errors"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"quoter/internal/book"
	"quoter/internal/bus"
	"quoter/internal/obs"
	"quoter/internal/order"
	"quoter/internal/process"
	"quoter/internal/schema"
	"quoter/pkg/exception"
)

const (
	DefaultInboxCapacity = 4096
	DefaultDispatchBatch = 256
)

// Event is a deferred callback. Connectors build events on their own goroutines and the inbox
// runs them on the goroutine calling Dispatch.
type Event func(process.Events)

// DepthUpdate is one book mutation reported by a venue.
type DepthUpdate struct {
	InstrumentID schema.InstrumentID
	Action       book.Action
	OrderID      int64
	Price        float64
	Qty          int64
	Side         schema.Side
	Ts           int64
}

// Inbox is the hand-off between connector goroutines and the supervisor goroutine. Post methods
// are safe for concurrent use; Subscribe and Dispatch must be called from the driver only.
type Inbox struct {
	events  process.Events
	queue   *bus.Queue[Event]
	metrics *obs.Metrics
	batch   int

	subs  map[schema.InstrumentID]schema.SubscriptionMask
	books map[schema.InstrumentID]*book.Book
}

// NewInbox creates an inbox that dispatches to events.
func NewInbox(events process.Events, capacity int, metrics *obs.Metrics) (*Inbox, error) {
	if events == nil {
		return nil, exception.ErrVenueNilEvents
	}
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	return &Inbox{
		events:  events,
		queue:   bus.NewQueue[Event](capacity),
		metrics: metrics,
		batch:   DefaultDispatchBatch,
		subs:    make(map[schema.InstrumentID]schema.SubscriptionMask),
		books:   make(map[schema.InstrumentID]*book.Book),
	}, nil
}

// Post enqueues an arbitrary event.
func (in *Inbox) Post(ev Event) error {
	if err := in.queue.TryPublish(ev); err != nil {
		in.metrics.IncQueueDrop()
		if stderrors.Is(err, bus.ErrQueueFull) {
			return exception.ErrVenueQueueFull
		}
		return err
	}
	return nil
}

func (in *Inbox) PostConnected() error { return in.Post(func(e process.Events) { e.OnConnected() }) }

// PostDisconnected enqueues a disconnect. Books are cleared when it is dispatched.
func (in *Inbox) PostDisconnected() error {
	return in.Post(func(e process.Events) {
		in.ClearBooks()
		e.OnDisconnected()
	})
}

func (in *Inbox) PostAck(ack order.Ack) error {
	return in.Post(func(e process.Events) { e.OnAck(ack) })
}

// PostQuote enqueues a quote. It is delivered only while the instrument is subscribed to quotes.
func (in *Inbox) PostQuote(q schema.Quote) error {
	return in.Post(func(e process.Events) {
		if in.subs[q.InstrumentID].Has(schema.SubscribeQuote) {
			e.OnQuote(q)
		}
	})
}

// PostTrade enqueues a trade. It is delivered only while the instrument is subscribed to trades.
func (in *Inbox) PostTrade(t schema.Trade) error {
	return in.Post(func(e process.Events) {
		if in.subs[t.InstrumentID].Has(schema.SubscribeTrade) {
			e.OnTrade(t)
		}
	})
}

// PostDepth enqueues a book mutation. The book is rebuilt on dispatch, and a quote is derived
// whenever the top of book moves.
func (in *Inbox) PostDepth(u DepthUpdate) error {
	return in.Post(func(e process.Events) {
		in.applyDepth(e, u)
	})
}

func (in *Inbox) applyDepth(e process.Events, u DepthUpdate) {
	b, ok := in.books[u.InstrumentID]
	if !ok {
		return
	}

	var (
		changed bool
		err     error
	)
	switch u.Action {
	case book.ActionOrderAdd, book.ActionOrderUpdate, book.ActionOrderDelete:
		changed, err = b.OrderUpdate(u.Action, u.OrderID, u.Price, u.Qty, u.Side, u.Ts)
	default:
		changed, err = b.Update(u.Action, u.Price, u.Qty, u.Side, u.Ts)
	}
	if err != nil {
		logs.Warnf("drop depth update for %s, action: %s, err: %+v", b.Instrument().Alias, u.Action, err)
		return
	}

	if changed && in.subs[u.InstrumentID].Has(schema.SubscribeQuote) {
		e.OnQuote(b.Quote())
	}
}

// Subscribe records the streams wanted for instr. Book and quote subscriptions get a book so
// depth updates can be turned into quotes.
func (in *Inbox) Subscribe(instr *schema.Instrument, mask schema.SubscriptionMask) error {
	if instr == nil {
		return errors.Wrap(exception.ErrInvalidArgument, "subscribe nil instrument")
	}
	in.subs[instr.ID] = mask
	if mask.Has(schema.SubscribeBook) || mask.Has(schema.SubscribeQuote) {
		if _, ok := in.books[instr.ID]; !ok {
			in.books[instr.ID] = book.New(instr)
		}
	} else {
		delete(in.books, instr.ID)
	}
	return nil
}

// Subscribed returns the mask recorded for id.
func (in *Inbox) Subscribed(id schema.InstrumentID) schema.SubscriptionMask {
	return in.subs[id]
}

// Book returns the book kept for id, if any.
func (in *Inbox) Book(id schema.InstrumentID) (*book.Book, bool) {
	b, ok := in.books[id]
	return b, ok
}

// ClearBooks drops every level.
func (in *Inbox) ClearBooks() {
	for _, b := range in.books {
		b.Clear()
	}
}

// Dispatch waits up to timeout for the first event and then drains at most one batch of
// ready events.
func (in *Inbox) Dispatch(timeout time.Duration) error {
	ev, ok := in.queue.Receive(timeout)
	if !ok {
		return nil
	}
	ev(in.events)
	for range in.batch - 1 {
		ev, ok = in.queue.Receive(0)
		if !ok {
			return nil
		}
		ev(in.events)
	}
	return nil
}

// Len returns the number of queued events.
func (in *Inbox) Len() int {
	return in.queue.Len()
}

// Close stops accepting events.
func (in *Inbox) Close() {
	in.queue.Close()
}
