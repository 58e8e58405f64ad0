package sim

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"quoter/internal/obs"
	"quoter/internal/order"
	"quoter/internal/process"
	"quoter/internal/schema"
	"quoter/internal/venue"
	"quoter/pkg/exception"
)

// Reject reasons reported by the simulator.
const (
	ReasonPolicy       int32 = 1
	ReasonUnknownOrder int32 = 2
	ReasonBadRequest   int32 = 3
)

// Policy decides how the simulator answers requests.
type Policy struct {
	RejectNew     bool `yaml:"reject_new"`
	RejectCancel  bool `yaml:"reject_cancel"`
	RejectReplace bool `yaml:"reject_replace"`
	// FillOnNew fills the whole order right after it is activated.
	FillOnNew bool `yaml:"fill_on_new"`
	// MatchTrades fills resting orders against published trades that cross them.
	MatchTrades bool `yaml:"match_trades"`
}

type Config struct {
	Policy   Policy `yaml:"policy"`
	Capacity int    `yaml:"capacity"`
}

type resting struct {
	instr  schema.InstrumentID
	side   schema.Side
	price  float64
	leaves int64
}

// Venue is an in-process venue. Requests are answered through the inbox, so replies reach the
// supervisor on a later Receive just like a remote venue's would.
type Venue struct {
	cfg       Config
	inbox     *venue.Inbox
	connected atomic.Bool

	mu     sync.Mutex
	orders map[uint64]*resting
	sent   []order.Request
}

// Dial returns a process.Dialer building simulators with cfg. ready, when set, receives each
// built venue so a feed can be attached to it.
func Dial(cfg Config, metrics *obs.Metrics, ready func(*Venue)) process.Dialer {
	return func(events process.Events) (process.Connectivity, error) {
		v, err := New(events, cfg, metrics)
		if err != nil {
			return nil, err
		}
		if ready != nil {
			ready(v)
		}
		return v, nil
	}
}

// New creates a disconnected simulator.
func New(events process.Events, cfg Config, metrics *obs.Metrics) (*Venue, error) {
	inbox, err := venue.NewInbox(events, cfg.Capacity, metrics)
	if err != nil {
		return nil, errors.Wrap(err, "new inbox")
	}
	return &Venue{
		cfg:    cfg,
		inbox:  inbox,
		orders: make(map[uint64]*resting),
	}, nil
}

func (v *Venue) Start() error {
	v.connected.Store(true)
	return v.inbox.PostConnected()
}

// Stop disconnects. Resting orders are dropped without acks, like a venue with
// cancel-on-disconnect.
func (v *Venue) Stop() error {
	v.connected.Store(false)
	v.mu.Lock()
	clear(v.orders)
	v.mu.Unlock()
	return v.inbox.PostDisconnected()
}

func (v *Venue) Receive(timeout time.Duration) error {
	return v.inbox.Dispatch(timeout)
}

func (v *Venue) Subscribe(instr *schema.Instrument, mask schema.SubscriptionMask) error {
	return v.inbox.Subscribe(instr, mask)
}

func (v *Venue) Close() error {
	v.connected.Store(false)
	v.inbox.Close()
	return nil
}

// Connected reports whether the simulator is between Start and Stop.
func (v *Venue) Connected() bool {
	return v.connected.Load()
}

// Transmit answers req according to the policy.
func (v *Venue) Transmit(req order.Request) error {
	if !v.connected.Load() {
		return exception.ErrNotConnected
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.sent = append(v.sent, req)

	switch req.Kind {
	case order.RequestNew:
		return v.onNew(req)
	case order.RequestCancel:
		return v.onCancel(req)
	case order.RequestReplace:
		return v.onReplace(req)
	default:
		return errors.Wrap(exception.ErrInvalidArgument, "transmit").With("kind", req.Kind.String())
	}
}

func (v *Venue) onNew(req order.Request) error {
	if v.cfg.Policy.RejectNew {
		return v.reject(req.OrderID, order.AckRejected, ReasonPolicy, "new order rejected by policy")
	}
	if req.Qty <= 0 || !req.Side.IsAvailable() {
		return v.reject(req.OrderID, order.AckRejected, ReasonBadRequest, "bad order")
	}

	o := &resting{
		instr:  req.InstrumentID,
		side:   req.Side,
		price:  req.Price,
		leaves: req.Qty,
	}
	v.orders[req.OrderID] = o
	if err := v.inbox.PostAck(order.Ack{OrderID: req.OrderID, Kind: order.AckActivated}); err != nil {
		return err
	}
	if v.cfg.Policy.FillOnNew {
		return v.fill(req.OrderID, o, o.leaves, o.price)
	}
	return nil
}

func (v *Venue) onCancel(req order.Request) error {
	if _, ok := v.orders[req.OrderID]; !ok {
		return v.reject(req.OrderID, order.AckCancelRejected, ReasonUnknownOrder, "unknown order")
	}
	if v.cfg.Policy.RejectCancel {
		return v.reject(req.OrderID, order.AckCancelRejected, ReasonPolicy, "cancel rejected by policy")
	}
	delete(v.orders, req.OrderID)
	return v.inbox.PostAck(order.Ack{OrderID: req.OrderID, Kind: order.AckCanceled})
}

func (v *Venue) onReplace(req order.Request) error {
	o, ok := v.orders[req.OrderID]
	if !ok {
		return v.reject(req.OrderID, order.AckReplaceRejected, ReasonUnknownOrder, "unknown order")
	}
	if v.cfg.Policy.RejectReplace {
		return v.reject(req.OrderID, order.AckReplaceRejected, ReasonPolicy, "replace rejected by policy")
	}
	if req.Mask.Has(order.ReplaceQty) {
		if req.Qty <= 0 {
			return v.reject(req.OrderID, order.AckReplaceRejected, ReasonBadRequest, "bad quantity")
		}
		o.leaves = req.Qty
	}
	if req.Mask.Has(order.ReplacePrice) {
		o.price = req.Price
	}
	return v.inbox.PostAck(order.Ack{
		OrderID: req.OrderID,
		Kind:    order.AckReplaced,
		Qty:     o.leaves,
		Price:   o.price,
	})
}

func (v *Venue) reject(id uint64, kind order.AckKind, reason int32, text string) error {
	return v.inbox.PostAck(order.Ack{
		OrderID: id,
		Kind:    kind,
		Reason:  reason,
		Text:    text,
	})
}

func (v *Venue) fill(id uint64, o *resting, qty int64, price float64) error {
	qty = min(qty, o.leaves)
	o.leaves -= qty
	if o.leaves == 0 {
		delete(v.orders, id)
	}
	return v.inbox.PostAck(order.Ack{
		OrderID: id,
		Kind:    order.AckTrade,
		Qty:     qty,
		Price:   price,
	})
}

// PublishQuote feeds a quote while connected.
func (v *Venue) PublishQuote(q schema.Quote) error {
	if !v.connected.Load() {
		return exception.ErrNotConnected
	}
	return v.inbox.PostQuote(q)
}

// PublishDepth feeds a book mutation while connected.
func (v *Venue) PublishDepth(u venue.DepthUpdate) error {
	if !v.connected.Load() {
		return exception.ErrNotConnected
	}
	return v.inbox.PostDepth(u)
}

// PublishTrade feeds a trade while connected. With MatchTrades, resting orders crossed by the
// trade are filled at their own price.
func (v *Venue) PublishTrade(t schema.Trade) error {
	if !v.connected.Load() {
		return exception.ErrNotConnected
	}
	if err := v.inbox.PostTrade(t); err != nil {
		return err
	}
	if !v.cfg.Policy.MatchTrades || t.Qty <= 0 {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	remaining := t.Qty
	for id, o := range v.orders {
		if remaining == 0 {
			break
		}
		if o.instr != t.InstrumentID || !crosses(o, t.Price) {
			continue
		}
		qty := min(remaining, o.leaves)
		remaining -= qty
		if err := v.fill(id, o, qty, o.price); err != nil {
			logs.Warnf("sim fill dropped, order: %d, err: %+v", id, err)
			return err
		}
	}
	return nil
}

func crosses(o *resting, price float64) bool {
	if o.side == schema.SideBuy {
		return price <= o.price+schema.Epsilon
	}
	return price >= o.price-schema.Epsilon
}

// Requests returns a copy of every request received so far.
func (v *Venue) Requests() []order.Request {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]order.Request(nil), v.sent...)
}

// Resting returns the number of orders live at the simulator.
func (v *Venue) Resting() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.orders)
}
