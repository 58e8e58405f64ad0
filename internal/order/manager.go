package order

import (
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"quoter/pkg/exception"
)

// Manager owns the live orders and routes acknowledgements to them by ID. IDs are never reused,
// so an ack for a destroyed order can not reach its successor.
//
// Manager is not safe for concurrent use.
type Manager struct {
	transport Transport
	recorder  Recorder
	orders    map[uint64]*Order
	names     map[string]uint64
	seq       uint64
	now       func() time.Time
}

// NewManager creates a manager transmitting through transport. recorder may be nil.
func NewManager(transport Transport, recorder Recorder) *Manager {
	return &Manager{
		transport: transport,
		recorder:  recorder,
		orders:    make(map[uint64]*Order),
		names:     make(map[string]uint64),
		now:       time.Now,
	}
}

// Create registers a new initial order. handler may be nil.
func (m *Manager) Create(p Params, handler Handler) (*Order, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, ok := m.names[p.Name]; ok {
		return nil, errors.Wrap(exception.ErrOrderInvalidParams, "duplicate name").With("name", p.Name)
	}
	if handler == nil {
		handler = BaseHandler{}
	}

	m.seq++
	o := &Order{
		m:       m,
		handler: handler,
		id:      m.seq,
		params:  p,
		leaves:  p.Qty,
		state:   StateInitial,
	}
	m.orders[o.id] = o
	m.names[p.Name] = o.id
	m.record(o, StateInitial, "create", 0)
	return o, nil
}

// Order returns the live order with id.
func (m *Manager) Order(id uint64) (*Order, bool) {
	o, ok := m.orders[id]
	return o, ok
}

// Len returns the number of live orders.
func (m *Manager) Len() int {
	return len(m.orders)
}

// Pending calls fn for every order with a request outstanding longer than age at now.
func (m *Manager) Pending(now time.Time, age time.Duration, fn func(*Order)) {
	for _, o := range m.orders {
		if !o.state.IsPending() || o.pendingSince.IsZero() {
			continue
		}
		if now.Sub(o.pendingSince) >= age {
			fn(o)
		}
	}
}

// DestroyAll force destroys every live order.
func (m *Manager) DestroyAll() {
	for _, o := range m.orders {
		m.destroy(o, "destroy_all")
	}
}

// Apply routes an acknowledgement to its order. Acks for unknown or destroyed orders return
// exception.ErrOrderUnknown and change nothing.
func (m *Manager) Apply(ack Ack) error {
	o, ok := m.orders[ack.OrderID]
	if !ok {
		return errors.Wrap(exception.ErrOrderUnknown, "apply ack").
			With("order_id", ack.OrderID).
			With("kind", ack.Kind.String())
	}
	if !ack.Kind.IsAvailable() || o.state.IsDone() {
		return m.unexpected(o, ack)
	}

	cause := "ack_" + ack.Kind.String()
	switch ack.Kind {
	case AckActivated:
		if o.state != StateAwaitingActive {
			return m.unexpected(o, ack)
		}
		m.transition(o, StateActive, cause)
		o.handler.OnActivated(o)

	case AckRejected:
		if o.state != StateAwaitingActive {
			return m.unexpected(o, ack)
		}
		logs.Errorf("order %s rejected, reason: %d, text: %s", o.params.Name, ack.Reason, ack.Text)
		m.transition(o, StateRejected, cause)
		o.handler.OnRejected(o, ack.Reason, ack.Text)

	case AckCanceled, AckUnexpectedCanceled:
		if !o.state.IsOnExchange() {
			return m.unexpected(o, ack)
		}
		destroying := o.state == StateAwaitingDestroy
		m.transition(o, StateCanceled, cause)
		if ack.Kind == AckCanceled {
			o.handler.OnCanceled(o)
		} else {
			o.handler.OnUnexpectedCanceled(o)
		}
		if destroying {
			m.destroy(o, cause)
		}

	case AckCancelRejected:
		if o.state != StateAwaitingCancel && o.state != StateAwaitingDestroy {
			return m.unexpected(o, ack)
		}
		logs.Errorf("order %s cancel rejected, reason: %d, text: %s", o.params.Name, ack.Reason, ack.Text)
		m.transition(o, StateActive, cause)
		o.handler.OnCancelRejected(o, ack.Reason, ack.Text)

	case AckReplaced:
		if o.state != StateAwaitingReplace {
			return m.unexpected(o, ack)
		}
		o.amend(o.replace)
		o.replace = replaceIntent{}
		m.transition(o, StateActive, cause)
		o.handler.OnReplaced(o)

	case AckReplaceRejected:
		if o.state != StateAwaitingReplace {
			return m.unexpected(o, ack)
		}
		logs.Errorf("order %s replace rejected, reason: %d, text: %s", o.params.Name, ack.Reason, ack.Text)
		o.replace = replaceIntent{}
		m.transition(o, StateActive, cause)
		o.handler.OnReplaceRejected(o, ack.Reason, ack.Text)

	case AckTrade:
		if !o.state.IsOnExchange() && o.state != StateAwaitingActive {
			return m.unexpected(o, ack)
		}
		if ack.Qty <= 0 {
			return errors.Wrap(exception.ErrOrderInvalidFill, "apply trade").
				With("order", o.params.Name).
				With("qty", ack.Qty)
		}
		m.fill(o, ack, cause)

	case AckExpired:
		if !o.state.IsOnExchange() {
			return m.unexpected(o, ack)
		}
		destroying := o.state == StateAwaitingDestroy
		m.transition(o, StateExpired, cause)
		o.handler.OnExpired(o)
		if destroying {
			m.destroy(o, cause)
		}
	}

	return nil
}

func (m *Manager) fill(o *Order, ack Ack, cause string) {
	qty := min(ack.Qty, o.leaves)
	if qty > 0 {
		total := o.totalQty + qty
		o.avgPrice = (o.avgPrice*float64(o.totalQty) + ack.Price*float64(qty)) / float64(total)
		o.totalQty = total
		o.leaves -= qty
	}
	o.handler.OnTrade(o, qty, ack.Price)

	if o.leaves > 0 {
		m.record(o, o.state, cause, 0)
		return
	}

	destroying := o.state == StateAwaitingDestroy
	m.transition(o, StateFilled, cause)
	if destroying {
		m.destroy(o, cause)
	}
}

func (m *Manager) transmit(req Request) error {
	if m.transport == nil {
		return exception.ErrOrderNilTransport
	}
	if err := m.transport.Transmit(req); err != nil {
		return errors.Wrap(err, "transmit "+req.Kind.String()).With("order", req.Name)
	}
	return nil
}

func (m *Manager) destroy(o *Order, cause string) {
	if o.state == StateDestroyed {
		return
	}
	delete(m.orders, o.id)
	if id, ok := m.names[o.params.Name]; ok && id == o.id {
		delete(m.names, o.params.Name)
	}
	o.replace = replaceIntent{}
	// an abandoned request has no ack latency
	o.pendingSince = time.Time{}
	m.transition(o, StateDestroyed, cause)
	o.handler.OnDestroyed(o)
}

func (m *Manager) transition(o *Order, to State, cause string) {
	from := o.state
	var elapsed time.Duration
	now := m.now()
	if from.IsPending() && !o.pendingSince.IsZero() {
		elapsed = now.Sub(o.pendingSince)
	}

	o.state = to
	if to.IsPending() {
		o.pendingSince = now
	} else {
		o.pendingSince = time.Time{}
	}

	logs.Debugf("order %s state changed: %s->%s (%s)", o.params.Name, from, to, cause)
	m.recordAt(o, from, cause, elapsed, now)
}

func (m *Manager) record(o *Order, from State, cause string, elapsed time.Duration) {
	if m.recorder == nil {
		return
	}
	m.recordAt(o, from, cause, elapsed, m.now())
}

func (m *Manager) recordAt(o *Order, from State, cause string, elapsed time.Duration, at time.Time) {
	if m.recorder == nil {
		return
	}
	e := Event{
		OrderID:   o.id,
		Name:      o.params.Name,
		Cause:     cause,
		From:      from,
		To:        o.state,
		Qty:       o.params.Qty,
		LeavesQty: o.leaves,
		Price:     o.params.Price,
		ExtRef:    o.params.ExtRef.String(),
		Elapsed:   elapsed,
		At:        at,
	}
	if o.params.Instrument != nil {
		e.InstrumentID = o.params.Instrument.ID
	}
	m.recorder.Record(e)
}

func (m *Manager) unexpected(o *Order, ack Ack) error {
	logs.Warnf("order %s ignores %s ack in state %s", o.params.Name, ack.Kind, o.state)
	return errors.Wrap(exception.ErrOrderUnexpectedAck, "apply ack").
		With("order", o.params.Name).
		With("state", o.state.String()).
		With("kind", ack.Kind.String())
}
