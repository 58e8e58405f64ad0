package order

import (
	"math"
	"time"

	"github.com/yanun0323/errors"

	"quoter/internal/schema"
	"quoter/pkg/exception"
)

// Params are the static attributes of a new order.
type Params struct {
	Name       string
	Instrument *schema.Instrument
	Account    string
	BrokerCode string
	ClientCode string
	Side       schema.Side
	Qty        int64
	Price      float64
	ExtRef     schema.Str64
	// Context is carried untouched for the owner.
	Context any
}

// Validate checks the attributes a venue would refuse outright.
func (p Params) Validate() error {
	switch {
	case p.Name == "":
		return errors.Wrap(exception.ErrOrderInvalidParams, "empty name")
	case p.Instrument == nil:
		return errors.Wrap(exception.ErrOrderInvalidParams, "nil instrument")
	case !p.Side.IsAvailable():
		return errors.Wrap(exception.ErrOrderInvalidParams, "unknown side")
	case p.Qty <= 0:
		return errors.Wrap(exception.ErrOrderInvalidParams, "non-positive qty").With("qty", p.Qty)
	case p.Price < 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0):
		return errors.Wrap(exception.ErrOrderInvalidParams, "invalid price").With("price", p.Price)
	}
	return nil
}

type replaceIntent struct {
	mask   ReplaceMask
	qty    int64
	price  float64
	extRef schema.Str64
}

// Order is a handle to one managed order. It is created by a Manager and only changes state
// through its methods or through acks applied by the Manager.
type Order struct {
	m       *Manager
	handler Handler

	id     uint64
	params Params

	leaves   int64
	avgPrice float64
	totalQty int64
	state    State

	pendingSince time.Time
	replace      replaceIntent
}

func (o *Order) ID() uint64                     { return o.id }
func (o *Order) Name() string                   { return o.params.Name }
func (o *Order) Instrument() *schema.Instrument { return o.params.Instrument }
func (o *Order) Account() string                { return o.params.Account }
func (o *Order) BrokerCode() string             { return o.params.BrokerCode }
func (o *Order) ClientCode() string             { return o.params.ClientCode }
func (o *Order) Side() schema.Side              { return o.params.Side }
func (o *Order) Qty() int64                     { return o.params.Qty }
func (o *Order) LeavesQty() int64               { return o.leaves }
func (o *Order) Price() float64                 { return o.params.Price }
func (o *Order) AvgPrice() float64              { return o.avgPrice }
func (o *Order) TotalQty() int64                { return o.totalQty }
func (o *Order) ExtRef() schema.Str64           { return o.params.ExtRef }
func (o *Order) State() State                   { return o.state }
func (o *Order) Context() any                   { return o.params.Context }

// Params returns the static attributes with the current qty, price and ext_ref.
func (o *Order) Params() Params {
	return o.params
}

// PendingSince returns when the outstanding request was issued, or zero when nothing is pending.
func (o *Order) PendingSince() time.Time {
	return o.pendingSince
}

// Send transmits the order. Only an initial order can be sent.
func (o *Order) Send() error {
	if o.state != StateInitial {
		return o.violation("send")
	}
	o.handler.OnBeforeSend(o)

	req := o.request(RequestNew)
	req.Account = o.params.Account
	req.BrokerCode = o.params.BrokerCode
	req.ClientCode = o.params.ClientCode
	req.Side = o.params.Side
	req.Qty = o.params.Qty
	req.Price = o.params.Price
	req.ExtRef = o.params.ExtRef
	if err := o.m.transmit(req); err != nil {
		return err
	}

	o.m.transition(o, StateAwaitingActive, "send")
	return nil
}

// Cancel requests cancellation of an active order.
func (o *Order) Cancel() error {
	if o.state != StateActive {
		return o.violation("cancel")
	}
	if err := o.m.transmit(o.request(RequestCancel)); err != nil {
		return err
	}

	o.m.transition(o, StateAwaitingCancel, "cancel")
	return nil
}

// Replace amends the fields selected by mask. An initial order is amended locally and stays
// initial; an active order transmits a replace and waits for the venue.
func (o *Order) Replace(qty int64, price float64, extRef schema.Str64, mask ReplaceMask) error {
	if !mask.IsValid() {
		return errors.Wrap(exception.ErrOrderEmptyMask, "replace").With("mask", uint8(mask))
	}
	if mask.Has(ReplaceQty) && qty <= 0 {
		return errors.Wrap(exception.ErrOrderInvalidParams, "non-positive qty").With("qty", qty)
	}
	if mask.Has(ReplacePrice) && (price < 0 || math.IsNaN(price) || math.IsInf(price, 0)) {
		return errors.Wrap(exception.ErrOrderInvalidParams, "invalid price").With("price", price)
	}

	intent := replaceIntent{mask: mask, qty: qty, price: price, extRef: extRef}
	switch o.state {
	case StateInitial:
		o.amend(intent)
		o.m.record(o, StateInitial, "replace_local", 0)
		return nil
	case StateActive:
	default:
		return o.violation("replace")
	}

	req := o.request(RequestReplace)
	req.Mask = mask
	if mask.Has(ReplaceQty) {
		req.Qty = qty
	}
	if mask.Has(ReplacePrice) {
		req.Price = price
	}
	if mask.Has(ReplaceExtRef) {
		req.ExtRef = extRef
	}
	if err := o.m.transmit(req); err != nil {
		return err
	}

	o.replace = intent
	o.m.transition(o, StateAwaitingReplace, "replace")
	return nil
}

// Destroy retires the order. A forced destroy is immediate and later acks for the order are
// ignored. Otherwise an active order is canceled first and destroyed on the terminal ack.
func (o *Order) Destroy(force bool) error {
	if o.state == StateDestroyed {
		return nil
	}
	if force || o.state == StateInitial || o.state.IsDone() {
		o.m.destroy(o, "destroy")
		return nil
	}
	if o.state != StateActive {
		return o.violation("destroy")
	}

	if err := o.m.transmit(o.request(RequestCancel)); err != nil {
		return err
	}
	o.m.transition(o, StateAwaitingDestroy, "destroy")
	return nil
}

func (o *Order) request(kind RequestKind) Request {
	req := Request{
		Kind:    kind,
		OrderID: o.id,
		Name:    o.params.Name,
	}
	if o.params.Instrument != nil {
		req.InstrumentID = o.params.Instrument.ID
	}
	return req
}

func (o *Order) amend(intent replaceIntent) {
	if intent.mask.Has(ReplaceQty) {
		o.leaves += intent.qty - o.params.Qty
		if o.leaves < 0 {
			o.leaves = 0
		}
		o.params.Qty = intent.qty
	}
	if intent.mask.Has(ReplacePrice) {
		o.params.Price = intent.price
	}
	if intent.mask.Has(ReplaceExtRef) {
		o.params.ExtRef = intent.extRef
	}
}

func (o *Order) violation(op string) error {
	return errors.Wrap(exception.ErrOrderStateViolation, op).
		With("order", o.params.Name).
		With("state", o.state.String())
}
