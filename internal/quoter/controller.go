package quoter

import (
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"quoter/internal/obs"
	"quoter/internal/order"
	"quoter/internal/risk"
	"quoter/internal/schema"
	"quoter/pkg/exception"
)

// trigger outcomes, exported as metric labels
const (
	outcomeFired      = "fired"
	outcomeInactive   = "inactive"
	outcomeOffGrid    = "off_grid"
	outcomeDebounced  = "debounced"
	outcomeNoBase     = "no_base"
	outcomeBusy       = "busy"
	outcomeRiskDenied = "risk_denied"
	outcomeError      = "error"
)

// Gate decides whether triggers may fire.
type Gate interface {
	Active() bool
}

// Controller re-prices a single order whenever the quote instrument trades or quotes on the
// price grid. The order rests at an offset from the reference instrument's last price.
//
// Controller is not safe for concurrent use.
type Controller struct {
	cfg     Config
	orders  *order.Manager
	gate    Gate
	risk    *risk.Engine
	metrics *obs.Metrics
	now     func() time.Time

	reference *schema.Instrument
	quote     *schema.Instrument

	base     float64
	last     float64
	lastSet  bool
	position int64

	ord          *order.Order
	staleChecked time.Time
}

// New validates cfg and creates a controller with no instruments bound. riskEngine and metrics
// may be nil.
func New(cfg Config, orders *order.Manager, gate Gate, riskEngine *risk.Engine, metrics *obs.Metrics) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if orders == nil || gate == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "new quoter")
	}
	return &Controller{
		cfg:     cfg,
		orders:  orders,
		gate:    gate,
		risk:    riskEngine,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Config returns the active parameters.
func (c *Controller) Config() Config {
	return c.cfg
}

// Reconfigure swaps the static parameters. The current order keeps its attributes; the next
// instance uses the new ones.
func (c *Controller) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// Bind sets the reference and quote instruments and reports which binding changed. A new
// reference instrument clears the base price.
func (c *Controller) Bind(reference, quote *schema.Instrument) (referenceChanged, quoteChanged bool) {
	if reference != c.reference {
		c.reference = reference
		c.base = 0
		referenceChanged = true
	}
	if quote != c.quote {
		c.quote = quote
		quoteChanged = true
	}
	return referenceChanged, quoteChanged
}

// Reference returns the bound reference instrument. Orders are placed on it.
func (c *Controller) Reference() *schema.Instrument {
	return c.reference
}

// QuoteInstrument returns the bound trigger instrument.
func (c *Controller) QuoteInstrument() *schema.Instrument {
	return c.quote
}

// BasePrice returns the last reference price, zero while unknown.
func (c *Controller) BasePrice() float64 {
	return c.base
}

// LastPrice returns the last price that fired.
func (c *Controller) LastPrice() (float64, bool) {
	return c.last, c.lastSet
}

// Position returns the net filled quantity, positive when long.
func (c *Controller) Position() int64 {
	return c.position
}

// Order returns the managed order, nil before the first Reset.
func (c *Controller) Order() *order.Order {
	return c.ord
}

// Reset force destroys the managed order and creates a fresh initial one.
func (c *Controller) Reset() error {
	c.Release()
	o, err := c.create()
	if err != nil {
		return err
	}
	c.ord = o
	return nil
}

// Release force destroys the managed order.
func (c *Controller) Release() {
	if c.ord == nil {
		return
	}
	o := c.ord
	c.ord = nil
	_ = o.Destroy(true)
}

// OnQuote evaluates a trigger for the quote instrument, then updates the base price from the
// reference instrument. When both are the same instrument the tick is judged against the
// previous base.
func (c *Controller) OnQuote(q schema.Quote) {
	level := q.Level(c.cfg.Side)
	if c.quote != nil && q.InstrumentID == c.quote.ID {
		c.evaluate(level.Price, level.Qty)
	}
	if c.reference != nil && q.InstrumentID == c.reference.ID && level.Qty > 0 {
		c.setBase(level.Price)
	}
}

// OnTrade evaluates a trigger for the quote instrument, then updates the base price from the
// reference instrument.
func (c *Controller) OnTrade(t schema.Trade) {
	if c.quote != nil && t.InstrumentID == c.quote.ID {
		c.evaluate(t.Price, t.Qty)
	}
	if c.reference != nil && t.InstrumentID == c.reference.ID && t.Qty > 0 {
		c.setBase(t.Price)
	}
}

// Watch reports the managed order's request once it is pending longer than StaleAfter. Nothing
// is retried.
func (c *Controller) Watch(now time.Time) {
	if c.cfg.StaleAfter <= 0 || c.ord == nil {
		return
	}
	o := c.ord
	since := o.PendingSince()
	if !o.State().IsPending() || since.IsZero() || since.Equal(c.staleChecked) {
		return
	}
	if now.Sub(since) < c.cfg.StaleAfter {
		return
	}
	c.staleChecked = since
	c.metrics.IncStale()
	logs.Warnf("order %s pending in %s for %s", o.Name(), o.State(), now.Sub(since))
}

func (c *Controller) setBase(price float64) {
	c.base = price
	c.metrics.SetBasePrice(price)
}

func (c *Controller) evaluate(price float64, qty int64) {
	if !c.gate.Active() {
		c.metrics.IncTrigger(outcomeInactive)
		return
	}

	if qty <= 0 || !OnGrid(price, c.cfg.Denominator) {
		c.metrics.IncTrigger(outcomeOffGrid)
		return
	}
	if c.lastSet && schema.PriceEqual(c.last, price) {
		c.metrics.IncTrigger(outcomeDebounced)
		return
	}
	if c.base == 0 {
		c.metrics.IncTrigger(outcomeNoBase)
		return
	}
	if c.ord != nil && !c.ord.State().IsDone() && c.ord.State() != order.StateInitial {
		c.metrics.IncTrigger(outcomeBusy)
		return
	}

	c.last, c.lastSet = price, true
	if err := c.fire(price, qty); err != nil {
		logs.Errorf("quote at %f, err: %+v", price, err)
		c.metrics.IncTrigger(outcomeError)
	}
}

func (c *Controller) fire(price float64, qty int64) error {
	target := Target(c.cfg.Side, c.base, c.cfg.PriceOffset)
	decision := c.risk.Evaluate(
		risk.Intent{Side: c.cfg.Side, Qty: c.cfg.Size, Price: target},
		risk.StateView{Position: c.position, ReferencePrice: c.base, Now: c.now().UnixNano()},
	)
	if !decision.Allow {
		logs.Warnf("quote at %f denied by risk, reason: %s", price, decision.Reason)
		c.metrics.IncRiskDenial(decision.Reason.String())
		c.metrics.IncTrigger(outcomeRiskDenied)
		return nil
	}

	if c.ord == nil || c.ord.State().IsDone() {
		if err := c.Reset(); err != nil {
			return errors.Wrap(err, "recreate order")
		}
	}

	extRef := FormatExtRef(c.cfg.Prefix, price, qty)
	if err := c.ord.Replace(0, target, extRef, order.ReplacePrice|order.ReplaceExtRef); err != nil {
		return errors.Wrap(err, "replace order")
	}
	if err := c.ord.Send(); err != nil {
		return errors.Wrap(err, "send order")
	}

	c.metrics.IncTrigger(outcomeFired)
	logs.Infof("quote %s at %f, ext_ref: %s", c.ord.Name(), target, extRef.String())
	return nil
}

func (c *Controller) create() (*order.Order, error) {
	if c.reference == nil {
		return nil, exception.ErrQuoterNoInstrument
	}
	p := order.Params{
		Name:       c.cfg.orderName() + "-" + uuid.NewString(),
		Instrument: c.reference,
		Account:    c.cfg.Account,
		BrokerCode: c.cfg.BrokerCode,
		ClientCode: c.cfg.ClientCode,
		Side:       c.cfg.Side,
		Qty:        c.cfg.Size,
		Context:    c,
	}
	return c.orders.Create(p, &orderEvents{c: c})
}

// orderEvents reacts to the managed order's lifecycle.
type orderEvents struct {
	order.BaseHandler
	c *Controller
}

func (h *orderEvents) OnActivated(o *order.Order) {
	if !h.c.cfg.CancelOnActivate || o != h.c.ord {
		return
	}
	if err := o.Cancel(); err != nil {
		logs.Errorf("cancel on activate %s, err: %+v", o.Name(), err)
	}
}

func (h *orderEvents) OnTrade(o *order.Order, qty int64, price float64) {
	if o.Side() == schema.SideSell {
		h.c.position -= qty
	} else {
		h.c.position += qty
	}
	logs.Infof("order %s traded %d at %f, leaves: %d", o.Name(), qty, price, o.LeavesQty())
}

func (h *orderEvents) OnDestroyed(o *order.Order) {
	if h.c.ord == o {
		h.c.ord = nil
	}
}
