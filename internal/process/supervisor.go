package process

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"quoter/internal/bus"
	"quoter/internal/obs"
	"quoter/internal/order"
	"quoter/internal/quoter"
	"quoter/internal/risk"
	"quoter/internal/schema"
	"quoter/pkg/exception"
)

const (
	defaultWaitTimeout = 100 * time.Millisecond
	defaultControlCap  = 64

	subscriptionMask = schema.SubscribeQuote | schema.SubscribeTrade
)

// Config is the reloadable part of the supervisor's setup.
type Config struct {
	WaitTimeout    time.Duration
	ReferenceAlias string
	QuoteAlias     string
	Quoter         quoter.Config
}

// Deps are the services the supervisor is built on. Dial and Registry are required.
type Deps struct {
	Dial     Dialer
	Registry *schema.Registry
	Node     *Node
	Control  *bus.Queue[bus.Command]
	Risk     *risk.Engine
	Metrics  *obs.Metrics
	Recorder order.Recorder
}

// Supervisor drives one quoting unit through its start/stop/shutdown lifecycle. Every method
// except Status must be called from the goroutine running Do.
type Supervisor struct {
	cfg     Config
	reg     *schema.Registry
	node    *Node
	control *bus.Queue[bus.Command]
	metrics *obs.Metrics
	now     func() time.Time

	conn   Connectivity
	orders *order.Manager
	quoter *quoter.Controller

	state  State
	status atomic.Pointer[Status]
}

// New dials the connectivity layer and resolves the configured instruments. On failure every
// dependency built so far is closed.
func New(cfg Config, deps Deps) (*Supervisor, error) {
	if deps.Dial == nil {
		return nil, exception.ErrProcessNilDialer
	}
	if deps.Registry == nil {
		return nil, exception.ErrProcessNilRegistry
	}
	if deps.Node == nil {
		deps.Node = NewNode()
	}
	if deps.Control == nil {
		deps.Control = bus.NewQueue[bus.Command](defaultControlCap)
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}

	s := &Supervisor{
		cfg:     cfg,
		reg:     deps.Registry,
		node:    deps.Node,
		control: deps.Control,
		metrics: deps.Metrics,
		now:     time.Now,
		state:   StateStopped,
	}

	conn, err := deps.Dial(s)
	if err != nil {
		return nil, errors.Wrap(err, "dial connectivity")
	}
	s.conn = conn

	var recorders order.Recorders
	if deps.Metrics != nil {
		recorders = append(recorders, deps.Metrics)
	}
	if deps.Recorder != nil {
		recorders = append(recorders, deps.Recorder)
	}
	s.orders = order.NewManager(conn, recorders)

	s.quoter, err = quoter.New(cfg.Quoter, s.orders, s.node, deps.Risk, deps.Metrics)
	if err != nil {
		s.abort()
		return nil, errors.Wrap(err, "new quoter")
	}

	if err := s.Reconfig(); err != nil {
		s.abort()
		return nil, errors.Wrap(err, "initial reconfig")
	}

	s.metrics.SetProcessState(uint8(s.state))
	s.publish()
	return s, nil
}

// State returns the current state.
func (s *Supervisor) State() State {
	return s.state
}

// Node returns the node service the supervisor reports to.
func (s *Supervisor) Node() *Node {
	return s.node
}

// Control returns the queue drained by Do.
func (s *Supervisor) Control() *bus.Queue[bus.Command] {
	return s.control
}

// Quoter returns the quoting controller.
func (s *Supervisor) Quoter() *quoter.Controller {
	return s.quoter
}

// Orders returns the order manager.
func (s *Supervisor) Orders() *order.Manager {
	return s.orders
}

// Start asks the connectivity layer to connect.
func (s *Supervisor) Start() error {
	switch s.state {
	case StateStopped, StateInactive:
	default:
		return s.violation("start")
	}
	if err := s.conn.Start(); err != nil {
		return errors.Wrap(err, "start connectivity")
	}
	s.changeState(StateAwaitingStart)
	return nil
}

// Stop asks the connectivity layer to disconnect. It is a no-op in states that are already
// stopping or stopped.
func (s *Supervisor) Stop() error {
	switch s.state {
	case StateAwaitingStart, StateStarted:
		if err := s.conn.Stop(); err != nil {
			return errors.Wrap(err, "stop connectivity")
		}
		s.changeState(StateAwaitingStop)
	case StateInactive:
		s.changeState(StateStopped)
		s.node.SetStatus(NodeOffline)
	case StateAwaitingInactive:
		s.changeState(StateAwaitingStop)
	}
	return nil
}

// Suspend disconnects but keeps the unit inactive rather than stopped.
func (s *Supervisor) Suspend() error {
	if s.state != StateStarted {
		return s.violation("suspend")
	}
	if err := s.conn.Stop(); err != nil {
		return errors.Wrap(err, "stop connectivity")
	}
	s.changeState(StateAwaitingInactive)
	return nil
}

// Shutdown stops the unit and moves it towards shutdown_ready.
func (s *Supervisor) Shutdown() error {
	err := s.Stop()
	switch s.state {
	case StateStopped:
		s.changeState(StateShutdownReady)
	case StateAwaitingStop:
		s.changeState(StateAwaitingShutdown)
	}
	return err
}

// Activate lets the quoter fire.
func (s *Supervisor) Activate() {
	s.node.SetStatus(NodeActive)
	logs.Infof("process activated")
}

// Deactivate stops the quoter from firing. The state machine is untouched.
func (s *Supervisor) Deactivate() {
	s.node.SetStatus(NodeInactive)
	logs.Infof("process deactivated")
}

// Reset clears what hint selects.
func (s *Supervisor) Reset(hint uint32) {
	if hint&ResetStatistic != 0 {
		s.node.ResetStats()
		logs.Infof("process statistics reset")
	}
}

// Reconfigure applies a new configuration and re-resolves the instruments.
func (s *Supervisor) Reconfigure(cfg Config) error {
	if err := s.quoter.Reconfigure(cfg.Quoter); err != nil {
		return err
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	s.cfg = cfg
	return s.Reconfig()
}

// Reconfig resolves the reference and quote aliases and subscribes to any instrument whose
// binding changed. An alias that does not resolve leaves that side unbound. The new bindings
// take effect only once every subscription succeeded, so a failed call is retried in full by
// the next one.
func (s *Supervisor) Reconfig() error {
	quote := s.resolve("quote_instr", s.cfg.QuoteAlias)
	reference := s.resolve("order_instr", s.cfg.ReferenceAlias)

	if quote != nil && quote != s.quoter.QuoteInstrument() {
		if err := s.conn.Subscribe(quote, subscriptionMask); err != nil {
			return errors.Wrap(err, "subscribe quote instrument").With("alias", quote.Alias)
		}
	}
	if reference != nil && reference != quote && reference != s.quoter.Reference() {
		if err := s.conn.Subscribe(reference, subscriptionMask); err != nil {
			return errors.Wrap(err, "subscribe reference instrument").With("alias", reference.Alias)
		}
	}
	s.quoter.Bind(reference, quote)
	return nil
}

func (s *Supervisor) resolve(name, alias string) *schema.Instrument {
	instr, ok := s.reg.ByAlias(alias)
	if !ok {
		logs.Warnf("%s %s is not set or found", name, alias)
		return nil
	}
	logs.Infof("%s %s has been found by id %d", name, instr.Alias, instr.ID)
	return instr
}

// Handle executes a control command.
func (s *Supervisor) Handle(cmd bus.Command) error {
	logs.Debugf("control command %s from %s", cmd.Kind, cmd.Source)
	switch cmd.Kind {
	case bus.CommandStart:
		return s.Start()
	case bus.CommandStop:
		return s.Stop()
	case bus.CommandShutdown:
		return s.Shutdown()
	case bus.CommandSuspend:
		return s.Suspend()
	case bus.CommandActivate:
		s.Activate()
	case bus.CommandDeactivate:
		s.Deactivate()
	case bus.CommandReset:
		s.Reset(cmd.Hint)
	case bus.CommandReconfig:
		if cfg, ok := cmd.Payload.(Config); ok {
			return s.Reconfigure(cfg)
		}
		return s.Reconfig()
	default:
		return errors.Wrap(exception.ErrProcessUnknownCommand, "handle").With("kind", uint8(cmd.Kind))
	}
	return nil
}

// Do runs one loop iteration and reports whether the unit reached shutdown_ready.
func (s *Supervisor) Do() bool {
	wait := s.cfg.WaitTimeout
	if s.state.pollsConnectivity() {
		s.receive(wait)
		s.drainControl(0)
	} else {
		s.receive(0)
		s.drainControl(wait)
	}

	s.quoter.Watch(s.now())
	s.publish()
	return s.state == StateShutdownReady
}

// Run loops Do until shutdown_ready. When ctx ends the unit is shut down and the loop keeps
// running until the disconnect settles.
func (s *Supervisor) Run(ctx context.Context) {
	done := ctx.Done()
	for {
		select {
		case <-done:
			done = nil
			logs.Infof("context done, shutting down")
			if err := s.Shutdown(); err != nil {
				logs.Errorf("shutdown, err: %+v", err)
			}
		default:
		}
		if s.Do() {
			return
		}
	}
}

// Close force destroys the managed order and closes the connectivity layer. The supervisor
// must not be used afterwards.
func (s *Supervisor) Close() error {
	if s.quoter != nil {
		s.quoter.Release()
	}
	if s.orders != nil {
		s.orders.DestroyAll()
	}
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Supervisor) abort() {
	if err := s.Close(); err != nil {
		logs.Errorf("close connectivity, err: %+v", err)
	}
}

func (s *Supervisor) receive(timeout time.Duration) {
	if err := s.conn.Receive(timeout); err != nil {
		logs.Errorf("receive connectivity, err: %+v", err)
	}
}

func (s *Supervisor) drainControl(timeout time.Duration) {
	cmd, ok := s.control.Receive(timeout)
	for ok {
		if err := s.Handle(cmd); err != nil {
			logs.Errorf("handle %s command, err: %+v", cmd.Kind, err)
		}
		cmd, ok = s.control.Receive(0)
	}
}

// OnConnected implements Events.
func (s *Supervisor) OnConnected() {
	s.node.connects.Add(1)
	logs.Infof("connectivity connected")
	if s.state != StateAwaitingStart {
		logs.Warnf("connected in state %s ignored", s.state)
		return
	}

	if s.node.Status() == NodeOffline {
		s.node.SetStatus(NodeInactive)
	}
	if err := s.quoter.Reset(); err != nil {
		logs.Errorf("unable to create order, err: %+v", err)
		return
	}
	s.changeState(StateStarted)
}

// OnDisconnected implements Events.
func (s *Supervisor) OnDisconnected() {
	s.node.disconnects.Add(1)
	logs.Infof("connectivity disconnected")
	switch s.state {
	case StateStopped, StateInactive, StateShutdownReady:
		return
	case StateAwaitingInactive:
		s.changeState(StateInactive)
		s.node.SetStatus(NodeInactive)
	case StateAwaitingShutdown:
		s.changeState(StateStopped)
		s.node.SetStatus(NodeOffline)
		s.changeState(StateShutdownReady)
	default:
		s.changeState(StateStopped)
		s.node.SetStatus(NodeOffline)
	}
}

// OnQuote implements Events.
func (s *Supervisor) OnQuote(q schema.Quote) {
	s.node.quotes.Add(1)
	s.quoter.OnQuote(q)
}

// OnTrade implements Events.
func (s *Supervisor) OnTrade(t schema.Trade) {
	s.node.trades.Add(1)
	s.quoter.OnTrade(t)
}

// OnAck implements Events. Acks for orders that are no longer live are dropped.
func (s *Supervisor) OnAck(ack order.Ack) {
	s.node.acks.Add(1)
	s.metrics.IncAck(ack.Kind.String())
	if err := s.orders.Apply(ack); err != nil {
		if stderrors.Is(err, exception.ErrOrderUnknown) {
			logs.Debugf("ack %s for order %d ignored", ack.Kind, ack.OrderID)
			return
		}
		logs.Warnf("apply ack, err: %+v", err)
	}
}

func (s *Supervisor) changeState(to State) {
	logs.Debugf("process state changed: %s->%s", s.state, to)
	s.state = to
	s.metrics.SetProcessState(uint8(to))
	s.publish()
}

func (s *Supervisor) violation(op string) error {
	return errors.Wrap(exception.ErrProcessStateViolation, op).With("state", s.state.String())
}
