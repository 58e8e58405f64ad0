package wsgate

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"quoter/internal/obs"
	"quoter/internal/order"
	"quoter/internal/process"
	"quoter/internal/schema"
	"quoter/internal/venue"
	"quoter/pkg/exception"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadTimeout      = 60 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 20 * time.Second
)

// Backoff controls the delay between dial attempts while starting.
type Backoff struct {
	Min    time.Duration `yaml:"min"`
	Max    time.Duration `yaml:"max"`
	Factor float64       `yaml:"factor"`
	Jitter float64       `yaml:"jitter"`
}

// DefaultBackoff provides conservative reconnect defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    250 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the wait before the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	attempt = max(attempt, 1)
	lo := b.Min
	if lo <= 0 {
		lo = 100 * time.Millisecond
	}
	hi := b.Max
	if hi <= 0 {
		hi = 5 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := lo
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > hi {
			wait = hi
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	delta := float64(wait) * min(b.Jitter, 1)
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}

type Config struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	Capacity         int           `yaml:"capacity"`
	// MaxDialAttempts bounds dialing after Start. Zero keeps dialing until Stop.
	MaxDialAttempts int     `yaml:"max_dial_attempts"`
	Backoff         Backoff `yaml:"backoff"`
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval < 0 {
		c.PingInterval = 0
	} else if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff()
	}
}

// Gateway talks JSON frames to a venue over a websocket. A session lives from Start to the
// first disconnect; it is not re-established on its own, Start has to be called again.
type Gateway struct {
	cfg   Config
	codec Codec
	inbox *venue.Inbox

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	subs    map[*schema.Instrument]schema.SubscriptionMask
	writeMu sync.Mutex
}

// Dial returns a process.Dialer for cfg.
func Dial(cfg Config, registry *schema.Registry, metrics *obs.Metrics) process.Dialer {
	return func(events process.Events) (process.Connectivity, error) {
		return New(events, cfg, registry, metrics)
	}
}

func New(events process.Events, cfg Config, registry *schema.Registry, metrics *obs.Metrics) (*Gateway, error) {
	if cfg.URL == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "empty websocket url")
	}
	if registry == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "nil registry")
	}
	cfg.applyDefaults()

	inbox, err := venue.NewInbox(events, cfg.Capacity, metrics)
	if err != nil {
		return nil, errors.Wrap(err, "new inbox")
	}
	return &Gateway{
		cfg:   cfg,
		codec: NewCodec(registry),
		inbox: inbox,
		subs:  make(map[*schema.Instrument]schema.SubscriptionMask),
	}, nil
}

// Start begins dialing in the background. OnConnected follows once the handshake succeeds.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.session(ctx, g.done)
	return nil
}

// Stop ends the session. OnDisconnected follows once the reader has exited.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	cancel, conn := g.cancel, g.conn
	g.mu.Unlock()

	if cancel == nil {
		return g.inbox.PostDisconnected()
	}
	cancel()
	if conn != nil {
		g.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(g.cfg.WriteTimeout))
		g.writeMu.Unlock()
		_ = conn.Close()
	}
	return nil
}

func (g *Gateway) Receive(timeout time.Duration) error {
	return g.inbox.Dispatch(timeout)
}

// Subscribe records the streams for instr and asks the venue for them when a session is up.
func (g *Gateway) Subscribe(instr *schema.Instrument, mask schema.SubscriptionMask) error {
	if err := g.inbox.Subscribe(instr, mask); err != nil {
		return err
	}
	g.mu.Lock()
	g.subs[instr] = mask
	conn := g.conn
	g.mu.Unlock()

	if conn == nil {
		return nil
	}
	return g.subscribe(conn, instr, mask)
}

func (g *Gateway) Transmit(req order.Request) error {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return exception.ErrNotConnected
	}

	payload, err := g.codec.EncodeRequest(req)
	if err != nil {
		return err
	}
	if err := g.write(conn, payload); err != nil {
		return errors.Wrap(err, "write request").With("kind", req.Kind.String()).With("order_id", req.OrderID)
	}
	return nil
}

// Close stops the session, waits for it and rejects further events.
func (g *Gateway) Close() error {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.mu.Unlock()
	if cancel != nil {
		_ = g.Stop()
		<-done
	}
	g.inbox.Close()
	return nil
}

func (g *Gateway) session(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		g.mu.Lock()
		cancel := g.cancel
		g.conn = nil
		g.cancel = nil
		g.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if err := g.inbox.PostDisconnected(); err != nil {
			logs.Errorf("post disconnected, err: %+v", err)
		}
	}()

	conn, err := g.dial(ctx)
	if err != nil {
		logs.Warnf("websocket session not established, url: %s, err: %+v", g.cfg.URL, err)
		return
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	g.mu.Lock()
	g.conn = conn
	subs := make(map[*schema.Instrument]schema.SubscriptionMask, len(g.subs))
	for instr, mask := range g.subs {
		subs[instr] = mask
	}
	g.mu.Unlock()

	for instr, mask := range subs {
		if err := g.subscribe(conn, instr, mask); err != nil {
			logs.Errorf("resubscribe %s, err: %+v", instr.Alias, err)
			return
		}
	}
	if err := g.inbox.PostConnected(); err != nil {
		logs.Errorf("post connected, err: %+v", err)
		return
	}

	if g.cfg.PingInterval > 0 {
		go g.ping(ctx, conn)
	}
	g.read(ctx, conn)
}

func (g *Gateway) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: g.cfg.HandshakeTimeout}
	header := make(http.Header)
	header.Set("User-Agent", "quoter")

	for attempt := 1; ; attempt++ {
		conn, _, err := dialer.DialContext(ctx, g.cfg.URL, header)
		if err == nil {
			logs.Infof("websocket connected, url: %s", g.cfg.URL)
			return conn, nil
		}
		if g.cfg.MaxDialAttempts > 0 && attempt >= g.cfg.MaxDialAttempts {
			return nil, errors.Wrap(err, "dial").With("attempts", attempt)
		}

		wait := g.cfg.Backoff.Next(attempt)
		logs.Warnf("websocket dial failed, attempt: %d, retry in %s, err: %+v", attempt, wait, err)
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "dial canceled")
		case <-time.After(wait):
		}
	}
}

func (g *Gateway) read(ctx context.Context, conn *websocket.Conn) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(g.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logs.Warnf("websocket read failed, err: %+v", err)
			}
			return
		}

		msg, err := g.codec.Decode(data, time.Now().UnixNano())
		if err != nil {
			logs.Warnf("drop frame, err: %+v, frame: %s", err, data)
			continue
		}
		if err := g.deliver(msg); err != nil {
			logs.Errorf("deliver frame, err: %+v", err)
		}
	}
}

func (g *Gateway) deliver(msg Message) error {
	switch msg.Kind {
	case MessageQuote:
		return g.inbox.PostQuote(msg.Quote)
	case MessageTrade:
		return g.inbox.PostTrade(msg.Trade)
	case MessageDepth:
		return g.inbox.PostDepth(msg.Depth)
	case MessageAck:
		return g.inbox.PostAck(msg.Ack)
	default:
		return exception.ErrVenueUnknownFrame
	}
}

func (g *Gateway) ping(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(g.cfg.WriteTimeout))
			g.writeMu.Unlock()
			if err != nil {
				logs.Warnf("websocket ping failed, err: %+v", err)
				return
			}
		}
	}
}

func (g *Gateway) subscribe(conn *websocket.Conn, instr *schema.Instrument, mask schema.SubscriptionMask) error {
	payload, err := g.codec.EncodeSubscribe(instr, mask)
	if err != nil {
		return err
	}
	if err := g.write(conn, payload); err != nil {
		return errors.Wrap(err, "write subscribe").With("alias", instr.Alias)
	}
	return nil
}

func (g *Gateway) write(conn *websocket.Conn, payload []byte) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
