package wsgate

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quoter/internal/order"
	"quoter/internal/schema"
	"quoter/pkg/exception"
)

type recordingEvents struct {
	connected    int
	disconnected int
	quotes       []schema.Quote
	acks         []order.Ack
}

func (r *recordingEvents) OnConnected()           { r.connected++ }
func (r *recordingEvents) OnDisconnected()        { r.disconnected++ }
func (r *recordingEvents) OnQuote(q schema.Quote) { r.quotes = append(r.quotes, q) }
func (r *recordingEvents) OnTrade(schema.Trade)   {}
func (r *recordingEvents) OnAck(a order.Ack)      { r.acks = append(r.acks, a) }

// echoVenue upgrades one connection, records every frame and answers new orders with an
// activation and a quote.
type echoVenue struct {
	frames chan Frame
}

func (v *echoVenue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := sonic.Unmarshal(data, &f); err != nil {
			return
		}
		v.frames <- f

		if f.Type == FrameNew {
			ack := `{"type":"ack","kind":"activated","order_id":` + strconv.FormatUint(f.OrderID, 10) + `}`
			_ = conn.WriteMessage(websocket.TextMessage, []byte(ack))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"quote","symbol":"Si-12.26","bid_px":99,"bid_qty":1}`))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"noise"}`))
		}
	}
}

func receiveUntil(t *testing.T, g *Gateway, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "condition not met in time")
		require.NoError(t, g.Receive(20*time.Millisecond))
	}
}

func nextFrame(t *testing.T, frames chan Frame) Frame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(3 * time.Second):
		require.FailNow(t, "no frame received")
		return Frame{}
	}
}

func TestGatewaySession(t *testing.T) {
	remote := &echoVenue{frames: make(chan Frame, 16)}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	reg, instr := newTestRegistry(t)
	events := &recordingEvents{}
	g, err := New(events, Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), PingInterval: -1}, reg, nil)
	require.NoError(t, err)
	defer g.Close()

	require.ErrorIs(t, g.Transmit(order.Request{Kind: order.RequestCancel, OrderID: 1}), exception.ErrNotConnected)
	require.NoError(t, g.Subscribe(instr, schema.SubscribeQuote|schema.SubscribeTrade))

	require.NoError(t, g.Start())
	receiveUntil(t, g, func() bool { return events.connected == 1 })

	sub := nextFrame(t, remote.frames)
	assert.Equal(t, FrameSubscribe, sub.Type)
	assert.Equal(t, instr.Alias, sub.Symbol)

	require.NoError(t, g.Transmit(order.Request{
		Kind:         order.RequestNew,
		OrderID:      9,
		Name:         "order-9",
		InstrumentID: instr.ID,
		Side:         schema.SideBuy,
		Qty:          1,
		Price:        98,
	}))
	sent := nextFrame(t, remote.frames)
	assert.Equal(t, FrameNew, sent.Type)
	assert.Equal(t, uint64(9), sent.OrderID)

	receiveUntil(t, g, func() bool { return len(events.acks) == 1 && len(events.quotes) == 1 })
	assert.Equal(t, order.AckActivated, events.acks[0].Kind)
	assert.Equal(t, uint64(9), events.acks[0].OrderID)
	assert.Equal(t, 99.0, events.quotes[0].Bid.Price)

	require.NoError(t, g.Stop())
	receiveUntil(t, g, func() bool { return events.disconnected == 1 })
	require.ErrorIs(t, g.Transmit(order.Request{Kind: order.RequestCancel, OrderID: 9}), exception.ErrNotConnected)
}

func TestGatewayDialGivesUp(t *testing.T) {
	reg, _ := newTestRegistry(t)
	events := &recordingEvents{}
	g, err := New(events, Config{
		URL:             "ws://127.0.0.1:1/none",
		MaxDialAttempts: 2,
		Backoff:         Backoff{Min: time.Millisecond, Max: time.Millisecond},
	}, reg, nil)
	require.NoError(t, err)
	defer g.Close()

	require.NoError(t, g.Start())
	receiveUntil(t, g, func() bool { return events.disconnected == 1 })
	assert.Zero(t, events.connected)
}

func TestNewValidates(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := New(&recordingEvents{}, Config{}, reg, nil)
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
	_, err = New(&recordingEvents{}, Config{URL: "ws://localhost"}, nil, nil)
	require.ErrorIs(t, err, exception.ErrNilInstance)
	_, err = New(nil, Config{URL: "ws://localhost"}, reg, nil)
	require.ErrorIs(t, err, exception.ErrVenueNilEvents)
}

func TestBackoffNext(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2}
	testCases := []struct {
		desc     string
		attempt  int
		expected time.Duration
	}{
		{"first", 1, 100 * time.Millisecond},
		{"zero is first", 0, 100 * time.Millisecond},
		{"third", 3, 400 * time.Millisecond},
		{"capped", 10, time.Second},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expected, b.Next(tc.attempt))
		})
	}

	jittered := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}
	for range 20 {
		d := jittered.Next(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
