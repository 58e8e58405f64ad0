package mdg

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quoter/internal/book"
	"quoter/internal/schema"
	"quoter/internal/venue"
	"quoter/pkg/exception"
)

type captureSink struct {
	quotes []schema.Quote
	trades []schema.Trade
	depth  []venue.DepthUpdate
	err    error
}

func (s *captureSink) PublishQuote(q schema.Quote) error {
	s.quotes = append(s.quotes, q)
	return s.err
}

func (s *captureSink) PublishTrade(t schema.Trade) error {
	s.trades = append(s.trades, t)
	return s.err
}

func (s *captureSink) PublishDepth(u venue.DepthUpdate) error {
	s.depth = append(s.depth, u)
	return s.err
}

func newTestRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	_, err := reg.Add("Si-12.26", "FORTS")
	require.NoError(t, err)
	return reg
}

func TestNewGeneratorValidates(t *testing.T) {
	reg := newTestRegistry(t)
	testCases := []struct {
		desc string
		cfg  Config
	}{
		{"unknown alias", Config{Alias: "Eu-12.26", BasePrice: 100, Tick: 1}},
		{"zero tick", Config{Alias: "Si-12.26", BasePrice: 100}},
		{"nan tick", Config{Alias: "Si-12.26", BasePrice: 100, Tick: math.NaN()}},
		{"zero base", Config{Alias: "Si-12.26", Tick: 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := NewGenerator(reg, tc.cfg)
			require.ErrorIs(t, err, exception.ErrInvalidArgument)
		})
	}
}

func TestGeneratorStaysOnGrid(t *testing.T) {
	reg := newTestRegistry(t)
	cfg := Config{Alias: "Si-12.26", BasePrice: 100, Tick: 0.5, Spread: 1, Size: 2, TradeEvery: 3, Seed: 7}
	gen, err := NewGenerator(reg, cfg)
	require.NoError(t, err)
	replay, err := NewGenerator(reg, cfg)
	require.NoError(t, err)

	now := time.Unix(0, 0)
	trades := 0
	for i := range 30 {
		tick := gen.Next(now)
		assert.Equal(t, tick, replay.Next(now), "same seed, same walk")

		for _, p := range []float64{tick.BidPrice, tick.AskPrice} {
			assert.InDelta(t, 0, math.Remainder(p, cfg.Tick), schema.Epsilon)
		}
		assert.InDelta(t, 1.0, tick.AskPrice-tick.BidPrice, schema.Epsilon)

		if (i+1)%cfg.TradeEvery == 0 {
			require.Equal(t, TickTrade, tick.Kind)
			assert.True(t, tick.Price == tick.BidPrice || tick.Price == tick.AskPrice)
			assert.Equal(t, int64(2), tick.Size)
			trades++
		} else {
			assert.Equal(t, TickQuote, tick.Kind)
		}
	}
	assert.Equal(t, 10, trades)
}

func TestNormalizerQuoteAndTrade(t *testing.T) {
	reg := newTestRegistry(t)
	norm := NewNormalizer(reg, false)
	sink := &captureSink{}

	require.NoError(t, norm.Publish(sink, RawTick{
		Symbol: "Si-12.26", Kind: TickQuote,
		BidPrice: 99, BidSize: 1, AskPrice: 101, AskSize: 2, TsEvent: 5, TsRecv: 6,
	}))
	require.NoError(t, norm.Publish(sink, RawTick{
		Symbol: "Si-12.26", Kind: TickTrade, Side: schema.SideSell, Price: 99, Size: 3, TsRecv: 8,
	}))

	require.Len(t, sink.quotes, 1)
	assert.Equal(t, schema.Quote{
		InstrumentID: 1,
		Bid:          schema.BookLevel{Price: 99, Qty: 1},
		Ask:          schema.BookLevel{Price: 101, Qty: 2},
		ExchTs:       5,
		Ts:           6,
	}, sink.quotes[0])
	require.Len(t, sink.trades, 1)
	assert.Equal(t, int64(8), sink.trades[0].ExchTs)

	require.ErrorIs(t, norm.Publish(sink, RawTick{Symbol: "missing", Kind: TickQuote}), exception.ErrInvalidArgument)
	require.ErrorIs(t, norm.Publish(sink, RawTick{Symbol: "Si-12.26"}), exception.ErrInvalidArgument)
}

func TestNormalizerDepthRebuildsBook(t *testing.T) {
	reg := newTestRegistry(t)
	instr, _ := reg.ByAlias("Si-12.26")
	norm := NewNormalizer(reg, true)
	sink := &captureSink{}

	ticks := []RawTick{
		{Symbol: "Si-12.26", Kind: TickQuote, BidPrice: 99, BidSize: 1, AskPrice: 101, AskSize: 1, TsRecv: 1},
		{Symbol: "Si-12.26", Kind: TickQuote, BidPrice: 100, BidSize: 2, AskPrice: 101, AskSize: 3, TsRecv: 2},
	}
	for _, tick := range ticks {
		require.NoError(t, norm.Publish(sink, tick))
	}
	require.Len(t, sink.depth, 5)

	b := book.New(instr)
	for _, u := range sink.depth {
		_, err := b.Update(u.Action, u.Price, u.Qty, u.Side, u.Ts)
		require.NoError(t, err)
	}
	q := b.Quote()
	assert.Equal(t, schema.BookLevel{Price: 100, Qty: 2}, q.Bid)
	assert.Equal(t, schema.BookLevel{Price: 101, Qty: 3}, q.Ask)
	assert.Equal(t, 1, countLevels(b, schema.SideBuy))
}

func countLevels(b *book.Book, side schema.Side) int {
	n := 0
	for range b.Levels(side, 0) {
		n++
	}
	return n
}

func TestFeedStepDropsWhileDisconnected(t *testing.T) {
	reg := newTestRegistry(t)
	gen, err := NewGenerator(reg, Config{Alias: "Si-12.26", BasePrice: 100, Tick: 1})
	require.NoError(t, err)

	sink := &captureSink{err: exception.ErrNotConnected}
	feed := NewFeed(gen, NewNormalizer(reg, false), sink, 0)
	require.NoError(t, feed.Step(time.Now()))
	assert.Len(t, sink.quotes, 1)

	sink.err = exception.ErrVenueQueueFull
	require.ErrorIs(t, feed.Step(time.Now()), exception.ErrVenueQueueFull)
}
