package ops

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quoter/internal/schema"
	"quoter/pkg/exception"
)

const baseConfig = `
node:
  wait_timeout_ms: 50
  activate: true
ui:
  account: acc
  broker_code: brk
  client_code: cli
  order_size: 3
  order_side: sell
  order_price_offset: 0.5
  quote_price_denominator: 0.1
  prefix: grid_
  quote_instr: FUT
  order_instr: OPT
  order_name: grid
  cancel_on_activate: true
  stale_after_ms: 2000
instruments:
  - alias: FUT
    venue: sim
  - alias: OPT
    venue: sim
risk:
  max_order_qty: 10
venue:
  kind: sim
  sim:
    policy:
      match_trades: true
  feed:
    alias: FUT
    base_price: 100
    tick: 0.1
    spread: 2
    size: 5
admin:
  addr: ":8080"
journal:
  postgres:
    host: db
    database: journal
  writer:
    batch_size: 16
    flush_interval: 500ms
`

func noEnv(string) (string, bool) { return "", false }

func envOf(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestParse(t *testing.T) {
	loaded, err := Parse([]byte(baseConfig), noEnv)
	require.NoError(t, err)

	assert.Equal(t, 2, loaded.Registry.Len())
	fut, ok := loaded.Registry.ByAlias("FUT")
	require.True(t, ok)
	assert.Equal(t, "sim", fut.Venue)

	p := loaded.Process
	assert.Equal(t, 50*time.Millisecond, p.WaitTimeout)
	assert.Equal(t, "OPT", p.ReferenceAlias)
	assert.Equal(t, "FUT", p.QuoteAlias)
	assert.Equal(t, schema.SideSell, p.Quoter.Side)
	assert.Equal(t, int64(3), p.Quoter.Size)
	assert.InDelta(t, 0.5, p.Quoter.PriceOffset, 1e-12)
	assert.InDelta(t, 0.1, p.Quoter.Denominator, 1e-12)
	assert.Equal(t, "grid_", p.Quoter.Prefix)
	assert.Equal(t, "acc", p.Quoter.Account)
	assert.Equal(t, "grid", p.Quoter.OrderName)
	assert.True(t, p.Quoter.CancelOnActivate)
	assert.Equal(t, 2*time.Second, p.Quoter.StaleAfter)

	assert.True(t, loaded.Activate)
	assert.Equal(t, int64(10), loaded.Risk.MaxOrderQty)
	assert.Equal(t, VenueSim, loaded.Venue.Kind)
	assert.True(t, loaded.Venue.Sim.Policy.MatchTrades)
	require.NotNil(t, loaded.Venue.Feed)
	assert.Equal(t, "FUT", loaded.Venue.Feed.Alias)
	assert.Equal(t, ":8080", loaded.Admin.Addr)
	assert.True(t, loaded.Journal.Postgres.Enabled())
	assert.Equal(t, 16, loaded.Journal.Writer.BatchSize)
	assert.Equal(t, 500*time.Millisecond, loaded.Journal.Writer.FlushInterval)
}

func TestParseDefaults(t *testing.T) {
	loaded, err := Parse([]byte(`
ui:
  order_size: 1
  order_side: buy
  quote_price_denominator: 1
`), nil)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, loaded.Process.WaitTimeout)
	assert.Equal(t, VenueSim, loaded.Venue.Kind)
	assert.Equal(t, 0, loaded.Registry.Len())
	assert.False(t, loaded.Journal.Postgres.Enabled())
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		desc     string
		data     string
		expected error
	}{
		{
			desc:     "zero denominator",
			data:     "ui: {order_size: 1, order_side: buy, quote_price_denominator: 0}",
			expected: exception.ErrConfigInvalid,
		},
		{
			desc:     "bad decimal",
			data:     "ui: {order_size: 1, order_side: buy, quote_price_denominator: abc}",
			expected: exception.ErrConfigInvalid,
		},
		{
			desc:     "bad side",
			data:     "ui: {order_size: 1, order_side: hold, quote_price_denominator: 1}",
			expected: exception.ErrConfigInvalid,
		},
		{
			desc:     "zero size",
			data:     "ui: {order_size: 0, order_side: buy, quote_price_denominator: 1}",
			expected: exception.ErrConfigInvalid,
		},
		{
			desc:     "negative stale",
			data:     "ui: {order_size: 1, order_side: buy, quote_price_denominator: 1, stale_after_ms: -1}",
			expected: exception.ErrConfigInvalid,
		},
		{
			desc:     "unknown venue",
			data:     "ui: {order_size: 1, order_side: buy, quote_price_denominator: 1}\nvenue: {kind: fix}",
			expected: exception.ErrConfigUnknownVenue,
		},
		{
			desc:     "ws without url",
			data:     "ui: {order_size: 1, order_side: buy, quote_price_denominator: 1}\nvenue: {kind: ws}",
			expected: exception.ErrConfigInvalid,
		},
		{
			desc:     "duplicate instrument",
			data:     "ui: {order_size: 1, order_side: buy, quote_price_denominator: 1}\ninstruments: [{alias: A}, {alias: A}]",
			expected: exception.ErrInvalidArgument,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := Parse([]byte(tc.data), nil)
			assert.ErrorIs(t, err, tc.expected)
		})
	}
}

func TestParseEnvOverrides(t *testing.T) {
	loaded, err := Parse([]byte(baseConfig), envOf(map[string]string{
		"QUOTER_ACCOUNT":     "env-acc",
		"QUOTER_ORDER_SIZE":  "7",
		"QUOTER_VENUE_KIND":  "ws",
		"QUOTER_VENUE_URL":   "ws://venue:9000/ws",
		"QUOTER_ADMIN_ADDR":  ":9090",
		"QUOTER_JOURNAL_DSN": "postgres://u@h/db",
		"QUOTER_KILL_SWITCH": "true",
		"QUOTER_ACTIVATE":    "0",
		"QUOTER_BROKER_CODE": "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "env-acc", loaded.Process.Quoter.Account)
	assert.Equal(t, "brk", loaded.Process.Quoter.BrokerCode)
	assert.Equal(t, int64(7), loaded.Process.Quoter.Size)
	assert.Equal(t, VenueWS, loaded.Venue.Kind)
	assert.Equal(t, "ws://venue:9000/ws", loaded.Venue.WS.URL)
	assert.Equal(t, ":9090", loaded.Admin.Addr)
	assert.Equal(t, "postgres://u@h/db", loaded.Journal.Postgres.ConnString)
	assert.True(t, loaded.Risk.KillSwitch)
	assert.False(t, loaded.Activate)

	_, err = Parse([]byte(baseConfig), envOf(map[string]string{"QUOTER_ORDER_SIZE": "many"}))
	assert.ErrorIs(t, err, exception.ErrConfigInvalid)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quoter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(baseConfig), 0o600))

	var (
		mu      sync.Mutex
		reloads []Loaded
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		Watch(ctx, path, 5*time.Millisecond, func(l Loaded) {
			mu.Lock()
			reloads = append(reloads, l)
			mu.Unlock()
		})
	}()

	bump := time.Now()
	assert.Eventually(t, func() bool {
		bump = bump.Add(time.Second)
		assert.NoError(t, os.Chtimes(path, bump, bump))
		mu.Lock()
		defer mu.Unlock()
		return len(reloads) > 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, reloads)
	assert.Equal(t, "FUT", reloads[0].Process.QuoteAlias)
}
