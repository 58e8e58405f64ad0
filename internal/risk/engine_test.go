package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quoter/internal/schema"
)

func TestEvaluate(t *testing.T) {
	testCases := []struct {
		desc     string
		cfg      Config
		intent   Intent
		state    StateView
		expected Decision
	}{
		{
			desc:     "no limits",
			intent:   Intent{Side: schema.SideBuy, Qty: 10, Price: 100},
			expected: Decision{Allow: true},
		},
		{
			desc:     "kill switch",
			cfg:      Config{KillSwitch: true},
			intent:   Intent{Side: schema.SideBuy, Qty: 1, Price: 100},
			expected: Decision{Reason: ReasonKillSwitch},
		},
		{
			desc:     "max qty",
			cfg:      Config{MaxOrderQty: 5},
			intent:   Intent{Side: schema.SideBuy, Qty: 6, Price: 100},
			expected: Decision{Reason: ReasonMaxQty},
		},
		{
			desc:     "inside price band",
			cfg:      Config{MaxPriceDeviationBps: 100},
			intent:   Intent{Side: schema.SideBuy, Qty: 1, Price: 99},
			state:    StateView{ReferencePrice: 100},
			expected: Decision{Allow: true},
		},
		{
			desc:     "outside price band",
			cfg:      Config{MaxPriceDeviationBps: 100},
			intent:   Intent{Side: schema.SideSell, Qty: 1, Price: 101.5},
			state:    StateView{ReferencePrice: 100},
			expected: Decision{Reason: ReasonPriceBand},
		},
		{
			desc:     "max notional",
			cfg:      Config{MaxOrderNotional: 1000},
			intent:   Intent{Side: schema.SideBuy, Qty: 11, Price: 100},
			expected: Decision{Reason: ReasonMaxNotional},
		},
		{
			desc:     "position limit",
			cfg:      Config{MaxPosition: 10},
			intent:   Intent{Side: schema.SideSell, Qty: 5},
			state:    StateView{Position: -6},
			expected: Decision{Reason: ReasonPositionLimit},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			e := NewEngine(tc.cfg)
			assert.Equal(t, tc.expected, e.Evaluate(tc.intent, tc.state))
		})
	}
}

func TestEvaluateRateWindow(t *testing.T) {
	e := NewEngine(Config{OrderRateLimit: 2, OrderRateWindow: time.Second})
	intent := Intent{Side: schema.SideBuy, Qty: 1, Price: 100}
	base := int64(1_700_000_000_000_000_000)

	assert.True(t, e.Evaluate(intent, StateView{Now: base}).Allow)
	assert.True(t, e.Evaluate(intent, StateView{Now: base + 1}).Allow)
	assert.Equal(t, ReasonRateLimit, e.Evaluate(intent, StateView{Now: base + 2}).Reason)
	assert.True(t, e.Evaluate(intent, StateView{Now: base + int64(time.Second)}).Allow)

	e.Update(Config{KillSwitch: true})
	assert.Equal(t, ReasonKillSwitch, e.Evaluate(intent, StateView{Now: base}).Reason)

	var nilEngine *Engine
	assert.True(t, nilEngine.Evaluate(intent, StateView{}).Allow)
}
