package risk

import (
	"math"
	"time"

	"quoter/internal/schema"
)

// Config defines simple pre-trade limits. Zero disables a limit.
type Config struct {
	KillSwitch           bool          `yaml:"kill_switch"`
	MaxOrderQty          int64         `yaml:"max_order_qty"`
	MaxOrderNotional     float64       `yaml:"max_order_notional"`
	MaxPosition          int64         `yaml:"max_position"`
	OrderRateLimit       int           `yaml:"order_rate_limit"`
	OrderRateWindow      time.Duration `yaml:"order_rate_window"`
	MaxPriceDeviationBps int64         `yaml:"max_price_deviation_bps"`
}

// Reason explains a denial.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonKillSwitch
	ReasonRateLimit
	ReasonMaxQty
	ReasonPriceBand
	ReasonMaxNotional
	ReasonPositionLimit
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonKillSwitch:
		return "kill_switch"
	case ReasonRateLimit:
		return "rate_limit"
	case ReasonMaxQty:
		return "max_qty"
	case ReasonPriceBand:
		return "price_band"
	case ReasonMaxNotional:
		return "max_notional"
	case ReasonPositionLimit:
		return "position_limit"
	default:
		return "unknown"
	}
}

// Intent is the order about to be sent.
type Intent struct {
	Side  schema.Side
	Qty   int64
	Price float64
}

// StateView provides the current position snapshot.
type StateView struct {
	Position       int64
	ReferencePrice float64
	Now            int64
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Allow  bool
	Reason Reason
}

func deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Engine evaluates risk decisions.
type Engine struct {
	cfg             Config
	rateWindowStart int64
	rateCount       int
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the active limits.
func (e *Engine) Config() Config {
	return e.cfg
}

// Update swaps the limits and restarts the rate window.
func (e *Engine) Update(cfg Config) {
	e.cfg = cfg
	e.rateWindowStart = 0
	e.rateCount = 0
}

// Evaluate applies the checks in order and returns the first denial. A nil engine allows all.
func (e *Engine) Evaluate(intent Intent, state StateView) Decision {
	if e == nil {
		return Decision{Allow: true}
	}

	now := state.Now
	if now == 0 {
		now = time.Now().UTC().UnixNano()
	}

	if e.cfg.KillSwitch {
		return deny(ReasonKillSwitch)
	}

	if e.cfg.OrderRateLimit > 0 && e.cfg.OrderRateWindow > 0 {
		window := int64(e.cfg.OrderRateWindow)
		if e.rateWindowStart == 0 || now-e.rateWindowStart >= window {
			e.rateWindowStart = now
			e.rateCount = 0
		}
		e.rateCount++
		if e.rateCount > e.cfg.OrderRateLimit {
			return deny(ReasonRateLimit)
		}
	}

	if e.cfg.MaxOrderQty > 0 && intent.Qty > e.cfg.MaxOrderQty {
		return deny(ReasonMaxQty)
	}

	if e.cfg.MaxPriceDeviationBps > 0 && intent.Price > 0 && state.ReferencePrice > 0 {
		diff := math.Abs(intent.Price - state.ReferencePrice)
		if diff*10000 > state.ReferencePrice*float64(e.cfg.MaxPriceDeviationBps)+schema.Epsilon {
			return deny(ReasonPriceBand)
		}
	}

	if e.cfg.MaxOrderNotional > 0 && intent.Price*float64(intent.Qty) > e.cfg.MaxOrderNotional+schema.Epsilon {
		return deny(ReasonMaxNotional)
	}

	nextPos := applySide(state.Position, intent.Side, intent.Qty)
	if e.cfg.MaxPosition > 0 && absInt64(nextPos) > e.cfg.MaxPosition {
		return deny(ReasonPositionLimit)
	}

	return Decision{Allow: true}
}

func applySide(pos int64, side schema.Side, qty int64) int64 {
	switch side {
	case schema.SideBuy:
		return pos + qty
	case schema.SideSell:
		return pos - qty
	default:
		return pos
	}
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
