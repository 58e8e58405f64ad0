package mdg

import (
	"math"
	"math/rand"
	"time"

	"github.com/yanun0323/errors"

	"quoter/internal/schema"
	"quoter/pkg/exception"
)

// Config drives a synthetic random walk on a price grid.
type Config struct {
	Alias     string  `yaml:"alias"`
	BasePrice float64 `yaml:"base_price"`
	Tick      float64 `yaml:"tick"`
	// Spread is the distance from mid to each side, in ticks.
	Spread int   `yaml:"spread"`
	Size   int64 `yaml:"size"`
	// TradeEvery prints a trade instead of a quote on every n-th step. Zero disables trades.
	TradeEvery int           `yaml:"trade_every"`
	Seed       int64         `yaml:"seed"`
	Interval   time.Duration `yaml:"interval"`
}

// Generator creates synthetic market data ticks for one instrument.
type Generator struct {
	cfg   Config
	rng   *rand.Rand
	mid   float64
	index int
}

// NewGenerator validates cfg against the registry.
func NewGenerator(reg *schema.Registry, cfg Config) (*Generator, error) {
	if _, ok := reg.ByAlias(cfg.Alias); !ok {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "generator instrument not found").With("alias", cfg.Alias)
	}
	if cfg.Tick <= 0 || math.IsNaN(cfg.Tick) || math.IsInf(cfg.Tick, 0) {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "generator tick must be > 0").With("tick", cfg.Tick)
	}
	if cfg.BasePrice <= 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "generator base price must be > 0").With("base_price", cfg.BasePrice)
	}
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.Spread <= 0 {
		cfg.Spread = 1
	}
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		mid: snap(cfg.BasePrice, cfg.Tick),
	}, nil
}

// Next moves the mid by at most one tick and returns the resulting tick.
func (g *Generator) Next(now time.Time) RawTick {
	g.index++
	g.mid = snap(g.mid+float64(g.rng.Intn(3)-1)*g.cfg.Tick, g.cfg.Tick)
	if g.mid <= 0 {
		g.mid = g.cfg.Tick
	}

	half := float64(g.cfg.Spread) * g.cfg.Tick
	bid := snap(g.mid-half, g.cfg.Tick)
	ask := snap(g.mid+half, g.cfg.Tick)

	tick := RawTick{
		Symbol:   g.cfg.Alias,
		Kind:     TickQuote,
		BidPrice: bid,
		BidSize:  g.cfg.Size,
		AskPrice: ask,
		AskSize:  g.cfg.Size,
		TsEvent:  now.UnixNano(),
		TsRecv:   now.UnixNano(),
	}
	if g.cfg.TradeEvery > 0 && g.index%g.cfg.TradeEvery == 0 {
		tick.Kind = TickTrade
		tick.Size = g.cfg.Size
		if g.rng.Intn(2) == 0 {
			tick.Side, tick.Price = schema.SideSell, bid
		} else {
			tick.Side, tick.Price = schema.SideBuy, ask
		}
	}
	return tick
}

func snap(price, tick float64) float64 {
	return math.Round(price/tick) * tick
}
