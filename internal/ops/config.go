package ops

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"quoter/internal/journal"
	"quoter/internal/mdg"
	"quoter/internal/process"
	"quoter/internal/quoter"
	"quoter/internal/risk"
	"quoter/internal/schema"
	"quoter/internal/venue/sim"
	"quoter/internal/venue/wsgate"
	"quoter/pkg/conn"
	"quoter/pkg/exception"
)

// Venue kinds.
const (
	VenueSim = "sim"
	VenueWS  = "ws"
)

const defaultWaitTimeoutMs = 100

// Decimal is a YAML scalar parsed as an exact decimal, so "0.1" stays 0.1 until it is
// converted for the quoting arithmetic.
type Decimal struct {
	decimal.Decimal
}

func (d *Decimal) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := decimal.NewFromString(strings.TrimSpace(value.Value))
	if err != nil {
		return errors.Wrap(exception.ErrConfigInvalid, "parse decimal").With("value", value.Value).With("line", value.Line)
	}
	d.Decimal = parsed
	return nil
}

// FileConfig mirrors the YAML config layout.
type FileConfig struct {
	Node        NodeConfig         `yaml:"node"`
	UI          UIConfig           `yaml:"ui"`
	Instruments []InstrumentConfig `yaml:"instruments"`
	Risk        risk.Config        `yaml:"risk"`
	Venue       VenueConfig        `yaml:"venue"`
	Admin       AdminConfig        `yaml:"admin"`
	Journal     JournalConfig      `yaml:"journal"`
	Profiling   ProfilingConfig    `yaml:"profiling"`
}

type NodeConfig struct {
	WaitTimeoutMs int `yaml:"wait_timeout_ms"`
	// Activate sets the node active once started.
	Activate bool `yaml:"activate"`
}

// UIConfig holds the quoting parameters. order_instr is the reference instrument the order
// is placed on; quote_instr is the instrument whose prices trigger quoting.
type UIConfig struct {
	Account               string  `yaml:"account"`
	BrokerCode            string  `yaml:"broker_code"`
	ClientCode            string  `yaml:"client_code"`
	OrderSize             int64   `yaml:"order_size"`
	OrderSide             string  `yaml:"order_side"`
	OrderPriceOffset      Decimal `yaml:"order_price_offset"`
	QuotePriceDenominator Decimal `yaml:"quote_price_denominator"`
	Prefix                string  `yaml:"prefix"`
	QuoteInstr            string  `yaml:"quote_instr"`
	OrderInstr            string  `yaml:"order_instr"`
	OrderName             string  `yaml:"order_name"`
	CancelOnActivate      bool    `yaml:"cancel_on_activate"`
	StaleAfterMs          int     `yaml:"stale_after_ms"`
}

type InstrumentConfig struct {
	Alias string `yaml:"alias"`
	Venue string `yaml:"venue"`
}

type VenueConfig struct {
	Kind string        `yaml:"kind"`
	WS   wsgate.Config `yaml:"ws"`
	Sim  sim.Config    `yaml:"sim"`
	// Feed drives the simulator with a synthetic walk. Ignored for other kinds.
	Feed      *mdg.Config `yaml:"feed"`
	FeedDepth bool        `yaml:"feed_depth"`
}

type AdminConfig struct {
	Addr string `yaml:"addr"`
}

type JournalConfig struct {
	Postgres conn.Option    `yaml:"postgres"`
	Writer   journal.Config `yaml:"writer"`
}

type ProfilingConfig struct {
	PyroscopeServer string `yaml:"pyroscope_server"`
	AppName         string `yaml:"app_name"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry  *schema.Registry
	Process   process.Config
	Activate  bool
	Risk      risk.Config
	Venue     VenueConfig
	Admin     AdminConfig
	Journal   JournalConfig
	Profiling ProfilingConfig
}

// Load reads a YAML config file, applies QUOTER_* environment overrides and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config").With("path", path)
	}
	return Parse(data, os.LookupEnv)
}

// Parse decodes data. lookup resolves environment overrides; nil disables them.
func Parse(data []byte, lookup func(string) (string, bool)) (Loaded, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "decode config")
	}
	if lookup != nil {
		if err := applyEnv(&cfg, lookup); err != nil {
			return Loaded{}, err
		}
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	registry, err := buildRegistry(cfg.Instruments)
	if err != nil {
		return Loaded{}, err
	}
	qcfg, err := resolveQuoter(cfg.UI)
	if err != nil {
		return Loaded{}, err
	}

	wait := cfg.Node.WaitTimeoutMs
	if wait <= 0 {
		wait = defaultWaitTimeoutMs
	}

	venue := cfg.Venue
	if venue.Kind == "" {
		venue.Kind = VenueSim
	}
	switch venue.Kind {
	case VenueSim:
	case VenueWS:
		if venue.WS.URL == "" {
			return Loaded{}, errors.Wrap(exception.ErrConfigInvalid, "venue.ws.url is empty")
		}
	default:
		return Loaded{}, errors.Wrap(exception.ErrConfigUnknownVenue, "resolve").With("kind", venue.Kind)
	}

	return Loaded{
		Registry: registry,
		Process: process.Config{
			WaitTimeout:    time.Duration(wait) * time.Millisecond,
			ReferenceAlias: cfg.UI.OrderInstr,
			QuoteAlias:     cfg.UI.QuoteInstr,
			Quoter:         qcfg,
		},
		Activate:  cfg.Node.Activate,
		Risk:      cfg.Risk,
		Venue:     venue,
		Admin:     cfg.Admin,
		Journal:   cfg.Journal,
		Profiling: cfg.Profiling,
	}, nil
}

func buildRegistry(instruments []InstrumentConfig) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, instr := range instruments {
		if _, err := reg.Add(instr.Alias, instr.Venue); err != nil {
			return nil, errors.Wrap(err, "build registry")
		}
	}
	return reg, nil
}

func resolveQuoter(ui UIConfig) (quoter.Config, error) {
	side, ok := schema.ParseSide(ui.OrderSide)
	if !ok {
		return quoter.Config{}, errors.Wrap(exception.ErrConfigInvalid, "ui.order_side").With("value", ui.OrderSide)
	}
	if !ui.QuotePriceDenominator.IsPositive() {
		return quoter.Config{}, errors.Wrap(exception.ErrConfigInvalid, "ui.quote_price_denominator must be > 0").
			With("value", ui.QuotePriceDenominator.String())
	}
	if ui.StaleAfterMs < 0 {
		return quoter.Config{}, errors.Wrap(exception.ErrConfigInvalid, "ui.stale_after_ms must be >= 0")
	}

	cfg := quoter.Config{
		Side:             side,
		Size:             ui.OrderSize,
		PriceOffset:      ui.OrderPriceOffset.InexactFloat64(),
		Denominator:      ui.QuotePriceDenominator.InexactFloat64(),
		Prefix:           ui.Prefix,
		Account:          ui.Account,
		BrokerCode:       ui.BrokerCode,
		ClientCode:       ui.ClientCode,
		OrderName:        ui.OrderName,
		CancelOnActivate: ui.CancelOnActivate,
		StaleAfter:       time.Duration(ui.StaleAfterMs) * time.Millisecond,
	}
	if err := cfg.Validate(); err != nil {
		return quoter.Config{}, errors.Wrap(exception.ErrConfigInvalid, err.Error())
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"QUOTER_ACCOUNT":          &cfg.UI.Account,
		"QUOTER_BROKER_CODE":      &cfg.UI.BrokerCode,
		"QUOTER_CLIENT_CODE":      &cfg.UI.ClientCode,
		"QUOTER_ORDER_SIDE":       &cfg.UI.OrderSide,
		"QUOTER_QUOTE_INSTR":      &cfg.UI.QuoteInstr,
		"QUOTER_ORDER_INSTR":      &cfg.UI.OrderInstr,
		"QUOTER_VENUE_KIND":       &cfg.Venue.Kind,
		"QUOTER_VENUE_URL":        &cfg.Venue.WS.URL,
		"QUOTER_ADMIN_ADDR":       &cfg.Admin.Addr,
		"QUOTER_JOURNAL_DSN":      &cfg.Journal.Postgres.ConnString,
		"QUOTER_PYROSCOPE_SERVER": &cfg.Profiling.PyroscopeServer,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("QUOTER_ORDER_SIZE"); ok && v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrap(exception.ErrConfigInvalid, "QUOTER_ORDER_SIZE").With("value", v)
		}
		cfg.UI.OrderSize = size
	}
	if v, ok := lookup("QUOTER_KILL_SWITCH"); ok && v != "" {
		cfg.Risk.KillSwitch = v == "1" || strings.EqualFold(v, "true")
	}
	if v, ok := lookup("QUOTER_ACTIVATE"); ok && v != "" {
		cfg.Node.Activate = v == "1" || strings.EqualFold(v, "true")
	}
	return nil
}
