package schema

import (
	"github.com/yanun0323/errors"

	"quoter/pkg/exception"
)

// Instrument describes a tradable instrument known to the unit.
type Instrument struct {
	ID    InstrumentID
	Alias string
	Venue string
}

// Registry resolves instruments by alias. Instruments are handed out by pointer so callers can
// detect a changed binding by identity.
type Registry struct {
	instruments []*Instrument
	byAlias     map[string]*Instrument
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byAlias: make(map[string]*Instrument),
	}
}

// Add registers a new instrument and returns it.
func (r *Registry) Add(alias, venue string) (*Instrument, error) {
	if alias == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "instrument alias is empty")
	}
	if _, ok := r.byAlias[alias]; ok {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "instrument already exists").With("alias", alias)
	}
	instr := &Instrument{
		ID:    InstrumentID(len(r.instruments) + 1),
		Alias: alias,
		Venue: venue,
	}
	r.instruments = append(r.instruments, instr)
	r.byAlias[alias] = instr
	return instr, nil
}

// ByAlias returns the instrument for an alias.
func (r *Registry) ByAlias(alias string) (*Instrument, bool) {
	if r == nil || alias == "" {
		return nil, false
	}
	instr, ok := r.byAlias[alias]
	return instr, ok
}

// ByID returns the instrument by ID.
func (r *Registry) ByID(id InstrumentID) (*Instrument, bool) {
	if r == nil || id == 0 || int(id) > len(r.instruments) {
		return nil, false
	}
	return r.instruments[id-1], true
}

// Len returns the number of instruments in the registry.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.instruments)
}

// At returns the instrument by zero-based index.
func (r *Registry) At(index int) (*Instrument, bool) {
	if r == nil || index < 0 || index >= len(r.instruments) {
		return nil, false
	}
	return r.instruments[index], true
}
