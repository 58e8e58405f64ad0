package exception

import "github.com/yanun0323/errors"

var (
	ErrConnectionClose   = errors.New("connection closed")
	ErrNotConnected      = errors.New("venue: not connected")
	ErrVenueNilEvents    = errors.New("venue: nil event sink")
	ErrVenueQueueFull    = errors.New("venue: event queue full")
	ErrVenueDecodeFrame  = errors.New("venue: decode frame")
	ErrVenueUnknownFrame = errors.New("venue: unknown frame type")
)
