package process

import (
	"time"

	"quoter/internal/order"
	"quoter/internal/schema"
)

// Events receives everything the connectivity layer produces. Connectors call it only from
// inside Receive, on the goroutine driving the supervisor.
type Events interface {
	OnConnected()
	OnDisconnected()
	OnQuote(schema.Quote)
	OnTrade(schema.Trade)
	OnAck(order.Ack)
}

// Connectivity is the asynchronous boundary to a venue. Start, Stop, Subscribe and Transmit
// return before the venue answers; answers are dispatched to Events by a later Receive.
type Connectivity interface {
	order.Transport

	Start() error
	Stop() error
	// Receive dispatches ready events, waiting up to timeout for the first one. A zero timeout
	// only drains what is ready.
	Receive(timeout time.Duration) error
	Subscribe(instr *schema.Instrument, mask schema.SubscriptionMask) error
	Close() error
}

// Dialer builds a connectivity layer that reports to events.
type Dialer func(events Events) (Connectivity, error)
