package order

import (
	"time"

	"quoter/internal/schema"
)

// RequestKind identifies an outbound request.
type RequestKind uint8

const (
	RequestNew RequestKind = iota + 1
	RequestCancel
	RequestReplace
)

func (k RequestKind) String() string {
	switch k {
	case RequestNew:
		return "new"
	case RequestCancel:
		return "cancel"
	case RequestReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Request is handed to the Transport. Replace requests only carry the fields selected by Mask.
type Request struct {
	Kind         RequestKind
	OrderID      uint64
	Name         string
	InstrumentID schema.InstrumentID
	Account      string
	BrokerCode   string
	ClientCode   string
	Side         schema.Side
	Qty          int64
	Price        float64
	ExtRef       schema.Str64
	Mask         ReplaceMask
}

// Transport delivers requests to the venue. Transmit must not block on the reply.
type Transport interface {
	Transmit(Request) error
}

// AckKind identifies an acknowledgement from the venue.
type AckKind uint8

const (
	_ack_beg AckKind = iota
	AckActivated
	AckRejected
	AckCanceled
	AckUnexpectedCanceled
	AckCancelRejected
	AckReplaced
	AckReplaceRejected
	AckTrade
	AckExpired
	_ack_end
)

// IsAvailable reports whether k is a known kind.
func (k AckKind) IsAvailable() bool {
	return k > _ack_beg && k < _ack_end
}

func (k AckKind) String() string {
	switch k {
	case AckActivated:
		return "activated"
	case AckRejected:
		return "rejected"
	case AckCanceled:
		return "canceled"
	case AckUnexpectedCanceled:
		return "unexpected_canceled"
	case AckCancelRejected:
		return "cancel_rejected"
	case AckReplaced:
		return "replaced"
	case AckReplaceRejected:
		return "replace_rejected"
	case AckTrade:
		return "trade"
	case AckExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Ack is an asynchronous reply for the order identified by OrderID.
// Reason and Text are set on rejects, Qty and Price on trades.
type Ack struct {
	OrderID uint64
	Kind    AckKind
	Reason  int32
	Text    string
	Qty     int64
	Price   float64
}

// Event describes one state transition.
type Event struct {
	OrderID      uint64
	Name         string
	InstrumentID schema.InstrumentID
	Cause        string
	From         State
	To           State
	Qty          int64
	LeavesQty    int64
	Price        float64
	ExtRef       string
	// Elapsed is how long the request that just completed was outstanding.
	Elapsed time.Duration
	At      time.Time
}

// Recorder observes order transitions.
type Recorder interface {
	Record(Event)
}

// Recorders fans an event out to every recorder in order.
type Recorders []Recorder

func (rs Recorders) Record(e Event) {
	for _, r := range rs {
		if r != nil {
			r.Record(e)
		}
	}
}
