package wsgate

import (
	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"quoter/internal/book"
	"quoter/internal/order"
	"quoter/internal/schema"
	"quoter/internal/venue"
	"quoter/pkg/exception"
)

// Frame types on the wire.
const (
	FrameQuote     = "quote"
	FrameTrade     = "trade"
	FrameDepth     = "depth"
	FrameAck       = "ack"
	FrameSubscribe = "subscribe"
	FrameNew       = "new"
	FrameCancel    = "cancel"
	FrameReplace   = "replace"
)

// Channel names used by subscribe frames.
const (
	ChannelBook  = "book"
	ChannelTrade = "trade"
	ChannelQuote = "quote"
)

// Frame is the JSON envelope shared by every message. Optional replace fields are pointers so
// that unselected fields are left out of the frame.
type Frame struct {
	Type     string   `json:"type"`
	Symbol   string   `json:"symbol,omitempty"`
	Channels []string `json:"channels,omitempty"`

	BidPx  float64 `json:"bid_px,omitempty"`
	BidQty int64   `json:"bid_qty,omitempty"`
	AskPx  float64 `json:"ask_px,omitempty"`
	AskQty int64   `json:"ask_qty,omitempty"`
	ExchTs int64   `json:"exch_ts,omitempty"`

	Action string `json:"action,omitempty"`
	BookID int64  `json:"book_id,omitempty"`

	OrderID    uint64   `json:"order_id,omitempty"`
	Name       string   `json:"name,omitempty"`
	Account    string   `json:"account,omitempty"`
	BrokerCode string   `json:"broker_code,omitempty"`
	ClientCode string   `json:"client_code,omitempty"`
	Side       string   `json:"side,omitempty"`
	Px         *float64 `json:"px,omitempty"`
	Qty        *int64   `json:"qty,omitempty"`
	ExtRef     *string  `json:"ext_ref,omitempty"`

	Kind   string `json:"kind,omitempty"`
	Reason int32  `json:"reason,omitempty"`
	Text   string `json:"text,omitempty"`
}

// MessageKind tells which field of a Message is set.
type MessageKind uint8

const (
	MessageQuote MessageKind = iota + 1
	MessageTrade
	MessageDepth
	MessageAck
)

// Message is a decoded inbound frame.
type Message struct {
	Kind  MessageKind
	Quote schema.Quote
	Trade schema.Trade
	Depth venue.DepthUpdate
	Ack   order.Ack
}

var (
	ackKinds    = map[string]order.AckKind{}
	bookActions = map[string]book.Action{}
)

func init() {
	for k := order.AckActivated; k.IsAvailable(); k++ {
		ackKinds[k.String()] = k
	}
	for a := book.ActionOrderAdd; a <= book.ActionDelete; a++ {
		bookActions[a.String()] = a
	}
}

// Codec translates frames. Symbols are resolved through the registry, which must not change
// while the codec is in use.
type Codec struct {
	registry *schema.Registry
}

func NewCodec(registry *schema.Registry) Codec {
	return Codec{registry: registry}
}

// Decode parses an inbound frame. ts is the local receive time stamped on market data.
func (c Codec) Decode(data []byte, ts int64) (Message, error) {
	var f Frame
	if err := sonic.ConfigFastest.Unmarshal(data, &f); err != nil {
		return Message{}, errors.Wrap(exception.ErrVenueDecodeFrame, err.Error())
	}

	switch f.Type {
	case FrameQuote:
		instr, err := c.instrument(f.Symbol)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: MessageQuote, Quote: schema.Quote{
			InstrumentID: instr.ID,
			Bid:          schema.BookLevel{Price: f.BidPx, Qty: f.BidQty},
			Ask:          schema.BookLevel{Price: f.AskPx, Qty: f.AskQty},
			ExchTs:       f.ExchTs,
			Ts:           ts,
		}}, nil

	case FrameTrade:
		instr, err := c.instrument(f.Symbol)
		if err != nil {
			return Message{}, err
		}
		if f.Px == nil || f.Qty == nil {
			return Message{}, errors.Wrap(exception.ErrVenueDecodeFrame, "trade without px or qty")
		}
		side, _ := schema.ParseSide(f.Side)
		return Message{Kind: MessageTrade, Trade: schema.Trade{
			InstrumentID: instr.ID,
			Price:        *f.Px,
			Qty:          *f.Qty,
			Side:         side,
			ExchTs:       f.ExchTs,
			Ts:           ts,
		}}, nil

	case FrameDepth:
		instr, err := c.instrument(f.Symbol)
		if err != nil {
			return Message{}, err
		}
		action, ok := bookActions[f.Action]
		if !ok {
			return Message{}, errors.Wrap(exception.ErrVenueDecodeFrame, "unknown depth action").With("action", f.Action)
		}
		side, ok := schema.ParseSide(f.Side)
		if !ok {
			return Message{}, errors.Wrap(exception.ErrVenueDecodeFrame, "unknown depth side").With("side", f.Side)
		}
		u := venue.DepthUpdate{
			InstrumentID: instr.ID,
			Action:       action,
			OrderID:      f.BookID,
			Side:         side,
			Ts:           ts,
		}
		if f.Px != nil {
			u.Price = *f.Px
		}
		if f.Qty != nil {
			u.Qty = *f.Qty
		}
		return Message{Kind: MessageDepth, Depth: u}, nil

	case FrameAck:
		kind, ok := ackKinds[f.Kind]
		if !ok {
			return Message{}, errors.Wrap(exception.ErrVenueDecodeFrame, "unknown ack kind").With("kind", f.Kind)
		}
		ack := order.Ack{
			OrderID: f.OrderID,
			Kind:    kind,
			Reason:  f.Reason,
			Text:    f.Text,
		}
		if f.Px != nil {
			ack.Price = *f.Px
		}
		if f.Qty != nil {
			ack.Qty = *f.Qty
		}
		return Message{Kind: MessageAck, Ack: ack}, nil

	default:
		return Message{}, errors.Wrap(exception.ErrVenueUnknownFrame, "decode").With("type", f.Type)
	}
}

// EncodeRequest builds the frame for an order request. Replace frames only carry the fields
// selected by the request mask.
func (c Codec) EncodeRequest(req order.Request) ([]byte, error) {
	f := Frame{OrderID: req.OrderID}

	switch req.Kind {
	case order.RequestNew:
		instr, ok := c.registry.ByID(req.InstrumentID)
		if !ok {
			return nil, errors.Wrap(exception.ErrInvalidArgument, "unknown instrument").With("instrument_id", req.InstrumentID)
		}
		f.Type = FrameNew
		f.Symbol = instr.Alias
		f.Name = req.Name
		f.Account = req.Account
		f.BrokerCode = req.BrokerCode
		f.ClientCode = req.ClientCode
		f.Side = req.Side.String()
		f.Px = &req.Price
		f.Qty = &req.Qty
		if !req.ExtRef.IsEmpty() {
			ref := req.ExtRef.String()
			f.ExtRef = &ref
		}

	case order.RequestCancel:
		f.Type = FrameCancel

	case order.RequestReplace:
		f.Type = FrameReplace
		if req.Mask.Has(order.ReplaceQty) {
			f.Qty = &req.Qty
		}
		if req.Mask.Has(order.ReplacePrice) {
			f.Px = &req.Price
		}
		if req.Mask.Has(order.ReplaceExtRef) {
			ref := req.ExtRef.String()
			f.ExtRef = &ref
		}

	default:
		return nil, errors.Wrap(exception.ErrInvalidArgument, "encode request").With("kind", req.Kind.String())
	}

	return sonic.ConfigFastest.Marshal(&f)
}

// EncodeSubscribe builds the subscribe frame for instr.
func (c Codec) EncodeSubscribe(instr *schema.Instrument, mask schema.SubscriptionMask) ([]byte, error) {
	f := Frame{Type: FrameSubscribe, Symbol: instr.Alias}
	if mask.Has(schema.SubscribeBook) {
		f.Channels = append(f.Channels, ChannelBook)
	}
	if mask.Has(schema.SubscribeTrade) {
		f.Channels = append(f.Channels, ChannelTrade)
	}
	if mask.Has(schema.SubscribeQuote) {
		f.Channels = append(f.Channels, ChannelQuote)
	}
	return sonic.ConfigFastest.Marshal(&f)
}

func (c Codec) instrument(symbol string) (*schema.Instrument, error) {
	instr, ok := c.registry.ByAlias(symbol)
	if !ok {
		return nil, errors.Wrap(exception.ErrVenueDecodeFrame, "unknown symbol").With("symbol", symbol)
	}
	return instr, nil
}
