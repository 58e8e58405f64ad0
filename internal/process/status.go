package process

import (
	"quoter/internal/obs"
)

// OrderStatus describes the managed order.
type OrderStatus struct {
	ID        uint64  `json:"id"`
	Name      string  `json:"name"`
	State     string  `json:"state"`
	Price     float64 `json:"price"`
	Qty       int64   `json:"qty"`
	LeavesQty int64   `json:"leaves_qty"`
	ExtRef    string  `json:"ext_ref"`
}

// Status is a point-in-time view of the unit, safe to read from any goroutine.
type Status struct {
	State      string       `json:"state"`
	Node       string       `json:"node"`
	Reference  string       `json:"reference,omitempty"`
	Quote      string       `json:"quote,omitempty"`
	BasePrice  float64      `json:"base_price"`
	LastPrice  float64      `json:"last_price"`
	LastSet    bool         `json:"last_set"`
	Position   int64        `json:"position"`
	Order      *OrderStatus `json:"order,omitempty"`
	Stats      NodeStats    `json:"stats"`
	Metrics    obs.Snapshot `json:"metrics"`
	LiveOrders int          `json:"live_orders"`
}

// Status returns the snapshot taken at the end of the last loop iteration or state change.
func (s *Supervisor) Status() Status {
	if st := s.status.Load(); st != nil {
		return *st
	}
	return Status{}
}

func (s *Supervisor) publish() {
	st := &Status{
		State:   s.state.String(),
		Node:    s.node.Status().String(),
		Stats:   s.node.Stats(),
		Metrics: s.metrics.Snapshot(),
	}
	if s.orders != nil {
		st.LiveOrders = s.orders.Len()
	}
	if q := s.quoter; q != nil {
		if ref := q.Reference(); ref != nil {
			st.Reference = ref.Alias
		}
		if quote := q.QuoteInstrument(); quote != nil {
			st.Quote = quote.Alias
		}
		st.BasePrice = q.BasePrice()
		st.LastPrice, st.LastSet = q.LastPrice()
		st.Position = q.Position()
		if o := q.Order(); o != nil {
			st.Order = &OrderStatus{
				ID:        o.ID(),
				Name:      o.Name(),
				State:     o.State().String(),
				Price:     o.Price(),
				Qty:       o.Qty(),
				LeavesQty: o.LeavesQty(),
				ExtRef:    o.ExtRef().String(),
			}
		}
	}
	s.status.Store(st)
}
