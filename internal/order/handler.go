package order

// Handler receives order events. Every method runs on the goroutine that applied the ack or
// issued the request.
type Handler interface {
	OnActivated(o *Order)
	OnBeforeSend(o *Order)
	OnTrade(o *Order, qty int64, price float64)
	OnCanceled(o *Order)
	OnUnexpectedCanceled(o *Order)
	OnExpired(o *Order)
	OnDestroyed(o *Order)
	OnReplaced(o *Order)
	OnRejected(o *Order, reason int32, text string)
	OnCancelRejected(o *Order, reason int32, text string)
	OnReplaceRejected(o *Order, reason int32, text string)
}

// BaseHandler implements Handler with no-ops. Embed it to override a subset.
type BaseHandler struct{}

func (BaseHandler) OnActivated(*Order)                      {}
func (BaseHandler) OnBeforeSend(*Order)                     {}
func (BaseHandler) OnTrade(*Order, int64, float64)          {}
func (BaseHandler) OnCanceled(*Order)                       {}
func (BaseHandler) OnUnexpectedCanceled(*Order)             {}
func (BaseHandler) OnExpired(*Order)                        {}
func (BaseHandler) OnDestroyed(*Order)                      {}
func (BaseHandler) OnReplaced(*Order)                       {}
func (BaseHandler) OnRejected(*Order, int32, string)        {}
func (BaseHandler) OnCancelRejected(*Order, int32, string)  {}
func (BaseHandler) OnReplaceRejected(*Order, int32, string) {}
