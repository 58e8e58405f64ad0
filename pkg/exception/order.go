package exception

import "github.com/yanun0323/errors"

var (
	ErrOrderInvalidParams  = errors.New("order: invalid params")
	ErrOrderStateViolation = errors.New("order: operation invalid in current state")
	ErrOrderUnknown        = errors.New("order: unknown order")
	ErrOrderUnexpectedAck  = errors.New("order: unexpected acknowledgement")
	ErrOrderInvalidFill    = errors.New("order: invalid fill quantity")
	ErrOrderEmptyMask      = errors.New("order: empty replace mask")
	ErrOrderNilTransport   = errors.New("order: nil transport")
)
