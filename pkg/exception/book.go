package exception

import "github.com/yanun0323/errors"

var (
	ErrBookInvalidAction = errors.New("book: invalid action")
	ErrBookInvalidSide   = errors.New("book: invalid side")
	ErrBookInvalidPrice  = errors.New("book: invalid price")
	ErrBookNilInstrument = errors.New("book: nil instrument")
)
