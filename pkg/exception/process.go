package exception

import "github.com/yanun0323/errors"

var (
	ErrProcessStateViolation = errors.New("process: operation invalid in current state")
	ErrProcessNilDialer      = errors.New("process: nil connectivity dialer")
	ErrProcessNilRegistry    = errors.New("process: nil instrument registry")
	ErrProcessUnknownCommand = errors.New("process: unknown command")
)
