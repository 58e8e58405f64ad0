package exception

import "github.com/yanun0323/errors"

var (
	ErrQuoterInvalidDenominator = errors.New("quoter: denominator must be a positive number")
	ErrQuoterInvalidSide        = errors.New("quoter: invalid side")
	ErrQuoterInvalidSize        = errors.New("quoter: size must be > 0")
	ErrQuoterInvalidOffset      = errors.New("quoter: invalid price offset")
	ErrQuoterNoInstrument       = errors.New("quoter: order instrument is not resolved")
)
