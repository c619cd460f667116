package apdu

import "errors"

var ErrInsufficientData = errors.New("apdu: unexpected end of data")
