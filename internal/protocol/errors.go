package protocol

import "errors"

// Runtime error kinds surfaced by the codec, relay and control layers.
// Contract violations (bad version, option capacity, undersized buffers)
// panic instead of returning one of these.
var (
	ErrHeaderLen        = errors.New("incorrect len")
	ErrPipe             = errors.New("pipe send error")
	ErrCRCVerification  = errors.New("validation failed on the message sent to STDOUT")
	ErrMarshal          = errors.New("marshal error")
	ErrPrefixValidation = errors.New("prefix validation error")
)
