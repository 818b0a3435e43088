package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest           = errors.New("bad request")
	ErrStreamingUnsupported = errors.New("streaming unsupported")
)
