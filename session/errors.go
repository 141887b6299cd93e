package session

import "errors"

var (
	ErrCSRFUnavailable = errors.New("csrf token unavailable")
	ErrSessionEnded    = errors.New("session ended")
)
