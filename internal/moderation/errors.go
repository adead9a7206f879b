package moderation

import (
	"errors"
)

var (
	// ErrClassifierUnavailable marks a scoring call that timed out or failed in transport.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	// ErrActuationDenied marks a platform action rejected for lack of permission or a vanished target.
	ErrActuationDenied = errors.New("actuation denied")
)
