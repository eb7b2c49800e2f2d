package caimogu

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch is returned when a request could not be completed: transport
	// errors, timeouts and non-2xx page responses.
	ErrFetch = errors.New("caimogu: fetch failed")
	// ErrPageParse is returned when a page does not have the expected layout.
	ErrPageParse = errors.New("caimogu: failed to parse page")
	// ErrBadResponse is returned when an API response is not the expected JSON shape.
	ErrBadResponse = errors.New("caimogu: unexpected api response")
	// ErrActionRejected is returned when follow or purchase replies with a status other than 1.
	ErrActionRejected = errors.New("caimogu: action rejected")
	// ErrInvalidCookies is returned by ParseCookies.
	ErrInvalidCookies = errors.New("caimogu: invalid cookies")
)

// StatusError is returned by CheckStatus when the site replies with a status
// code that has no remediation.
type StatusError struct {
	AttachmentId int64
	Code         Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("caimogu: attachment %d: unrecognized status %d", e.AttachmentId, int(e.Code))
}
