package onramp

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingToken indicates the issuer answered with a success status whose
// body lacked the session token field.
var ErrMissingToken = errors.New("issuer response missing session token")

// StatusError is a non-success response from the issuing endpoint. Reason
// carries the optional error message from the response body.
type StatusError struct {
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("issuer responded %d: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("issuer responded %d", e.Code)
}

// User-facing messages for failed acquisitions. Every acquire error collapses
// into one of these three; the underlying cause stays reachable through
// errors.Is/As for logging.
const (
	MsgSessionExpired = "Your session has expired. Please refresh and try again."
	MsgRateLimited    = "Too many requests. Please wait a moment and try again."
	MsgTryAgain       = "Unable to start checkout right now. Please try again."
)

// UserMessage maps an acquisition error to one of the three user-facing
// message categories by inspecting status codes and error text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case 401, 403, 410:
			return MsgSessionExpired
		case 429:
			return MsgRateLimited
		}
	}
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "expired"):
		return MsgSessionExpired
	case strings.Contains(text, "rate limit"), strings.Contains(text, "too many requests"):
		return MsgRateLimited
	}
	return MsgTryAgain
}
