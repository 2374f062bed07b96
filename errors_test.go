package onramp

import (
	"errors"
	"fmt"
	"testing"
)

func TestUserMessage(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"unauthorized", &StatusError{Code: 401}, MsgSessionExpired},
		{"gone", &StatusError{Code: 410, Reason: "token gone"}, MsgSessionExpired},
		{"rate limited status", &StatusError{Code: 429}, MsgRateLimited},
		{"rate limited text", errors.New("issuer said: rate limit exceeded"), MsgRateLimited},
		{"too many requests text", errors.New("too many requests"), MsgRateLimited},
		{"expired text", errors.New("session expired upstream"), MsgSessionExpired},
		{"server error", &StatusError{Code: 500, Reason: "boom"}, MsgTryAgain},
		{"transport", errors.New("dial tcp: connection refused"), MsgTryAgain},
		{"missing token", ErrMissingToken, MsgTryAgain},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := UserMessage(tc.err); got != tc.want {
				t.Fatalf("UserMessage(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

// The user-facing message never hides the root cause from errors.As.
func TestUserMessagePreservesCause(t *testing.T) {
	cause := &StatusError{Code: 429, Reason: "slow down"}
	wrapped := fmt.Errorf("acquire session token: %w", cause)

	if got := UserMessage(wrapped); got != MsgRateLimited {
		t.Fatalf("UserMessage(wrapped) = %q, want %q", got, MsgRateLimited)
	}
	var se *StatusError
	if !errors.As(wrapped, &se) || se.Code != 429 {
		t.Fatalf("root cause lost: %v", wrapped)
	}
}

func TestStatusErrorString(t *testing.T) {
	if got := (&StatusError{Code: 500}).Error(); got != "issuer responded 500" {
		t.Fatalf("Error() = %q", got)
	}
	if got := (&StatusError{Code: 500, Reason: "boom"}).Error(); got != "issuer responded 500: boom" {
		t.Fatalf("Error() = %q", got)
	}
}
