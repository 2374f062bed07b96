package onramp

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// DefaultCheckoutBaseURL is the hosted checkout widget entry point.
const DefaultCheckoutBaseURL = "https://pay.coinbase.com/buy/select-asset"

// Guest checkout amount limits in USD, enforced by the payment provider.
// Client-side validation exists only to fail fast with a friendly message.
const (
	GuestCheckoutMinUSD = 2
	GuestCheckoutMaxUSD = 500
)

// ErrAmountOutOfRange indicates a preset fiat amount outside the guest
// checkout window.
var ErrAmountOutOfRange = fmt.Errorf("amount must be between $%d and $%d for guest checkout", GuestCheckoutMinUSD, GuestCheckoutMaxUSD)

// CheckoutOptions are the optional display parameters appended to the
// checkout URL alongside the session token.
type CheckoutOptions struct {
	// BaseURL overrides DefaultCheckoutBaseURL.
	BaseURL string

	PresetFiatAmount     float64
	DefaultAsset         string
	DefaultNetwork       string
	RedirectURL          string
	PartnerUserID        string
	DefaultPaymentMethod string
}

// CheckoutURL builds the externally hosted checkout URL carrying token as a
// query parameter. The destination is opaque to this package; nothing about
// it is validated beyond URL syntax.
func CheckoutURL(token string, opts CheckoutOptions) (string, error) {
	if token == "" {
		return "", errors.New("session token is required")
	}
	base := opts.BaseURL
	if base == "" {
		base = DefaultCheckoutBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid checkout base URL: %w", err)
	}

	q := u.Query()
	q.Set("sessionToken", token)
	if opts.PresetFiatAmount > 0 {
		q.Set("presetFiatAmount", strconv.FormatFloat(opts.PresetFiatAmount, 'f', -1, 64))
	}
	if opts.DefaultAsset != "" {
		q.Set("defaultAsset", opts.DefaultAsset)
	}
	if opts.DefaultNetwork != "" {
		q.Set("defaultNetwork", opts.DefaultNetwork)
	}
	if opts.RedirectURL != "" {
		q.Set("redirectUrl", opts.RedirectURL)
	}
	if opts.PartnerUserID != "" {
		q.Set("partnerUserId", opts.PartnerUserID)
	}
	if opts.DefaultPaymentMethod != "" {
		q.Set("defaultPaymentMethod", opts.DefaultPaymentMethod)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ValidateGuestAmount checks a fiat amount against the guest checkout
// limits. Advisory only; the provider enforces the real limits.
func ValidateGuestAmount(amountUSD float64) error {
	if amountUSD < GuestCheckoutMinUSD || amountUSD > GuestCheckoutMaxUSD {
		return ErrAmountOutOfRange
	}
	return nil
}
