// Package payment adapts the hosted-checkout payment processors the
// storefront can sell through. Each provider creates a remote checkout session
// and turns a signed webhook delivery into a provider-neutral event.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/editions/storefront/internal/edition"
	"github.com/editions/storefront/internal/model"
)

var (
	// ErrSignatureVerification is returned when a webhook body does not carry
	// a valid signature for the configured secret.
	ErrSignatureVerification = errors.New("payment: webhook signature verification failed")

	// ErrUpstream matches every *UpstreamError via errors.Is.
	ErrUpstream = errors.New("payment: provider error")
)

// UpstreamError wraps a failed call to the payment provider. Message is the
// provider's own description and is safe to show to the client.
type UpstreamError struct {
	Provider string
	Message  string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Event types the storefront distinguishes. Anything else is acknowledged
// and ignored.
const (
	EventPaymentCompleted = "payment.completed"
	EventIgnored          = "ignored"
)

// Metadata keys carried on the remote session and read back from the webhook.
const (
	MetaEdition         = "edition"
	MetaComment         = "comment"
	MetaPhone           = "phone"
	MetaShippingCountry = "shipping_country"
	MetaHold            = "hold"
)

// SessionRequest describes the single-item checkout to create.
type SessionRequest struct {
	Edition          int
	ProductName      string
	UnitPrice        decimal.Decimal // major currency units
	Currency         string
	SuccessURL       string
	CancelURL        string
	AllowedCountries []string
	Metadata         map[string]string
}

// Session is the created remote checkout session.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Event is a verified webhook delivery. Payment is set only for
// EventPaymentCompleted.
type Event struct {
	Type         string
	ProviderType string // provider's own event name, for logging
	Payment      *model.ConfirmedPayment
}

// Provider is implemented by each payment processor variant.
type Provider interface {
	Name() string
	// SignatureHeader is the HTTP header carrying the webhook signature.
	SignatureHeader() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	// VerifyAndParse authenticates the raw, undecoded webhook body and
	// extracts the event.
	VerifyAndParse(payload []byte, signature string) (*Event, error)
}

// minorUnits converts a major-unit amount to the integer minor units the
// processors expect (7.00 CHF -> 700).
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// fromMinorUnits is the inverse of minorUnits.
func fromMinorUnits(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}

// editionFromMetadata reads the edition back from round-tripped metadata.
// A missing or malformed value yields 0; the raw string is kept for logging.
func editionFromMetadata(meta map[string]string) (int, string) {
	raw, ok := meta[MetaEdition]
	if !ok {
		return 0, ""
	}
	n, err := edition.ParseString(raw)
	if err != nil {
		return 0, raw
	}
	return n, raw
}
