// Package model defines the core domain types shared across the storefront.
// Monetary values use shopspring/decimal, never float64.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ShippingAddress is the delivery address collected by the payment provider.
type ShippingAddress struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country,omitempty"`
}

// SoldEdition marks one edition as sold. Created only from a verified
// payment confirmation; never modified or deleted afterwards.
type SoldEdition struct {
	Edition   int              `json:"edition"`
	SessionID string           `json:"session_id,omitempty"`
	Comment   string           `json:"comment,omitempty"`
	Shipping  *ShippingAddress `json:"shipping,omitempty"`
	SoldAt    time.Time        `json:"sold_at"`
}

// UnmarshalJSON accepts both the structured record and the legacy bare
// edition number (`[3, 7]`) written by older deployments.
func (s *SoldEdition) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*s = SoldEdition{Edition: n}
		return nil
	}

	type plain SoldEdition
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("sold edition: %w", err)
	}
	*s = SoldEdition(p)
	return nil
}

// Order is an immutable record of one confirmed payment.
// Schema: {edition, session, amount, currency, email, shipping, comment, created}
type Order struct {
	Edition       int              `json:"edition"`
	SessionID     string           `json:"session_id"`
	Provider      string           `json:"provider,omitempty"`
	AmountTotal   decimal.Decimal  `json:"amount_total"` // major currency units
	Currency      string           `json:"currency"`
	CustomerEmail string           `json:"customer_email,omitempty"`
	Phone         string           `json:"phone,omitempty"`
	Shipping      *ShippingAddress `json:"shipping,omitempty"`
	Comment       string           `json:"comment"`
	Oversold      bool             `json:"oversold,omitempty"` // edition was already sold under another session
	CreatedAt     time.Time        `json:"created"`
}

// Snapshot is the full persisted inventory state.
type Snapshot struct {
	Sold   []SoldEdition `json:"sold"`
	Orders []Order       `json:"orders"`
}

// Clone returns a deep-enough copy for handing out to concurrent readers.
// Records are never mutated after creation, so copying the slices suffices.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Sold:   make([]SoldEdition, len(s.Sold)),
		Orders: make([]Order, len(s.Orders)),
	}
	copy(out.Sold, s.Sold)
	copy(out.Orders, s.Orders)
	return out
}

// HasEdition reports whether the edition appears in the sold set.
func (s Snapshot) HasEdition(edition int) bool {
	for _, rec := range s.Sold {
		if rec.Edition == edition {
			return true
		}
	}
	return false
}

// HasSession reports whether an order for the provider session exists.
func (s Snapshot) HasSession(sessionID string) bool {
	for _, o := range s.Orders {
		if o.SessionID == sessionID {
			return true
		}
	}
	return false
}

// ConfirmedPayment is the provider-neutral content of a verified
// "payment completed" notification.
type ConfirmedPayment struct {
	Provider      string
	SessionID     string
	Edition       int    // 0 when the metadata carried no usable edition
	EditionRaw    string // metadata value as received
	Comment       string
	Phone         string
	AmountTotal   decimal.Decimal
	Currency      string
	CustomerEmail string
	Shipping      *ShippingAddress
	HoldToken     string // reservation token from checkout, empty when none was taken
}

// CommitOutcome describes what a sale commit did to the store.
type CommitOutcome string

const (
	// OutcomeRecorded: sold record and order appended.
	OutcomeRecorded CommitOutcome = "recorded"
	// OutcomeDuplicate: an order for the session already existed; nothing changed.
	OutcomeDuplicate CommitOutcome = "duplicate"
	// OutcomeOversold: the edition was already sold under another session;
	// the order was appended with Oversold set and the sold set left as is.
	OutcomeOversold CommitOutcome = "oversold"
)
