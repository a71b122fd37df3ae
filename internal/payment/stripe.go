package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/editions/storefront/internal/model"
)

// StripeSignatureHeader carries Stripe's webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// checkoutSessions is the slice of the stripe-go session client the
// provider uses; tests substitute a fake.
type checkoutSessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Stripe implements Provider with Stripe Checkout.
type Stripe struct {
	sessions      checkoutSessions
	webhookSecret string
}

// NewStripe creates a Stripe provider for the given secret API key.
func NewStripe(secretKey, webhookSecret string) *Stripe {
	return &Stripe{
		sessions: &session.Client{
			B:   stripe.GetBackend(stripe.APIBackend),
			Key: secretKey,
		},
		webhookSecret: webhookSecret,
	}
}

// NewStripeWithSessions is NewStripe with an injected session client.
func NewStripeWithSessions(sessions checkoutSessions, webhookSecret string) *Stripe {
	return &Stripe{sessions: sessions, webhookSecret: webhookSecret}
}

func (p *Stripe) Name() string            { return "stripe" }
func (p *Stripe) SignatureHeader() string { return StripeSignatureHeader }

// CreateSession creates a hosted Checkout Session for one edition.
func (p *Stripe) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(req.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.ProductName),
					},
					UnitAmount: stripe.Int64(minorUnits(req.UnitPrice)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:               stripe.String(req.SuccessURL),
		CancelURL:                stripe.String(req.CancelURL),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
		PhoneNumberCollection: &stripe.CheckoutSessionPhoneNumberCollectionParams{
			Enabled: stripe.Bool(true),
		},
		CustomFields: []*stripe.CheckoutSessionCustomFieldParams{
			{
				Key: stripe.String(MetaComment),
				Label: &stripe.CheckoutSessionCustomFieldLabelParams{
					Type:   stripe.String("custom"),
					Custom: stripe.String("Optional comment"),
				},
				Type:     stripe.String("text"),
				Optional: stripe.Bool(true),
			},
		},
		AllowPromotionCodes: stripe.Bool(true),
	}
	if len(req.AllowedCountries) > 0 {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(req.AllowedCountries),
		}
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	s, err := p.sessions.New(params)
	if err != nil {
		return nil, &UpstreamError{Provider: p.Name(), Message: stripeMessage(err), Err: err}
	}
	return &Session{ID: s.ID, URL: s.URL}, nil
}

// VerifyAndParse checks the Stripe-Signature header against the raw body and
// decodes checkout session events. Only paid sessions count as completed.
func (p *Stripe) VerifyAndParse(payload []byte, signature string) (*Event, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrSignatureVerification, StripeSignatureHeader)
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}

	out := &Event{Type: EventIgnored, ProviderType: string(evt.Type)}
	switch evt.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
	default:
		return out, nil
	}
	if evt.Data == nil {
		return out, nil
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return out, nil
	}

	out.Type = EventPaymentCompleted
	out.Payment = confirmedFromSession(&cs)
	return out, nil
}

func confirmedFromSession(cs *stripe.CheckoutSession) *model.ConfirmedPayment {
	ed, raw := editionFromMetadata(cs.Metadata)
	pay := &model.ConfirmedPayment{
		Provider:      "stripe",
		SessionID:     cs.ID,
		Edition:       ed,
		EditionRaw:    raw,
		Comment:       cs.Metadata[MetaComment],
		Phone:         cs.Metadata[MetaPhone],
		HoldToken:     cs.Metadata[MetaHold],
		AmountTotal:   fromMinorUnits(cs.AmountTotal),
		Currency:      string(cs.Currency),
		CustomerEmail: cs.CustomerEmail,
	}

	if pay.Comment == "" {
		for _, f := range cs.CustomFields {
			if f != nil && f.Key == MetaComment && f.Text != nil {
				pay.Comment = f.Text.Value
			}
		}
	}
	if d := cs.CustomerDetails; d != nil {
		if d.Email != "" {
			pay.CustomerEmail = d.Email
		}
		if pay.Phone == "" {
			pay.Phone = d.Phone
		}
	}
	if sd := cs.ShippingDetails; sd != nil && sd.Address != nil {
		pay.Shipping = &model.ShippingAddress{
			Name:       sd.Name,
			Line1:      sd.Address.Line1,
			Line2:      sd.Address.Line2,
			PostalCode: sd.Address.PostalCode,
			City:       sd.Address.City,
			State:      sd.Address.State,
			Country:    sd.Address.Country,
		}
	}
	return pay
}

// stripeMessage extracts the human-readable message from a stripe-go error.
func stripeMessage(err error) string {
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		return se.Msg
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "payment provider timed out"
	}
	return err.Error()
}
