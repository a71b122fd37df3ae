package payment_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/editions/storefront/internal/payment"
)

const testWebhookSecret = "whsec_test_secret"

type fakeSessions struct {
	got *stripe.CheckoutSessionParams
	err error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.got = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_123", URL: "https://checkout.stripe.test/cs_test_123"}, nil
}

func signStripe(t *testing.T, payload string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func sessionRequest() payment.SessionRequest {
	return payment.SessionRequest{
		Edition:          12,
		ProductName:      "Carnet édition #12",
		UnitPrice:        decimal.RequireFromString("7.00"),
		Currency:         "chf",
		SuccessURL:       "https://shop.test/success.html?edition=12",
		CancelURL:        "https://shop.test/cancel.html",
		AllowedCountries: []string{"CH", "FR", "DE", "IT"},
		Metadata:         map[string]string{"edition": "12", "comment": "pour Léa"},
	}
}

func TestStripe_CreateSessionParams(t *testing.T) {
	fake := &fakeSessions{}
	p := payment.NewStripeWithSessions(fake, testWebhookSecret)

	sess, err := p.CreateSession(context.Background(), sessionRequest())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.ID != "cs_test_123" || sess.URL == "" {
		t.Errorf("unexpected session: %+v", sess)
	}

	params := fake.got
	if *params.Mode != "payment" {
		t.Errorf("expected payment mode, got %s", *params.Mode)
	}
	item := params.LineItems[0]
	if *item.PriceData.UnitAmount != 700 {
		t.Errorf("expected 700 minor units, got %d", *item.PriceData.UnitAmount)
	}
	if *item.PriceData.Currency != "chf" {
		t.Errorf("expected chf, got %s", *item.PriceData.Currency)
	}
	if params.Metadata["edition"] != "12" || params.Metadata["comment"] != "pour Léa" {
		t.Errorf("metadata not forwarded: %v", params.Metadata)
	}
	if *params.BillingAddressCollection != "required" {
		t.Error("billing address must be required")
	}
	if n := len(params.ShippingAddressCollection.AllowedCountries); n != 4 {
		t.Errorf("expected 4 shipping countries, got %d", n)
	}
	if !*params.AllowPromotionCodes {
		t.Error("promotion codes should be allowed")
	}
	if *params.SuccessURL != "https://shop.test/success.html?edition=12" {
		t.Errorf("unexpected success url %s", *params.SuccessURL)
	}
	if params.Context == nil {
		t.Error("request context not attached to params")
	}
}

func TestStripe_CreateSessionUpstreamError(t *testing.T) {
	fake := &fakeSessions{err: &stripe.Error{Msg: "Invalid API Key provided"}}
	p := payment.NewStripeWithSessions(fake, testWebhookSecret)

	_, err := p.CreateSession(context.Background(), sessionRequest())
	if !errors.Is(err, payment.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	var ue *payment.UpstreamError
	if !errors.As(err, &ue) || ue.Message != "Invalid API Key provided" {
		t.Errorf("provider message not preserved: %v", err)
	}
}

const completedEvent = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {"object": {
    "id": "cs_test_123",
    "object": "checkout.session",
    "payment_status": "paid",
    "amount_total": 700,
    "currency": "chf",
    "customer_email": "fallback@example.com",
    "customer_details": {"email": "buyer@example.com", "phone": "+41790000000"},
    "shipping_details": {"name": "A. Buyer", "address": {"line1": "Rue 1", "postal_code": "1000", "city": "Lausanne", "country": "CH"}},
    "metadata": {"edition": "12", "comment": "pour Léa"}
  }}
}`

func TestStripe_VerifyAndParseCompleted(t *testing.T) {
	p := payment.NewStripeWithSessions(&fakeSessions{}, testWebhookSecret)

	evt, err := p.VerifyAndParse([]byte(completedEvent), signStripe(t, completedEvent))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if evt.Type != payment.EventPaymentCompleted {
		t.Fatalf("expected completed, got %s", evt.Type)
	}

	pay := evt.Payment
	if pay.Edition != 12 || pay.Comment != "pour Léa" {
		t.Errorf("metadata did not round-trip: %+v", pay)
	}
	if pay.SessionID != "cs_test_123" {
		t.Errorf("unexpected session id %s", pay.SessionID)
	}
	if !pay.AmountTotal.Equal(decimal.RequireFromString("7")) {
		t.Errorf("expected 7.00, got %s", pay.AmountTotal)
	}
	if pay.CustomerEmail != "buyer@example.com" {
		t.Errorf("customer_details email should win, got %s", pay.CustomerEmail)
	}
	if pay.Shipping == nil || pay.Shipping.City != "Lausanne" {
		t.Errorf("shipping not extracted: %+v", pay.Shipping)
	}
}

func TestStripe_CommentFromCustomField(t *testing.T) {
	payload := `{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{
      "id":"cs_cf","object":"checkout.session","payment_status":"paid","amount_total":700,"currency":"chf",
      "metadata":{"edition":"4"},
      "custom_fields":[{"key":"comment","type":"text","text":{"value":"hello"}}]}}}`
	p := payment.NewStripeWithSessions(&fakeSessions{}, testWebhookSecret)

	evt, err := p.VerifyAndParse([]byte(payload), signStripe(t, payload))
	if err != nil {
		t.Fatal(err)
	}
	if evt.Payment.Comment != "hello" {
		t.Errorf("expected custom field comment, got %q", evt.Payment.Comment)
	}
}

func TestStripe_IgnoresOtherEventsAndUnpaid(t *testing.T) {
	p := payment.NewStripeWithSessions(&fakeSessions{}, testWebhookSecret)

	cases := map[string]string{
		"other type": `{"id":"evt_3","object":"event","type":"payment_intent.created","data":{"object":{"id":"pi_1"}}}`,
		"unpaid":     `{"id":"evt_4","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_u","payment_status":"unpaid","metadata":{"edition":"5"}}}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			evt, err := p.VerifyAndParse([]byte(payload), signStripe(t, payload))
			if err != nil {
				t.Fatal(err)
			}
			if evt.Type != payment.EventIgnored || evt.Payment != nil {
				t.Errorf("expected ignored event, got %+v", evt)
			}
		})
	}
}

func TestStripe_RejectsBadSignatures(t *testing.T) {
	p := payment.NewStripeWithSessions(&fakeSessions{}, testWebhookSecret)
	header := signStripe(t, completedEvent)
	tampered := strings.Replace(completedEvent, `"edition": "12"`, `"edition": "13"`, 1)

	cases := map[string]struct{ body, sig string }{
		"missing header": {completedEvent, ""},
		"garbage header": {completedEvent, "t=1,v1=deadbeef"},
		"tampered body":  {tampered, header},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.VerifyAndParse([]byte(tc.body), tc.sig)
			if !errors.Is(err, payment.ErrSignatureVerification) {
				t.Errorf("expected signature error, got %v", err)
			}
		})
	}
}
