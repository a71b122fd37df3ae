package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/editions/storefront/internal/model"
)

const (
	// PayrexxSignatureHeader carries the hex HMAC-SHA256 of the webhook body.
	PayrexxSignatureHeader = "X-Webhook-Signature"

	payrexxAPI = "https://api.payrexx.com/v1.0"
)

// Payrexx implements Provider with the Payrexx Gateway API. Session metadata
// travels in the gateway's referenceId as URL-encoded values.
type Payrexx struct {
	instance      string
	apiKey        string
	webhookSecret string
	baseURL       string
	client        *http.Client
}

// NewPayrexx creates a Payrexx provider for an instance name and API key.
func NewPayrexx(instance, apiKey, webhookSecret string) *Payrexx {
	return &Payrexx{
		instance:      instance,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		baseURL:       payrexxAPI,
		client:        &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL points the provider at another API root (used by tests).
func (p *Payrexx) WithBaseURL(u string) *Payrexx {
	p.baseURL = strings.TrimRight(u, "/")
	return p
}

func (p *Payrexx) Name() string            { return "payrexx" }
func (p *Payrexx) SignatureHeader() string { return PayrexxSignatureHeader }

type payrexxResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    []struct {
		ID   int64  `json:"id"`
		Hash string `json:"hash"`
		Link string `json:"link"`
	} `json:"data"`
}

// CreateSession creates a Payrexx Gateway (hosted payment page).
func (p *Payrexx) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	ref := url.Values{}
	for k, v := range req.Metadata {
		ref.Set(k, v)
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(minorUnits(req.UnitPrice), 10))
	form.Set("currency", strings.ToUpper(req.Currency))
	form.Set("purpose", req.ProductName)
	form.Set("referenceId", ref.Encode())
	form.Set("successRedirectUrl", req.SuccessURL)
	form.Set("failedRedirectUrl", req.CancelURL)
	form.Set("cancelRedirectUrl", req.CancelURL)
	for _, field := range []string{"forename", "surname", "email", "street", "postcode", "place", "country"} {
		form.Set("fields["+field+"][mandatory]", "1")
	}
	form.Set("fields[phone][mandatory]", "0")
	for i, c := range req.AllowedCountries {
		form.Set(fmt.Sprintf("fields[country][options][%d]", i), c)
	}
	body := p.sign(form)

	endpoint := p.baseURL + "/Gateway/?instance=" + url.QueryEscape(p.instance)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "payment provider timed out"
		}
		return nil, &UpstreamError{Provider: p.Name(), Message: msg, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &UpstreamError{Provider: p.Name(), Message: "read response", Err: err}
	}

	var out payrexxResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &UpstreamError{
			Provider: p.Name(),
			Message:  fmt.Sprintf("unexpected response (HTTP %d)", resp.StatusCode),
			Err:      err,
		}
	}
	if out.Status != "success" || len(out.Data) == 0 || out.Data[0].Link == "" {
		msg := out.Message
		if msg == "" {
			msg = fmt.Sprintf("gateway not created (HTTP %d)", resp.StatusCode)
		}
		return nil, &UpstreamError{Provider: p.Name(), Message: msg}
	}

	gw := out.Data[0]
	return &Session{ID: strconv.FormatInt(gw.ID, 10), URL: gw.Link}, nil
}

// sign appends ApiSignature = base64(HMAC-SHA256(query, apiKey)) to the
// encoded form. The signature covers the exact query string sent.
func (p *Payrexx) sign(form url.Values) string {
	query := form.Encode()
	mac := hmac.New(sha256.New, []byte(p.apiKey))
	mac.Write([]byte(query))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return query + "&ApiSignature=" + url.QueryEscape(sig)
}

type payrexxWebhook struct {
	Transaction *struct {
		ID          int64  `json:"id"`
		Status      string `json:"status"`
		ReferenceID string `json:"referenceId"`
		Amount      int64  `json:"amount"`
		Invoice     struct {
			Currency         string `json:"currency"`
			ReferenceID      string `json:"referenceId"`
			PaymentRequestID int64  `json:"paymentRequestId"`
		} `json:"invoice"`
		Contact struct {
			Firstname  string `json:"firstname"`
			Lastname   string `json:"lastname"`
			Email      string `json:"email"`
			Phone      string `json:"phone"`
			Street     string `json:"street"`
			Zip        string `json:"zip"`
			Place      string `json:"place"`
			CountryISO string `json:"countryISO"`
		} `json:"contact"`
	} `json:"transaction"`
}

// VerifyAndParse checks the hex HMAC-SHA256 of the raw body and decodes a
// transaction webhook. A transaction in status "confirmed" is a completed
// payment; every other status is ignored.
func (p *Payrexx) VerifyAndParse(payload []byte, signature string) (*Event, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrSignatureVerification, PayrexxSignatureHeader)
	}
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signature", ErrSignatureVerification)
	}
	if !hmac.Equal(given, SignPayrexxWebhook(payload, p.webhookSecret)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrSignatureVerification)
	}

	var wh payrexxWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, fmt.Errorf("decode payrexx webhook: %w", err)
	}
	if wh.Transaction == nil {
		return &Event{Type: EventIgnored, ProviderType: "unknown"}, nil
	}

	tx := wh.Transaction
	out := &Event{Type: EventIgnored, ProviderType: "transaction." + tx.Status}
	if tx.Status != "confirmed" {
		return out, nil
	}

	refID := tx.ReferenceID
	if refID == "" {
		refID = tx.Invoice.ReferenceID
	}
	meta := map[string]string{}
	if ref, err := url.ParseQuery(refID); err == nil {
		for k := range ref {
			meta[k] = ref.Get(k)
		}
	}
	ed, raw := editionFromMetadata(meta)

	sessionID := strconv.FormatInt(tx.ID, 10)
	if tx.Invoice.PaymentRequestID != 0 {
		sessionID = strconv.FormatInt(tx.Invoice.PaymentRequestID, 10)
	}

	c := tx.Contact
	pay := &model.ConfirmedPayment{
		Provider:      p.Name(),
		SessionID:     sessionID,
		Edition:       ed,
		EditionRaw:    raw,
		Comment:       meta[MetaComment],
		HoldToken:     meta[MetaHold],
		Phone:         c.Phone,
		AmountTotal:   fromMinorUnits(tx.Amount),
		Currency:      strings.ToLower(tx.Invoice.Currency),
		CustomerEmail: c.Email,
	}
	if pay.Phone == "" {
		pay.Phone = meta[MetaPhone]
	}
	if c.Street != "" || c.Place != "" {
		pay.Shipping = &model.ShippingAddress{
			Name:       strings.TrimSpace(c.Firstname + " " + c.Lastname),
			Line1:      c.Street,
			PostalCode: c.Zip,
			City:       c.Place,
			Country:    c.CountryISO,
		}
	}

	out.Type = EventPaymentCompleted
	out.Payment = pay
	return out, nil
}

// SignPayrexxWebhook computes the raw HMAC-SHA256 of a webhook body.
func SignPayrexxWebhook(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}
