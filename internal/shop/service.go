// Package shop provides the HTTP handlers and business logic for selling
// numbered editions: starting a provider checkout, recording confirmed
// payments from the provider's webhook, and reporting what has been sold.
//
// An edition becomes unavailable only when the provider confirms payment,
// never when a checkout starts.
package shop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/editions/storefront/internal/edition"
	"github.com/editions/storefront/internal/events"
	"github.com/editions/storefront/internal/metrics"
	"github.com/editions/storefront/internal/model"
	"github.com/editions/storefront/internal/payment"
	"github.com/editions/storefront/internal/reservation"
	"github.com/editions/storefront/internal/store"
)

const (
	maxCommentLen = 500 // provider metadata values are capped at 500 characters
	maxPhoneLen   = 32
)

// Config holds the catalogue and checkout settings.
type Config struct {
	UnitPrice        decimal.Decimal
	Currency         string
	ProductName      string // may contain %d for the edition number
	BaseURL          string
	AllowedCountries []string
	MaxEdition       int           // 0 means no upper bound
	ReservationTTL   time.Duration // 0 disables reservations
	ProviderTimeout  time.Duration
	AdminToken       string // protects GET /orders when set
}

// Service handles checkout and webhook processing. The store serializes
// mutations; the service itself holds no lock.
type Service struct {
	store     store.Store
	provider  payment.Provider
	cfg       Config
	holder    reservation.Holder
	publisher events.Publisher
	wsHub     *WSHub // optional WebSocket hub for sold-edition broadcasts
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithReservations enables edition holds during checkout.
func WithReservations(h reservation.Holder) Option {
	return func(s *Service) { s.holder = h }
}

// WithPublisher sends order events after each committed sale.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithHub broadcasts sold editions to WebSocket clients.
func WithHub(h *WSHub) Option {
	return func(s *Service) { s.wsHub = h }
}

// WithClock replaces the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a shop service.
func NewService(st store.Store, provider payment.Provider, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:     st,
		provider:  provider,
		cfg:       cfg,
		holder:    reservation.Nop{},
		publisher: events.Nop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- Request/Response types ---

// CheckoutRequest is the JSON body for POST /create-checkout-session.
// Edition is kept raw so both 12 and "12" are accepted.
type CheckoutRequest struct {
	Edition         json.RawMessage `json:"edition"`
	Comment         string          `json:"comment,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	ShippingCountry string          `json:"shippingCountry,omitempty"`
}

// Acknowledgement is returned to the provider for every accepted webhook.
type Acknowledgement struct {
	Received bool                `json:"received"`
	Outcome  model.CommitOutcome `json:"-"`
}

// outcomeIgnored marks deliveries that carried nothing to commit.
const outcomeIgnored model.CommitOutcome = "ignored"

// --- Checkout Session Initiator ---

// CreateCheckoutSession validates the request, checks availability and asks
// the provider for a hosted checkout page. Nothing is written locally; an
// edition is only held when reservations are enabled.
func (s *Service) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*payment.Session, error) {
	n, err := edition.Parse(req.Edition)
	if err != nil {
		metrics.CheckoutSessions.WithLabelValues("invalid").Inc()
		if errors.Is(err, edition.ErrMissing) {
			return nil, fmt.Errorf("%w: edition required", ErrValidation)
		}
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := edition.Validate(n, s.cfg.MaxEdition); err != nil {
		metrics.CheckoutSessions.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	countries, err := s.shippingCountries(req.ShippingCountry)
	if err != nil {
		metrics.CheckoutSessions.WithLabelValues("invalid").Inc()
		return nil, err
	}
	comment := strings.TrimSpace(req.Comment)
	if utf8.RuneCountInString(comment) > maxCommentLen {
		metrics.CheckoutSessions.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: comment longer than %d characters", ErrValidation, maxCommentLen)
	}
	phone := strings.TrimSpace(req.Phone)
	if len(phone) > maxPhoneLen {
		metrics.CheckoutSessions.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: phone number too long", ErrValidation)
	}

	// Advisory check: the edition can still be sold twice if two checkouts
	// complete before either webhook arrives.
	sold, err := s.store.IsSold(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("check edition %d: %w", n, err)
	}
	if sold {
		metrics.CheckoutSessions.WithLabelValues("sold").Inc()
		return nil, ErrAlreadySold
	}

	reserved := false
	var holdToken string
	if s.cfg.ReservationTTL > 0 {
		token, ok, err := s.holder.Reserve(ctx, n, s.cfg.ReservationTTL)
		if err != nil {
			return nil, fmt.Errorf("reserve edition %d: %w", n, err)
		}
		if !ok {
			metrics.CheckoutSessions.WithLabelValues("reserved").Inc()
			return nil, ErrEditionReserved
		}
		reserved = true
		holdToken = token
	}

	meta := map[string]string{payment.MetaEdition: strconv.Itoa(n)}
	if comment != "" {
		meta[payment.MetaComment] = comment
	}
	if phone != "" {
		meta[payment.MetaPhone] = phone
	}
	if req.ShippingCountry != "" {
		meta[payment.MetaShippingCountry] = countries[0]
	}
	if holdToken != "" {
		meta[payment.MetaHold] = holdToken
	}

	base := strings.TrimRight(s.cfg.BaseURL, "/")
	sreq := payment.SessionRequest{
		Edition:          n,
		ProductName:      edition.Label(s.cfg.ProductName, n),
		UnitPrice:        s.cfg.UnitPrice,
		Currency:         s.cfg.Currency,
		SuccessURL:       fmt.Sprintf("%s/success.html?edition=%d", base, n),
		CancelURL:        base + "/cancel.html",
		AllowedCountries: countries,
		Metadata:         meta,
	}

	callCtx := ctx
	if s.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()
	}

	start := time.Now()
	sess, err := s.provider.CreateSession(callCtx, sreq)
	metrics.ProviderLatency.WithLabelValues(s.provider.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		if reserved {
			// The request context may already be done; release regardless.
			if rerr := s.holder.Release(context.WithoutCancel(ctx), n, holdToken); rerr != nil {
				slog.Warn("release reservation failed", "edition", n, "err", rerr)
			}
		}
		metrics.CheckoutSessions.WithLabelValues("upstream_error").Inc()
		if !errors.Is(err, payment.ErrUpstream) {
			err = &payment.UpstreamError{Provider: s.provider.Name(), Message: err.Error(), Err: err}
		}
		slog.Error("checkout session failed",
			"edition", n,
			"provider", s.provider.Name(),
			"err", err,
		)
		return nil, err
	}

	metrics.CheckoutSessions.WithLabelValues("created").Inc()
	slog.Info("checkout session created",
		"edition", n,
		"session_id", sess.ID,
		"provider", s.provider.Name(),
		"reserved", reserved,
	)
	return sess, nil
}

// shippingCountries returns the countries the provider may ship to. A
// requested country narrows the list to itself and must be allowed.
func (s *Service) shippingCountries(requested string) ([]string, error) {
	if requested == "" {
		return s.cfg.AllowedCountries, nil
	}
	c := strings.ToUpper(strings.TrimSpace(requested))
	if !isCountryCode(c) {
		return nil, fmt.Errorf("%w: %q is not a two-letter country code", ErrValidation, requested)
	}
	if len(s.cfg.AllowedCountries) > 0 && !slices.Contains(s.cfg.AllowedCountries, c) {
		return nil, fmt.Errorf("%w: shipping to %q is not available", ErrValidation, requested)
	}
	return []string{c}, nil
}

// isCountryCode reports whether c has the ISO 3166-1 alpha-2 shape.
func isCountryCode(c string) bool {
	return len(c) == 2 && c[0] >= 'A' && c[0] <= 'Z' && c[1] >= 'A' && c[1] <= 'Z'
}

// --- Payment Confirmation Receiver ---

// ReceiveNotification authenticates a raw webhook delivery and commits the
// sale it confirms. Every delivery with a valid signature is acknowledged,
// including ignored events and redeliveries; only a storage failure is
// returned so the provider retries.
func (s *Service) ReceiveNotification(ctx context.Context, payload []byte, signature string) (*Acknowledgement, error) {
	evt, err := s.provider.VerifyAndParse(payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrSignatureVerification) {
			metrics.SignatureFailures.Inc()
			slog.Warn("webhook signature rejected",
				"provider", s.provider.Name(),
				"err", err,
			)
			return nil, err
		}
		// Authentic but unreadable: retrying will not help.
		metrics.WebhookEvents.WithLabelValues("ignored").Inc()
		slog.Error("webhook payload unreadable", "provider", s.provider.Name(), "err", err)
		return &Acknowledgement{Received: true, Outcome: outcomeIgnored}, nil
	}

	if evt.Type != payment.EventPaymentCompleted || evt.Payment == nil {
		metrics.WebhookEvents.WithLabelValues("ignored").Inc()
		slog.Info("webhook event ignored",
			"provider", s.provider.Name(),
			"event", evt.ProviderType,
		)
		return &Acknowledgement{Received: true, Outcome: outcomeIgnored}, nil
	}

	pay := evt.Payment
	if pay.Edition <= 0 {
		metrics.WebhookEvents.WithLabelValues("no_edition").Inc()
		slog.Warn("paid session without usable edition metadata",
			"session_id", pay.SessionID,
			"edition_raw", pay.EditionRaw,
		)
		return &Acknowledgement{Received: true, Outcome: outcomeIgnored}, nil
	}

	now := s.now().UTC()
	rec := model.SoldEdition{
		Edition:   pay.Edition,
		SessionID: pay.SessionID,
		Comment:   pay.Comment,
		Shipping:  pay.Shipping,
		SoldAt:    now,
	}
	order := model.Order{
		Edition:       pay.Edition,
		SessionID:     pay.SessionID,
		Provider:      pay.Provider,
		AmountTotal:   pay.AmountTotal,
		Currency:      pay.Currency,
		CustomerEmail: pay.CustomerEmail,
		Phone:         pay.Phone,
		Shipping:      pay.Shipping,
		Comment:       pay.Comment,
		CreatedAt:     now,
	}

	outcome, err := s.store.CommitSale(ctx, rec, order)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("storage_error").Inc()
		slog.Error("failed to record sale",
			"edition", pay.Edition,
			"session_id", pay.SessionID,
			"err", err,
		)
		return nil, fmt.Errorf("record sale of edition %d: %w", pay.Edition, err)
	}
	metrics.WebhookEvents.WithLabelValues(string(outcome)).Inc()

	switch outcome {
	case model.OutcomeDuplicate:
		slog.Info("duplicate webhook delivery", "edition", pay.Edition, "session_id", pay.SessionID)
		return &Acknowledgement{Received: true, Outcome: outcome}, nil

	case model.OutcomeOversold:
		metrics.OversoldEditions.Inc()
		order.Oversold = true
		slog.Warn("edition sold twice, refund or substitute required",
			"edition", pay.Edition,
			"session_id", pay.SessionID,
			"customer_email", pay.CustomerEmail,
		)

	case model.OutcomeRecorded:
		slog.Info("edition sold",
			"edition", pay.Edition,
			"session_id", pay.SessionID,
			"amount", pay.AmountTotal.String(),
			"currency", pay.Currency,
		)
		if s.cfg.ReservationTTL > 0 && pay.HoldToken != "" {
			if err := s.holder.Release(ctx, pay.Edition, pay.HoldToken); err != nil {
				slog.Warn("release reservation failed", "edition", pay.Edition, "err", err)
			}
		}
		s.broadcastSold(ctx, pay.Edition)
	}

	if err := s.publisher.PublishOrderConfirmed(ctx, order); err != nil {
		slog.Warn("order event not published", "session_id", order.SessionID, "err", err)
	}
	return &Acknowledgement{Received: true, Outcome: outcome}, nil
}

func (s *Service) broadcastSold(ctx context.Context, n int) {
	sold, err := s.store.SoldEditions(ctx)
	if err != nil {
		slog.Warn("could not read sold editions after commit", "err", err)
		return
	}
	metrics.EditionsSold.Set(float64(len(sold)))

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         "edition_sold",
			Edition:      n,
			SoldEditions: sold,
		})
	}
}

// --- Inventory Query ---

// ListSoldEditions returns sold edition numbers, ascending and unique.
func (s *Service) ListSoldEditions(ctx context.Context) ([]int, error) {
	sold, err := s.store.SoldEditions(ctx)
	if err != nil {
		return nil, err
	}
	if sold == nil {
		sold = []int{}
	}
	return sold, nil
}

// ListOrders returns the order log in insertion order.
func (s *Service) ListOrders(ctx context.Context) ([]model.Order, error) {
	orders, err := s.store.Orders(ctx)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return orders, nil
}
