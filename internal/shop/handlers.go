package shop

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

const (
	maxCheckoutBody = 64 << 10
	maxWebhookBody  = 1 << 20
)

// Routes registers the storefront endpoints on r. The server mounts them
// twice, at the root and under /api.
func (s *Service) Routes(r chi.Router) {
	r.Post("/create-checkout-session", s.HandleCreateCheckoutSession)
	r.Post("/webhook", s.HandleWebhook)
	r.Get("/sold-editions", s.HandleSoldEditions)
	r.Get("/orders", s.HandleOrders)
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// HandleCreateCheckoutSession handles POST /create-checkout-session
func (s *Service) HandleCreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckoutBody)).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := s.CreateCheckoutSession(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, sess)
}

// HandleWebhook handles POST /webhook
// The body is read verbatim: the signature covers the exact bytes sent.
func (s *Service) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, "could not read body", http.StatusBadRequest)
		return
	}

	ack, err := s.ReceiveNotification(r.Context(), payload, r.Header.Get(s.provider.SignatureHeader()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, ack)
}

// HandleSoldEditions handles GET /sold-editions
func (s *Service) HandleSoldEditions(w http.ResponseWriter, r *http.Request) {
	sold, err := s.ListSoldEditions(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, sold)
}

// HandleOrders handles GET /orders
// Requires "Authorization: Bearer <token>" when an admin token is configured.
func (s *Service) HandleOrders(w http.ResponseWriter, r *http.Request) {
	if err := s.authorizeAdmin(r); err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="orders"`)
		writeError(w, err.Error(), http.StatusUnauthorized)
		return
	}

	orders, err := s.ListOrders(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, orders)
}

func (s *Service) authorizeAdmin(r *http.Request) error {
	if s.cfg.AdminToken == "" {
		return nil
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
		return errors.New("unauthorized")
	}
	return nil
}
