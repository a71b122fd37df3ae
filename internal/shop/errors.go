package shop

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/editions/storefront/internal/payment"
)

var (
	// ErrValidation wraps every rejected checkout input.
	ErrValidation = errors.New("invalid request")

	// ErrAlreadySold is returned when a checkout targets a sold edition.
	ErrAlreadySold = errors.New("this edition is already sold")

	// ErrEditionReserved is returned while another checkout holds the edition.
	ErrEditionReserved = errors.New("this edition is being purchased, try again in a few minutes")
)

// statusFor maps a service error to the HTTP status and client message.
func statusFor(err error) (int, string) {
	var upstream *payment.UpstreamError
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrAlreadySold):
		return http.StatusBadRequest, ErrAlreadySold.Error()
	case errors.Is(err, ErrEditionReserved):
		return http.StatusConflict, ErrEditionReserved.Error()
	case errors.Is(err, payment.ErrSignatureVerification):
		return http.StatusBadRequest, "webhook signature verification failed"
	case errors.As(err, &upstream):
		return http.StatusInternalServerError, upstream.Message
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeServiceError logs unexpected failures and writes the mapped response.
func writeServiceError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "err", err)
	}
	writeError(w, msg, status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
