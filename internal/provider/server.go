package provider

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
)

// NewHandler exposes p over the JSON protocol HTTPClient speaks.
func NewHandler(p Provider) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "provider": p.Name()})
	})

	mux.HandleFunc("POST /v1/authorize", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode(w, r)
		if !ok {
			return
		}
		res, err := p.Authorize(r.Context(), AuthorizeRequest{
			PaymentID:      req.PaymentID,
			Amount:         req.Amount,
			Currency:       req.Currency,
			Method:         req.Method,
			SourceToken:    req.SourceToken,
			IdempotencyKey: r.Header.Get(idempotencyHeader),
		})
		reply(w, res, err)
	})

	mux.HandleFunc("POST /v1/capture", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode(w, r)
		if !ok {
			return
		}
		res, err := p.Capture(r.Context(), CaptureRequest{
			PaymentID:         req.PaymentID,
			ProviderPaymentID: req.ProviderPaymentID,
			Amount:            req.Amount,
			Currency:          req.Currency,
			IdempotencyKey:    r.Header.Get(idempotencyHeader),
		})
		reply(w, res, err)
	})

	mux.HandleFunc("POST /v1/refund", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode(w, r)
		if !ok {
			return
		}
		res, err := p.Refund(r.Context(), RefundRequest{
			PaymentID:         req.PaymentID,
			ProviderPaymentID: req.ProviderPaymentID,
			Amount:            req.Amount,
			Currency:          req.Currency,
			IdempotencyKey:    r.Header.Get(idempotencyHeader),
		})
		reply(w, res, err)
	})

	mux.HandleFunc("POST /v1/release", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode(w, r)
		if !ok {
			return
		}
		err := p.Release(r.Context(), ReleaseRequest{
			PaymentID:         req.PaymentID,
			ProviderPaymentID: req.ProviderPaymentID,
		})
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func decode(w http.ResponseWriter, r *http.Request) (wireRequest, bool) {
	var req wireRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func reply(w http.ResponseWriter, res *Result, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write provider response", "error", err)
	}
}
