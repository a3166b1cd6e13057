package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
	"github.com/josh-kwaku/settlement-ledger/internal/service/payment"
)

type paymentService interface {
	Initialize(ctx context.Context, req payment.InitializeRequest) (*domain.Payment, error)
	Authorize(ctx context.Context, req payment.AuthorizeRequest) (*domain.Payment, error)
	AuthorizeInline(ctx context.Context, req payment.InlineAuthorizeRequest) (*domain.Payment, error)
	Capture(ctx context.Context, req payment.CaptureRequest) (*domain.Payment, error)
	Refund(ctx context.Context, req payment.RefundRequest) (*domain.Payment, error)
	Cancel(ctx context.Context, req payment.CancelRequest) (*domain.Payment, error)
	GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	ListPaymentEvents(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentEvent, error)
}

type PaymentHandler struct {
	payments paymentService
}

func NewPaymentHandler(payments paymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type paymentDTO struct {
	ID                uuid.UUID       `json:"id"`
	Amount            int64           `json:"amount"`
	Currency          string          `json:"currency"`
	Method            string          `json:"method"`
	Status            string          `json:"status"`
	Provider          string          `json:"provider"`
	ProviderPaymentID *string         `json:"provider_payment_id,omitempty"`
	AuthorizedAmount  *int64          `json:"authorized_amount,omitempty"`
	CapturedAmount    *int64          `json:"captured_amount,omitempty"`
	RefundedAmount    *int64          `json:"refunded_amount,omitempty"`
	FailureReason     *string         `json:"failure_reason,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func toPaymentDTO(p *domain.Payment) paymentDTO {
	return paymentDTO{
		ID:                p.ID,
		Amount:            p.Amount,
		Currency:          string(p.Currency),
		Method:            string(p.Method),
		Status:            string(p.Status),
		Provider:          p.Provider,
		ProviderPaymentID: p.ProviderPaymentID,
		AuthorizedAmount:  p.AuthorizedAmount,
		CapturedAmount:    p.CapturedAmount,
		RefundedAmount:    p.RefundedAmount,
		FailureReason:     p.FailureReason,
		Metadata:          p.Metadata,
		Version:           p.Version,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

type paymentEventDTO struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type initializeRequest struct {
	Amount   int64           `json:"amount"`
	Currency string          `json:"currency"`
	Method   string          `json:"method"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type inlineAuthorizeRequest struct {
	initializeRequest
	SourceToken string `json:"source_token"`
}

// commandRequest is the optional body of the per-payment commands.
type commandRequest struct {
	Amount          *int64 `json:"amount,omitempty"`
	SourceToken     string `json:"source_token,omitempty"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

func (h *PaymentHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decodeBody(r, &req, false); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	p, err := h.payments.Initialize(r.Context(), payment.InitializeRequest{
		Amount:         req.Amount,
		Currency:       domain.Currency(req.Currency),
		Method:         domain.PaymentMethod(req.Method),
		Metadata:       req.Metadata,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	h.respondPayment(w, r, http.StatusCreated, p, err, "payment initialization failed")
}

func (h *PaymentHandler) AuthorizeInline(w http.ResponseWriter, r *http.Request) {
	var req inlineAuthorizeRequest
	if err := decodeBody(r, &req, false); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	p, err := h.payments.AuthorizeInline(r.Context(), payment.InlineAuthorizeRequest{
		Amount:         req.Amount,
		Currency:       domain.Currency(req.Currency),
		Method:         domain.PaymentMethod(req.Method),
		SourceToken:    req.SourceToken,
		Metadata:       req.Metadata,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	h.respondPayment(w, r, http.StatusCreated, p, err, "inline authorization failed")
}

func (h *PaymentHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	id, req, ok := parseCommand(w, r)
	if !ok {
		return
	}
	p, err := h.payments.Authorize(r.Context(), payment.AuthorizeRequest{
		PaymentID:       id,
		SourceToken:     req.SourceToken,
		ExpectedVersion: req.ExpectedVersion,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	h.respondPayment(w, r, http.StatusOK, p, err, "authorization failed")
}

func (h *PaymentHandler) Capture(w http.ResponseWriter, r *http.Request) {
	id, req, ok := parseCommand(w, r)
	if !ok {
		return
	}
	p, err := h.payments.Capture(r.Context(), payment.CaptureRequest{
		PaymentID:       id,
		Amount:          req.Amount,
		ExpectedVersion: req.ExpectedVersion,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	h.respondPayment(w, r, http.StatusOK, p, err, "capture failed")
}

func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id, req, ok := parseCommand(w, r)
	if !ok {
		return
	}
	p, err := h.payments.Refund(r.Context(), payment.RefundRequest{
		PaymentID:       id,
		Amount:          req.Amount,
		ExpectedVersion: req.ExpectedVersion,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	h.respondPayment(w, r, http.StatusOK, p, err, "refund failed")
}

func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, req, ok := parseCommand(w, r)
	if !ok {
		return
	}
	p, err := h.payments.Cancel(r.Context(), payment.CancelRequest{
		PaymentID:       id,
		ExpectedVersion: req.ExpectedVersion,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	h.respondPayment(w, r, http.StatusOK, p, err, "cancel failed")
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrPaymentNotFound, nil)
		return
	}
	p, err := h.payments.GetPayment(r.Context(), id)
	h.respondPayment(w, r, http.StatusOK, p, err, "payment lookup failed")
}

func (h *PaymentHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrPaymentNotFound, nil)
		return
	}

	trail, err := h.payments.ListPaymentEvents(r.Context(), id)
	if err != nil {
		logging.FromContext(r.Context()).Warn("payment events lookup failed", "payment_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}

	out := make([]paymentEventDTO, 0, len(trail))
	for _, e := range trail {
		out = append(out, paymentEventDTO{
			ID:        e.ID,
			EventType: string(e.EventType),
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt,
		})
	}
	RespondSuccess(w, http.StatusOK, out)
}

func (h *PaymentHandler) respondPayment(w http.ResponseWriter, r *http.Request, status int, p *domain.Payment, err error, msg string) {
	if err != nil {
		logging.FromContext(r.Context()).Warn(msg, "error", err)
		RespondDomainError(w, err)
		return
	}
	if status == http.StatusCreated {
		w.Header().Set("Location", fmt.Sprintf("/api/v1/payments/%s", p.ID))
	}
	RespondSuccess(w, status, toPaymentDTO(p))
}

func parseCommand(w http.ResponseWriter, r *http.Request) (uuid.UUID, commandRequest, bool) {
	var req commandRequest
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrPaymentNotFound, nil)
		return uuid.Nil, req, false
	}
	if err := decodeBody(r, &req, true); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return uuid.Nil, req, false
	}
	return id, req, true
}

// decodeBody reads a JSON body of at most 1 MiB. With optional set an empty
// body leaves v untouched.
func decodeBody(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
