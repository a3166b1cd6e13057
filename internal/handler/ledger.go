package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
	"github.com/josh-kwaku/settlement-ledger/internal/service/ledger"
)

type ledgerService interface {
	RecordTransaction(ctx context.Context, in ledger.RecordInput) (*ledger.RecordResult, error)
	GetBalance(ctx context.Context, entityID string, currency domain.Currency) (*domain.LedgerBalance, error)
	ListTransactionsForEntity(ctx context.Context, q ledger.ListQuery) (*ledger.TransactionPage, error)
}

type LedgerHandler struct {
	ledger ledgerService
	secret string
}

func NewLedgerHandler(ledger ledgerService, secret string) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, secret: secret}
}

type transactionDTO struct {
	ID              uuid.UUID       `json:"id"`
	SourceEventType string          `json:"source_event_type"`
	PaymentID       *uuid.UUID      `json:"payment_id"`
	AmountMinor     int64           `json:"amount_minor"`
	Currency        string          `json:"currency"`
	Direction       string          `json:"direction"`
	EntityType      string          `json:"entity_type"`
	EntityID        string          `json:"entity_id"`
	CorrelationID   *string         `json:"correlation_id,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

func toTransactionDTO(t *domain.LedgerTransaction) transactionDTO {
	return transactionDTO{
		ID:              t.ID,
		SourceEventType: t.SourceEventType,
		PaymentID:       t.PaymentID,
		AmountMinor:     t.AmountMinor,
		Currency:        string(t.Currency),
		Direction:       string(t.Direction),
		EntityType:      string(t.EntityType),
		EntityID:        t.EntityID,
		CorrelationID:   t.CorrelationID,
		Metadata:        t.Metadata,
		Timestamp:       t.Timestamp,
	}
}

type recordResponse struct {
	Transaction  transactionDTO `json:"transaction"`
	Duplicate    bool           `json:"duplicate"`
	BalanceMinor int64          `json:"balance_minor"`
}

type balanceDTO struct {
	EntityID     string    `json:"entity_id"`
	EntityType   string    `json:"entity_type,omitempty"`
	Currency     string    `json:"currency"`
	BalanceMinor int64     `json:"balance_minor"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type transactionPageDTO struct {
	Transactions []transactionDTO `json:"transactions"`
	Total        int              `json:"total"`
	Limit        int              `json:"limit"`
	Offset       int              `json:"offset"`
}

// RecordTransaction accepts postings from capture sources other than the
// payment projector. The body must be signed with the ingest secret in
// X-Signature (hex HMAC-SHA256).
func (h *LedgerHandler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read ledger posting body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if !verifyHMAC(body, r.Header.Get("X-Signature"), h.secret) {
		log.Warn("ledger posting signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var in ledger.RecordInput
	if err := json.Unmarshal(body, &in); err != nil {
		log.Warn("failed to parse ledger posting", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	res, err := h.ledger.RecordTransaction(r.Context(), in)
	if err != nil {
		log.Warn("ledger posting failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	RespondSuccess(w, status, recordResponse{
		Transaction:  toTransactionDTO(res.Transaction),
		Duplicate:    res.Duplicate,
		BalanceMinor: res.BalanceMinor,
	})
}

func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	entityID := r.PathValue("entityId")
	currency := domain.Currency(strings.ToUpper(r.PathValue("currency")))

	b, err := h.ledger.GetBalance(r.Context(), entityID, currency)
	if err != nil {
		logging.FromContext(r.Context()).Warn("balance lookup failed", "entity_id", entityID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, balanceDTO{
		EntityID:     b.EntityID,
		EntityType:   string(b.EntityType),
		Currency:     string(b.Currency),
		BalanceMinor: b.BalanceMinor,
		UpdatedAt:    b.UpdatedAt,
	})
}

func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := ledger.ListQuery{
		EntityID:  r.PathValue("entityId"),
		SortBy:    domain.TransactionSortField(r.URL.Query().Get("sort_by")),
		SortOrder: domain.SortOrder(r.URL.Query().Get("sort_order")),
	}

	var fields []FieldError
	limit, ok := queryInt(r, "limit")
	if !ok {
		fields = append(fields, FieldError{Field: "limit", Message: "must be an integer"})
	}
	offset, ok := queryInt(r, "offset")
	if !ok {
		fields = append(fields, FieldError{Field: "offset", Message: "must be an integer"})
	}
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}
	q.Limit, q.Offset = limit, offset

	page, err := h.ledger.ListTransactionsForEntity(r.Context(), q)
	if err != nil {
		logging.FromContext(r.Context()).Warn("transaction listing failed", "entity_id", q.EntityID, "error", err)
		RespondDomainError(w, err)
		return
	}

	out := transactionPageDTO{
		Transactions: make([]transactionDTO, 0, len(page.Transactions)),
		Total:        page.Total,
		Limit:        page.Limit,
		Offset:       page.Offset,
	}
	for i := range page.Transactions {
		out.Transactions = append(out.Transactions, toTransactionDTO(&page.Transactions[i]))
	}
	RespondSuccess(w, http.StatusOK, out)
}

func queryInt(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
