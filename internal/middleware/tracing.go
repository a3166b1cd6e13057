package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/events"
)

const traceIDHeader = "X-Request-ID"

// Tracing takes the trace id from X-Request-ID, or mints one, and stores it
// where events.New picks it up.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceIDHeader)
		if traceID == "" || len(traceID) > 128 {
			traceID = uuid.New().String()
		}

		w.Header().Set(traceIDHeader, traceID)
		ctx := events.WithTraceID(r.Context(), traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
