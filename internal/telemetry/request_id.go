package telemetry

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/italolelis/content_companion/internal/logctx"
)

const RequestIDHeader = "X-Request-ID"

// RequestID middleware reuses an incoming X-Request-ID or generates one, echoes it
// in the response and stores it in the context, where the api client forwards it
// to the backend.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(logctx.WithRequestID(r.Context(), requestID)))
	})
}

// GetRequestID retrieves the request_id from context.
func GetRequestID(ctx context.Context) string {
	return logctx.RequestIDFromContext(ctx)
}
