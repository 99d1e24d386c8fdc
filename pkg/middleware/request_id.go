package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/reviewlens/reviewlens/pkg/requestid"
)

// RequestID takes the request ID from the x-request-id header, or from chi's
// own middleware when present, or generates one, and injects it into the
// request context so every layer logs the same ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("x-request-id")

		if requestID == "" {
			requestID = middleware.GetReqID(r.Context())
		}

		if requestID == "" {
			requestID = requestid.Generate()
		}

		ctx := requestid.ToContext(r.Context(), requestID)
		w.Header().Set("x-request-id", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
