// Package middleware provides HTTP middleware for the forecast API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// HeaderRequestID is the correlation header honored on requests and echoed
// on every response.
const HeaderRequestID = "X-Request-Id"

type ctxKeyRequestID struct{}

// RequestID ensures every request carries a correlation ID. An incoming
// header value is kept as-is so IDs survive proxy hops; otherwise a fresh
// one is minted. The ID lands on the response header and in the request
// context for handlers and the access log.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set(HeaderRequestID, id)

		ctx := context.WithValue(r.Context(), ctxKeyRequestID{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// newRequestID mints a short prefixed ID: enough entropy for log
// correlation without a full UUID's bulk.
func newRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:22]
}

// GetRequestID returns the ID stored by RequestID, or "" when the
// middleware did not run.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return id
}
