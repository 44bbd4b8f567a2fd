package httpmiddleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128
)

// RequestIDFromContext returns the request ID stored by RequestID, or "".
// The value shares chi's context key, so middleware.GetReqID sees it too.
func RequestIDFromContext(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// RequestID tags every request with an ID echoed in X-Request-ID. A well-formed
// incoming header is kept so IDs from an upstream proxy survive; otherwise a
// time-ordered UUIDv7 is generated.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if !printableASCII(id, maxRequestIDLen) {
				id = newRequestID()
			}
			w.Header().Set(requestIDHeader, id)

			ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// printableASCII reports whether s is non-empty, at most limit bytes and
// made of bytes in 0x20-0x7E.
func printableASCII(s string, limit int) bool {
	if s == "" || len(s) > limit {
		return false
	}
	for i := range len(s) {
		if s[i] < 0x20 || s[i] > 0x7E {
			return false
		}
	}
	return true
}
