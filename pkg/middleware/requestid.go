package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/medisight/healthdata-platform/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns every request an identifier, propagates it through the
// request context for log correlation, and echoes it in the response. A
// caller-supplied X-Request-ID is honoured so multi-hop traces line up.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := logger.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}
