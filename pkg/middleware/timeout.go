package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Timeout bounds a handler to the given duration. If the handler has not
// started writing when the deadline hits, the client gets a 504; if it has,
// the response is left to finish to avoid interleaved writes.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			gw := &guardedWriter{ResponseWriter: w}
			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(gw, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if gw.started.Load() {
					return
				}
				slog.Warn("request timed out",
					"method", r.Method, "path", r.URL.Path, "timeout", d)
				http.Error(w, `{"error":"request timeout"}`, http.StatusGatewayTimeout)
			}
		})
	}
}

type guardedWriter struct {
	http.ResponseWriter
	started atomic.Bool
}

func (g *guardedWriter) WriteHeader(code int) {
	g.started.Store(true)
	g.ResponseWriter.WriteHeader(code)
}

func (g *guardedWriter) Write(b []byte) (int, error) {
	g.started.Store(true)
	return g.ResponseWriter.Write(b)
}
