// Package router wires up the gateway routes and applies the middleware
// chain (RequestID → CORS → Metrics).
package router

import (
	"net/http"
	"time"

	gwhandler "github.com/medisight/healthdata-platform/internal/gateway/handler"
	"github.com/medisight/healthdata-platform/internal/record"
	"github.com/medisight/healthdata-platform/pkg/health"
	"github.com/medisight/healthdata-platform/pkg/metrics"
	pkgmw "github.com/medisight/healthdata-platform/pkg/middleware"
)

// New builds the full gateway HTTP handler.
//
// Route table:
//
//	POST   /api/v1/batches/{kind}      → submit a JSON batch
//	POST   /api/v1/uploads/{kind}      → submit a CSV upload
//	GET    /api/v1/outcomes/{id}       → poll a retained batch outcome
//	GET    /api/v1/dashboard           → summary view
//	POST   /api/v1/patients            → create one record (same for visits,
//	                                     prescriptions)
//	GET    /api/v1/patients            → list records
//	GET    /api/v1/patients/{id}       → fetch one record
//	DELETE /api/v1/patients/{id}       → admin delete (dependency-checked)
//	GET    /health                     → liveness summary
//	GET    /health/live, /health/ready → probe endpoints
func New(h *gwhandler.Handler, checker *health.Checker, m *metrics.Metrics, summaryTimeout time.Duration) http.Handler {
	mux := http.NewServeMux()

	// Health (no middleware requirements beyond the chain)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	// Ingestion API
	mux.HandleFunc("POST /api/v1/batches/{kind}", h.SubmitBatch)
	mux.HandleFunc("POST /api/v1/uploads/{kind}", h.UploadCSV)
	mux.HandleFunc("GET /api/v1/outcomes/{id}", h.GetOutcome)

	// Dashboard API. The summary scans every stored record on a cache miss,
	// so it gets its own deadline; batch submissions manage their own.
	mux.Handle("GET /api/v1/dashboard",
		pkgmw.Timeout(summaryTimeout)(http.HandlerFunc(h.Dashboard)))

	// Record API, one route set per kind
	for _, kind := range record.Kinds {
		mux.HandleFunc("POST /api/v1/"+string(kind), h.CreateRecord(kind))
		mux.HandleFunc("GET /api/v1/"+string(kind), h.ListRecords(kind))
		mux.HandleFunc("GET /api/v1/"+string(kind)+"/{id}", h.GetRecord(kind))
		mux.HandleFunc("DELETE /api/v1/"+string(kind)+"/{id}", h.DeleteRecord(kind))
	}

	// Middleware chain — applied inside-out:
	// request → RequestID → CORS → Metrics → mux
	var chain http.Handler = mux
	if m != nil {
		chain = pkgmw.Metrics(m)(chain)
	}
	chain = pkgmw.CORS(pkgmw.DefaultCORSConfig())(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
