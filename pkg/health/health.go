// Package health aggregates dependency probes (store, Redis, Kafka) into a
// single report served on the liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status is the health state of one dependency or of the whole service.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check probes a single dependency.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth is the outcome of one probe.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report aggregates every registered probe. Status is the worst component
// status: any down dependency makes the service down.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Checker holds named probes and runs them in parallel on demand.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
}

func NewChecker() *Checker {
	return &Checker{checks: make(map[string]Check)}
}

// Register adds a probe under the given name, replacing any previous one.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

type probeResult struct {
	name   string
	health ComponentHealth
}

// Run executes every registered probe concurrently and aggregates the
// results.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	probes := make([]Check, 0, len(c.checks))
	for name, check := range c.checks {
		names = append(names, name)
		probes = append(probes, check)
	}
	c.mu.RUnlock()

	results := make(chan probeResult, len(probes))
	for i, probe := range probes {
		go func(name string, check Check) {
			start := time.Now()
			h := check(ctx)
			h.Latency = time.Since(start).Round(time.Millisecond).String()
			results <- probeResult{name: name, health: h}
		}(names[i], probe)
	}

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(probes)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for range probes {
		r := <-results
		report.Components[r.name] = r.health
		switch r.health.Status {
		case StatusDown:
			report.Status = StatusDown
		case StatusDegraded:
			if report.Status == StatusUp {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

// LiveHandler answers liveness probes. It only proves the process is
// serving; dependency state is the readiness probe's job.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// ReadyHandler runs every probe and answers 503 unless all dependencies
// are up.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status != StatusUp {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	}
}
