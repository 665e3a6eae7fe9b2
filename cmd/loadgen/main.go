// Command loadgen generates synthetic patient, visit, and prescription
// batches and submits them to a running gateway, reporting throughput,
// latency percentiles, and row acceptance rates. A configurable fraction of
// rows is deliberately malformed to exercise the rejection path.
//
// Usage:
//
//	go run ./cmd/loadgen -base-url http://localhost:8080 -duration 30s
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type runConfig struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	BatchSize   int
	BadFraction float64
}

type stats struct {
	batches      atomic.Int64
	httpErrors   atomic.Int64
	rowsAccepted atomic.Int64
	rowsRejected atomic.Int64
	latencies    []time.Duration
	latenciesMu  sync.Mutex
}

func (s *stats) record(latency time.Duration, outcome *batchOutcome, err error) {
	s.batches.Add(1)
	if err != nil {
		s.httpErrors.Add(1)
		return
	}
	s.rowsAccepted.Add(int64(outcome.Accepted))
	s.rowsRejected.Add(int64(outcome.Rejected))
	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, latency)
	s.latenciesMu.Unlock()
}

type batchOutcome struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

func main() {
	cfg := runConfig{}
	flag.StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "gateway base URL")
	flag.IntVar(&cfg.Concurrency, "concurrency", 4, "concurrent submitters")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "test duration")
	flag.IntVar(&cfg.BatchSize, "batch-size", 100, "rows per batch")
	flag.Float64Var(&cfg.BadFraction, "bad-fraction", 0.1, "fraction of malformed rows")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	s := &stats{latencies: make([]time.Duration, 0, 100000)}
	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)))
			client := &http.Client{Timeout: 60 * time.Second}
			for ctx.Err() == nil {
				submitBatch(ctx, client, cfg, rng, worker, s)
			}
		}(w)
	}
	wg.Wait()

	report(cfg, s)
}

func submitBatch(ctx context.Context, client *http.Client, cfg runConfig, rng *rand.Rand, worker int, s *stats) {
	rows := make([]map[string]any, 0, cfg.BatchSize)
	for i := 0; i < cfg.BatchSize; i++ {
		rows = append(rows, patientRow(rng, worker, cfg.BadFraction))
	}
	body, err := json.Marshal(map[string]any{"rows": rows})
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshaling batch: %v\n", err)
		return
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		cfg.BaseURL+"/api/v1/batches/patients", bytes.NewReader(body))
	if err != nil {
		s.record(0, nil, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			s.record(0, nil, err)
		}
		return
	}
	defer resp.Body.Close()

	var outcome batchOutcome
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&outcome); err != nil {
		s.record(0, nil, err)
		return
	}
	s.record(time.Since(start), &outcome, nil)
}

// patientRow builds one synthetic patient. badFraction of the rows get a
// non-numeric age so the rejection path sees real traffic too.
func patientRow(rng *rand.Rand, worker int, badFraction float64) map[string]any {
	genders := []string{"Male", "Female", "Other"}
	row := map[string]any{
		"patient_id": fmt.Sprintf("LG-%d-%d", worker, rng.Int63()),
		"age":        fmt.Sprintf("%d", rng.Intn(95)),
		"gender":     genders[rng.Intn(len(genders))],
		"location":   fmt.Sprintf("City-%d", rng.Intn(50)),
	}
	if rng.Float64() < badFraction {
		row["age"] = "not-a-number"
	}
	return row
}

func report(cfg runConfig, s *stats) {
	s.latenciesMu.Lock()
	latencies := s.latencies
	s.latenciesMu.Unlock()
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	fmt.Printf("\nLoad test finished (%s, %d workers, batch size %d)\n",
		cfg.Duration, cfg.Concurrency, cfg.BatchSize)
	fmt.Printf("  batches:       %d (%d http errors)\n", s.batches.Load(), s.httpErrors.Load())
	fmt.Printf("  rows accepted: %d\n", s.rowsAccepted.Load())
	fmt.Printf("  rows rejected: %d\n", s.rowsRejected.Load())
	if len(latencies) > 0 {
		fmt.Printf("  latency p50:   %v\n", percentile(latencies, 50))
		fmt.Printf("  latency p95:   %v\n", percentile(latencies, 95))
		fmt.Printf("  latency p99:   %v\n", percentile(latencies, 99))
	}
}

func percentile(sorted []time.Duration, pct int) time.Duration {
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
