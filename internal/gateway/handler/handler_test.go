package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/medisight/healthdata-platform/internal/gateway/handler"
	"github.com/medisight/healthdata-platform/internal/gateway/router"
	"github.com/medisight/healthdata-platform/internal/ingest"
	"github.com/medisight/healthdata-platform/internal/record"
	"github.com/medisight/healthdata-platform/internal/resolve"
	"github.com/medisight/healthdata-platform/internal/store"
	"github.com/medisight/healthdata-platform/internal/summary"
	"github.com/medisight/healthdata-platform/pkg/health"
)

// newTestServer wires a gateway around the in-memory store, the way the
// service assembles it minus Postgres, Redis, and Kafka.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	s := store.NewMemory()
	outcomes := ingest.NewMemoryOutcomes(time.Minute)
	coordinator := ingest.New(s, resolve.New(s), outcomes, nil, nil)
	engine := summary.NewEngine(s, 30*24*time.Hour, nil)
	summarizer := summary.NewCached(engine, nil, time.Millisecond, nil)

	h := handler.New(handler.Config{MaxRows: 100, BatchTimeout: 10 * time.Second}, coordinator, outcomes, summarizer, s)
	srv := httptest.NewServer(router.New(h, health.NewChecker(), nil, 5*time.Second))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeOutcome(t *testing.T, resp *http.Response) ingest.BatchOutcome {
	t.Helper()
	var out ingest.BatchOutcome
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding outcome: %v", err)
	}
	return out
}

func patientBody(id string, age any) map[string]any {
	return map[string]any{
		"patient_id": id,
		"age":        age,
		"gender":     "Female",
		"location":   "Springfield",
	}
}

func TestSubmitBatchPartialSuccess(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/batches/patients", map[string]any{
		"rows": []map[string]any{
			patientBody("P001", "abc"),
			patientBody("P002", 34),
			patientBody("P003", 58),
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	out := decodeOutcome(t, resp)
	if out.Total != 3 || out.Accepted != 2 || out.Rejected != 1 {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if len(out.Rejections) != 1 || out.Rejections[0].Reason != "age: not numeric" {
		t.Errorf("unexpected rejections: %+v", out.Rejections)
	}
}

func TestSubmitBatchValidation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown kind", "/api/v1/batches/labs", `{"rows":[{}]}`, http.StatusNotFound},
		{"empty rows", "/api/v1/batches/patients", `{"rows":[]}`, http.StatusBadRequest},
		{"malformed json", "/api/v1/batches/patients", `{"rows":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+tt.path, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestSubmitBatchTooManyRows(t *testing.T) {
	srv := newTestServer(t)

	rows := make([]map[string]any, 101)
	for i := range rows {
		rows[i] = patientBody(fmt.Sprintf("P%03d", i), 30)
	}
	resp := postJSON(t, srv.URL+"/api/v1/batches/patients", map[string]any{"rows": rows})
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", resp.StatusCode)
	}
}

func TestUploadCSV(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "patients.csv")
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	fmt.Fprint(fw, "patient_id,age,gender,location\nP001,34,Female,Springfield\nP002,oops,Male,Shelbyville\n")
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/v1/uploads/patients", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	out := decodeOutcome(t, resp)
	if out.Total != 2 || out.Accepted != 1 || out.Rejected != 1 {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestOutcomePolling(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/batches/patients", map[string]any{
		"rows": []map[string]any{patientBody("P001", 34)},
	})
	out := decodeOutcome(t, resp)

	polled, err := http.Get(srv.URL + "/api/v1/outcomes/" + out.OutcomeID)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	defer polled.Body.Close()
	if polled.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", polled.StatusCode)
	}

	missing, err := http.Get(srv.URL + "/api/v1/outcomes/does-not-exist")
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", missing.StatusCode)
	}
}

func TestRecordLifecycle(t *testing.T) {
	srv := newTestServer(t)

	// Create
	resp := postJSON(t, srv.URL+"/api/v1/patients", patientBody("P001", 34))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	// Duplicate create conflicts
	resp = postJSON(t, srv.URL+"/api/v1/patients", patientBody("P001", 34))
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", resp.StatusCode)
	}

	// Fetch
	got, err := http.Get(srv.URL + "/api/v1/patients/P001")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	defer got.Body.Close()
	if got.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", got.StatusCode)
	}
	var p record.Patient
	if err := json.NewDecoder(got.Body).Decode(&p); err != nil {
		t.Fatalf("decoding patient: %v", err)
	}
	if p.PatientID != "P001" || p.Age != 34 {
		t.Errorf("unexpected patient: %+v", p)
	}

	// A visit referencing the patient blocks deletion.
	resp = postJSON(t, srv.URL+"/api/v1/visits", map[string]any{
		"visit_id": "V001", "patient_id": "P001",
		"visit_date": "2024-05-01", "diagnosis_code": "J45",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for visit, got %d", resp.StatusCode)
	}

	del, err := deleteRequest(srv.URL + "/api/v1/patients/P001")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if del.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 while dependents exist, got %d", del.StatusCode)
	}

	// Bottom-up deletion succeeds.
	if del, err = deleteRequest(srv.URL + "/api/v1/visits/V001"); err != nil || del.StatusCode != http.StatusNoContent {
		t.Fatalf("visit delete: %v status %d", err, del.StatusCode)
	}
	if del, err = deleteRequest(srv.URL + "/api/v1/patients/P001"); err != nil || del.StatusCode != http.StatusNoContent {
		t.Fatalf("patient delete: %v status %d", err, del.StatusCode)
	}
}

func TestCreateVisitUnknownPatient(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/visits", map[string]any{
		"visit_id": "V001", "patient_id": "P404",
		"visit_date": "2024-05-01", "diagnosis_code": "J45",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", resp.StatusCode)
	}
}

func TestListRecords(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 5; i++ {
		resp := postJSON(t, srv.URL+"/api/v1/patients", patientBody(fmt.Sprintf("P%03d", i), 30))
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("seed create failed: %d", resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/api/v1/patients?limit=3")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Count int               `json:"count"`
		Items []json.RawMessage `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if body.Count != 3 || len(body.Items) != 3 {
		t.Errorf("expected 3 items, got %+v", body.Count)
	}
}

func TestDashboard(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/batches/patients", map[string]any{
		"rows": []map[string]any{
			patientBody("P001", 10),
			patientBody("P002", 40),
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seed batch failed: %d", resp.StatusCode)
	}

	dash, err := http.Get(srv.URL + "/api/v1/dashboard")
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	defer dash.Body.Close()
	if dash.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", dash.StatusCode)
	}

	var view summary.View
	if err := json.NewDecoder(dash.Body).Decode(&view); err != nil {
		t.Fatalf("decoding view: %v", err)
	}
	if view.Summary.TotalPatients != 2 {
		t.Errorf("expected 2 patients, got %d", view.Summary.TotalPatients)
	}

	bad, err := http.Get(srv.URL + "/api/v1/dashboard?from=not-a-date")
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad range, got %d", bad.StatusCode)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest("GET", srv.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "test-request-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "test-request-1" {
		t.Errorf("expected request id echoed, got %q", got)
	}
}

func deleteRequest(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return resp, nil
}
