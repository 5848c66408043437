package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orionsec/ad-guardian/internal/alertstore"
	"github.com/orionsec/ad-guardian/internal/config"
	"github.com/orionsec/ad-guardian/internal/orchestrator"
	"github.com/orionsec/ad-guardian/internal/types"
)

func testServer(t *testing.T, apiKey string) (*Server, *alertstore.Store) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := config.Default()
	cfg.APIKey = apiKey
	store := alertstore.New(cfg.Alerts.Capacity, log)
	orch := orchestrator.New(cfg, log, nil, nil, nil, store, nil)
	return New(cfg, orch, store, log), store
}

func doRequest(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t, "")
	rec := doRequest(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestIngest_Accepted(t *testing.T) {
	s, _ := testServer(t, "")
	payload := `{"event_type":"ad_logon","severity":"info","confidence":1.0,"user_context":{"username":"john.doe"}}`
	rec := doRequest(t, s, http.MethodPost, "/api/v1/events", payload)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "accepted" || body["event_id"] == "" {
		t.Errorf("body = %v, want accepted with event id", body)
	}
}

func TestIngest_InvalidJSON(t *testing.T) {
	s, _ := testServer(t, "")
	rec := doRequest(t, s, http.MethodPost, "/api/v1/events", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestIngest_InvalidConfidence(t *testing.T) {
	s, _ := testServer(t, "")
	payload := `{"event_type":"ad_logon","severity":"info","confidence":3.0}`
	rec := doRequest(t, s, http.MethodPost, "/api/v1/events", payload)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAlerts_QueryAndFilters(t *testing.T) {
	s, store := testServer(t, "")
	store.Record(&types.Alert{Source: "decoy", Severity: types.SeverityCritical, Timestamp: time.Now().Add(-time.Minute)})
	store.Record(&types.Alert{Source: "risk", Severity: types.SeverityError, Timestamp: time.Now()})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/alerts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Alerts []types.Alert `json:"alerts"`
		Total  int           `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Total != 2 {
		t.Errorf("total = %d, want 2", body.Total)
	}
	if body.Alerts[0].Source != "risk" {
		t.Errorf("first alert source = %q, want newest first", body.Alerts[0].Source)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/alerts?severity=critical", "")
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 || body.Alerts[0].Severity != types.SeverityCritical {
		t.Errorf("severity filter returned %+v", body)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/alerts?limit=1", "")
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 {
		t.Errorf("limit filter returned %d alerts", body.Total)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/alerts?limit=nope", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", rec.Code)
	}
}

func TestAlertLifecycleEndpoints(t *testing.T) {
	s, store := testServer(t, "")
	id := store.Record(&types.Alert{Source: "risk", Severity: types.SeverityError})

	rec := doRequest(t, s, http.MethodPost, "/api/v1/alerts/"+id+"/read", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read status = %d, want 200", rec.Code)
	}
	a, _ := store.Get(id)
	if a.Status != types.AlertRead {
		t.Errorf("alert status = %s, want read", a.Status)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/alerts/"+id+"/remediate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("remediate status = %d, want 200", rec.Code)
	}
	a, _ = store.Get(id)
	if a.Status != types.AlertRemediated {
		t.Errorf("alert status = %s, want remediated", a.Status)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/alerts/unknown-id/read", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown alert: status = %d, want 404", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	s, _ := testServer(t, "sekrit")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/alerts", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid key: status = %d, want 200", rec.Code)
	}

	// Health stays open.
	rec = doRequest(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("health with auth enabled: status = %d, want 200", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := testServer(t, "")
	rec := doRequest(t, s, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body types.OrchestratorStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Running {
		t.Error("orchestrator was never started, should not report running")
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	s, store := testServer(t, "")
	store.Record(&types.Alert{Severity: types.SeverityCritical, User: "admin"})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/statistics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats alertstore.Statistics
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("total = %d, want 1", stats.Total)
	}
}

func TestExport_JSONAndCSV(t *testing.T) {
	s, store := testServer(t, "")
	store.Record(&types.Alert{
		Source:        "decoy",
		Severity:      types.SeverityCritical,
		RiskLevel:     types.RiskCritical,
		Score:         1.0,
		User:          "svc_decoy_backup",
		Justification: "decoy interaction",
	})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/export/alerts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("json export status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("json export content type = %q", ct)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/export/alerts?format=csv", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("csv export status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("csv export content type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d, want header plus one row", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,timestamp,source") {
		t.Errorf("csv header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "svc_decoy_backup") {
		t.Errorf("csv row = %q, want the alert user present", lines[1])
	}
}
