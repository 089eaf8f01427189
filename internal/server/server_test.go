package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iwvelando/unwind-risk/internal/storage"
	"github.com/iwvelando/unwind-risk/pkg/constants"
	"go.uber.org/zap"
)

// smallConfigYAML keeps handler tests fast.
const smallConfigYAML = `
simulation:
  initialPositions: 10
  initialPrice: 100
  maxUnwindsPerTx: 3
  blockDurationSec: 0.4
  volatilityAnnual: 1.0
  congestionFailRate: 0.15
  networkFailRate: 0.05
  baseSlippage: 0.001
monteCarlo:
  runs: 50
  seed: 7
sensitivity:
  enabled: true
  thresholds: [0.10, 0.30]
  gridStartBps: 1
  gridEndBps: 50
  gridStepBps: 10
  sampleSize: 5
`

type assessResult struct {
	Assessment struct {
		ID    string `json:"id"`
		Stats struct {
			Runs       int     `json:"runs"`
			Seed       uint64  `json:"seed"`
			MeanBlocks float64 `json:"meanBlocks"`
		} `json:"stats"`
		Sensitivity *struct {
			Crossings []struct {
				Threshold float64 `json:"threshold"`
				Found     bool    `json:"found"`
			} `json:"crossings"`
		} `json:"sensitivity"`
	} `json:"assessment"`
	CSV        string                 `json:"csv"`
	Stored     bool                   `json:"stored"`
	Duration   string                 `json:"duration"`
	Config     map[string]interface{} `json:"config"`
	ConfigYAML string                 `json:"configYaml"`
}

func newTestHandler(t *testing.T, maxUpload int64, opts Options) http.Handler {
	t.Helper()
	return NewHandler(zap.NewNop(), maxUpload, "test", opts)
}

func TestHandleAssessSuccess(t *testing.T) {
	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{})

	configPath := filepath.Join("..", "..", "test", "test_config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read test config: %v", err)
	}

	rr := performUpload(t, handler, string(data), "test_config.yaml")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp assessResult
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Assessment.ID == "" {
		t.Fatal("expected assessment id in response")
	}
	if resp.Assessment.Stats.Runs != 500 {
		t.Fatalf("expected 500 runs, got %d", resp.Assessment.Stats.Runs)
	}
	if resp.Assessment.Stats.Seed != 42 {
		t.Fatalf("expected seed 42, got %d", resp.Assessment.Stats.Seed)
	}
	if resp.Assessment.Stats.MeanBlocks < 4 {
		t.Fatalf("mean blocks %v below the minimum of 4", resp.Assessment.Stats.MeanBlocks)
	}
	if resp.Assessment.Sensitivity == nil || len(resp.Assessment.Sensitivity.Crossings) != 2 {
		t.Fatal("expected two threshold crossings in response")
	}
	if !strings.Contains(resp.CSV, "mean_pct_loss") {
		t.Fatal("expected CSV data in response")
	}
	if resp.Stored {
		t.Fatal("nothing should be stored without a store")
	}
	if resp.Duration == "" {
		t.Fatal("expected duration in response")
	}
	if resp.Config == nil || resp.ConfigYAML == "" {
		t.Fatal("expected config data in response")
	}
}

func TestHandleAssessEditorSuccess(t *testing.T) {
	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{})

	payload := map[string]interface{}{
		"config": map[string]interface{}{
			"simulation": map[string]interface{}{
				"initialPositions": 6,
				"maxUnwindsPerTx":  3,
			},
			"monteCarlo": map[string]interface{}{
				"runs": 40,
				"seed": 11,
			},
			"sensitivity": map[string]interface{}{
				"enabled": false,
			},
		},
	}

	rr := performEditorJSON(t, handler, payload, "/api/editor/assess")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp assessResult
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Assessment.Stats.Runs != 40 {
		t.Fatalf("expected 40 runs, got %d", resp.Assessment.Stats.Runs)
	}
	if resp.Assessment.Sensitivity != nil {
		t.Fatal("sweep should be skipped when disabled")
	}
	if !strings.Contains(resp.ConfigYAML, "initialPositions: 6") {
		t.Fatalf("expected submitted config echoed as YAML, got %q", resp.ConfigYAML)
	}
}

func TestHandleAssessEditorInvalidPayload(t *testing.T) {
	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{})

	rr := performEditorJSON(t, handler, map[string]interface{}{"config": "nope"}, "/api/editor/assess")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/editor/assess", strings.NewReader("{"))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for malformed json, got %d", rr.Code)
	}
}

func TestHandleAssessInvalidConfig(t *testing.T) {
	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{})

	configYAML := `
simulation:
  congestionFailRate: 0.7
  networkFailRate: 0.5
monteCarlo:
  runs: 10
`
	rr := performUpload(t, handler, configYAML, "config.yaml")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if !strings.Contains(resp["error"], "combined fail rate") {
		t.Fatalf("expected fail rate error, got %q", resp["error"])
	}
}

func TestHandleAssessWorkloadLimit(t *testing.T) {
	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{MaxRuns: 100})

	rr := performUpload(t, handler, "monteCarlo:\n  runs: 101\nsensitivity:\n  enabled: false\n", "config.yaml")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "exceeds server limit") {
		t.Fatalf("expected limit error, got %s", rr.Body.String())
	}

	// Default sweep is 40 grid points x 200 samples.
	rr = performUpload(t, handler, "monteCarlo:\n  runs: 10\n", "config.yaml")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for oversized sweep, got %d", rr.Code)
	}
}

func TestHandleAssessRejectsHugeGridWithoutExpanding(t *testing.T) {
	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{})

	body := `
monteCarlo:
  runs: 10
sensitivity:
  enabled: true
  gridStartBps: 0
  gridEndBps: 2000000000
  gridStepBps: 1
  sampleSize: 1
`
	rr := performUpload(t, handler, body, "config.yaml")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "2000000000 samples") {
		t.Fatalf("expected sweep size in error, got %s", rr.Body.String())
	}
}

func TestHandleAssessRejectsExcessiveBlocks(t *testing.T) {
	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{})

	body := `
simulation:
  initialPositions: 2000000000
  maxUnwindsPerTx: 1
  maxTicks: 2100000000
monteCarlo:
  runs: 1
sensitivity:
  enabled: false
`
	rr := performUpload(t, handler, body, "config.yaml")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "simulated blocks exceeds server limit") {
		t.Fatalf("expected block limit error, got %s", rr.Body.String())
	}

	small := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{MaxBlocks: 100})
	rr = performUpload(t, small, smallConfigYAML, "config.yaml")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 under a tight block cap, got %d", rr.Code)
	}
}

func TestHandleAssessRejectsNaNRates(t *testing.T) {
	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{})

	body := strings.Replace(smallConfigYAML, "congestionFailRate: 0.15", "congestionFailRate: .nan", 1)
	rr := performUpload(t, handler, body, "config.yaml")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "congestion fail rate") {
		t.Fatalf("expected fail rate error, got %s", rr.Body.String())
	}
}

func TestHandleAssessRateLimited(t *testing.T) {
	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{RequestsPerSecond: 0.001, Burst: 1})

	first := performUpload(t, handler, smallConfigYAML, "config.yaml")
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d: %s", first.Code, first.Body.String())
	}

	second := performUpload(t, handler, smallConfigYAML, "config.yaml")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestHandleAssessStoresAndListsHistory(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{Store: store})

	rr := performUpload(t, handler, smallConfigYAML, "config.yaml")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp assessResult
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Stored {
		t.Fatal("expected assessment to be stored")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/history?limit=5", nil)
	hr := httptest.NewRecorder()
	handler.ServeHTTP(hr, req)
	if hr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", hr.Code, hr.Body.String())
	}
	var history struct {
		Assessments []storage.Summary `json:"assessments"`
	}
	if err := json.Unmarshal(hr.Body.Bytes(), &history); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(history.Assessments) != 1 || history.Assessments[0].ID != resp.Assessment.ID {
		t.Fatalf("unexpected history %+v", history.Assessments)
	}
	if len(history.Assessments[0].Crossings) != 2 {
		t.Fatalf("expected crossings in history, got %+v", history.Assessments[0].Crossings)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/history?id="+resp.Assessment.ID, nil)
	hr = httptest.NewRecorder()
	handler.ServeHTTP(hr, req)
	if hr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for id lookup, got %d", hr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/history?id=missing", nil)
	hr = httptest.NewRecorder()
	handler.ServeHTTP(hr, req)
	if hr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown id, got %d", hr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/history?limit=zero", nil)
	hr = httptest.NewRecorder()
	handler.ServeHTTP(hr, req)
	if hr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad limit, got %d", hr.Code)
	}
}

func TestHandleHistoryDisabled(t *testing.T) {
	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestHandleConfigExport(t *testing.T) {
	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{})

	payload := map[string]interface{}{
		"output": map[string]interface{}{
			"format": "pretty",
		},
		"zeta": map[string]interface{}{
			"extra": true,
		},
		"monteCarlo": map[string]interface{}{
			"runs": 1000,
		},
		"simulation": map[string]interface{}{
			"initialPositions": 10,
		},
	}

	rr := performEditorJSON(t, handler, payload, "/api/editor/export")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	yamlStr := resp["configYaml"]
	if yamlStr == "" {
		t.Fatal("expected configYaml in response")
	}

	var topLevel []string
	for _, line := range strings.Split(strings.TrimRight(yamlStr, "\n"), "\n") {
		if line == "" || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			continue
		}
		topLevel = append(topLevel, strings.TrimSuffix(strings.TrimSpace(line), ":"))
	}

	want := []string{"simulation", "monteCarlo", "output", "zeta"}
	if strings.Join(topLevel, ",") != strings.Join(want, ",") {
		t.Fatalf("expected key order %v, got %v", want, topLevel)
	}
}

func TestHandleAssessMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{})

	for _, path := range []string{"/api/assess", "/api/editor/assess", "/api/editor/export"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected status 405, got %d", path, rr.Code)
		}
	}
}

func TestHandleAssessUploadTooLarge(t *testing.T) {
	handler := newTestHandler(t, 64, Options{})

	rr := performUpload(t, handler, strings.Repeat("a", 128), "config.yaml")
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rr.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if !strings.Contains(resp["error"], "upload exceeds limit") {
		t.Fatalf("expected upload limit error message, got %q", resp["error"])
	}
}

func TestHandleAssessMissingFile(t *testing.T) {
	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/assess", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp["error"] != "missing configuration file" {
		t.Fatalf("expected missing file error, got %q", resp["error"])
	}
}

func TestHandleAssessInvalidYAML(t *testing.T) {
	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{})

	rr := performUpload(t, handler, "simulation: [", "config.yaml")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if !strings.Contains(resp["error"], "error reading config data") {
		t.Fatalf("expected parse error message, got %q", resp["error"])
	}
}

func TestHandleVersion(t *testing.T) {
	handler := NewHandler(nil, 0, "  ", Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["version"] != "dev" {
		t.Fatalf("expected blank version to fall back to dev, got %q", resp["version"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{})

	if rr := performUpload(t, handler, smallConfigYAML, "config.yaml"); rr.Code != http.StatusOK {
		t.Fatalf("assessment failed: %d %s", rr.Code, rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "unwind_sim_runs_total") {
		t.Fatalf("expected run counter in metrics output")
	}
}

func TestStaticAssetsServed(t *testing.T) {
	handler := newTestHandler(t, constants.DefaultMaxUploadSizeBytes, Options{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for index, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Liquidation unwind risk") {
		t.Fatalf("expected HTML body to contain title, got %q", rr.Body.String())
	}
}

func performUpload(t *testing.T, handler http.Handler, content, filename string) *httptest.ResponseRecorder {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("failed to write form data: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/assess", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	return rr
}

func performEditorJSON(t *testing.T, handler http.Handler, payload map[string]interface{}, path string) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	return rr
}
