package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/iwvelando/unwind-risk/internal/config"
	"github.com/iwvelando/unwind-risk/internal/risk"
	"github.com/iwvelando/unwind-risk/internal/storage"
	"github.com/iwvelando/unwind-risk/pkg/constants"
	"github.com/iwvelando/unwind-risk/pkg/output"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

//go:embed static/*
var staticFiles embed.FS

// Store persists assessment summaries. *storage.SQLiteStorage satisfies it.
type Store interface {
	SaveAssessment(ctx context.Context, a *risk.Assessment) error
	GetAssessment(ctx context.Context, id string) (*storage.Summary, error)
	History(ctx context.Context, limit int) ([]storage.Summary, error)
}

// Options tunes the handler. Zero values select the server defaults.
type Options struct {
	Store             Store
	MaxRuns           int
	MaxBlocks         int
	RequestsPerSecond float64
	Burst             int
}

type handler struct {
	logger        *zap.Logger
	maxUploadSize int64
	version       string
	store         Store
	limiter       *rate.Limiter
	maxRuns       int
	maxBlocks     int
}

// NewHandler constructs the HTTP handler that serves the web UI, the
// assessment API and the Prometheus metrics.
func NewHandler(logger *zap.Logger, maxUploadSize int64, version string, opts Options) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	if maxUploadSize <= 0 {
		maxUploadSize = constants.DefaultMaxUploadSizeBytes
	}

	trimmedVersion := strings.TrimSpace(version)
	if trimmedVersion == "" {
		trimmedVersion = "dev"
	}

	if opts.MaxRuns <= 0 {
		opts.MaxRuns = constants.DefaultMaxServerRuns
	}
	if opts.MaxBlocks <= 0 {
		opts.MaxBlocks = constants.DefaultMaxServerBlocks
	}
	if opts.Burst <= 0 {
		opts.Burst = constants.DefaultRequestBurst
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	h := &handler{
		logger:        logger,
		maxUploadSize: maxUploadSize,
		version:       trimmedVersion,
		store:         opts.Store,
		limiter:       rate.NewLimiter(limit, opts.Burst),
		maxRuns:       opts.MaxRuns,
		maxBlocks:     opts.MaxBlocks,
	}

	mux := http.NewServeMux()

	// Assessment API endpoint (file upload)
	mux.HandleFunc("/api/assess", h.rateLimited(h.handleAssess))

	// Assessment API endpoint for editor-driven updates
	mux.HandleFunc("/api/editor/assess", h.rateLimited(h.handleAssessEditor))

	// Config serialization endpoint for editor downloads
	mux.HandleFunc("/api/editor/export", h.handleConfigExport)

	// Stored assessment summaries
	mux.HandleFunc("/api/history", h.handleHistory)

	// Version endpoint for UI metadata
	mux.HandleFunc("/api/version", h.handleVersion)

	mux.Handle("/metrics", promhttp.Handler())

	// Static assets (web UI)
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(fmt.Sprintf("failed to prepare embedded static files: %v", err))
	}
	fileServer := http.FileServer(http.FS(sub))
	mux.Handle("/", fileServer)

	return mux
}

type assessResponse struct {
	Assessment *risk.Assessment       `json:"assessment"`
	CSV        string                 `json:"csv"`
	Warnings   []string               `json:"warnings,omitempty"`
	Stored     bool                   `json:"stored"`
	Duration   string                 `json:"duration"`
	Config     map[string]interface{} `json:"config,omitempty"`
	ConfigYAML string                 `json:"configYaml,omitempty"`
}

func (h *handler) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			h.respondErrorWithOp(w, http.StatusTooManyRequests, "too many assessment requests, retry shortly", "server.rateLimited")
			return
		}
		next(w, r)
	}
}

func (h *handler) handleAssess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds limit of %d bytes", h.maxUploadSize))
			return
		}
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse upload: %v", err))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "missing configuration file")
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			h.logger.Warn("failed to close uploaded file",
				zap.String("op", "server.handleAssess"),
				zap.Error(closeErr),
			)
		}
	}()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read configuration: %v", err))
		return
	}

	configBytes := buf.Bytes()
	configMap, err := decodeYAMLToMap(configBytes)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("error reading config data, %v", err))
		return
	}

	h.runAssessment(w, r, configBytes, configMap, start, "server.handleAssess")
}

func (h *handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"version": h.version,
	})
}

func (h *handler) handleAssessEditor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to decode configuration: %v", err), "server.handleAssessEditor")
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}

	configPayload := payload
	if rawConfig, ok := payload["config"]; ok {
		cfgMap, ok := rawConfig.(map[string]interface{})
		if !ok {
			h.respondErrorWithOp(w, http.StatusBadRequest, "invalid config payload: expected object", "server.handleAssessEditor")
			return
		}
		configPayload = cfgMap
	}

	configBytes, err := yaml.Marshal(configPayload)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to encode configuration: %v", err), "server.handleAssessEditor")
		return
	}

	configMap, err := decodeYAMLToMap(configBytes)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to parse configuration: %v", err), "server.handleAssessEditor")
		return
	}

	h.runAssessment(w, r, configBytes, configMap, start, "server.handleAssessEditor")
}

func (h *handler) handleConfigExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to decode configuration: %v", err), "server.handleConfigExport")
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}

	yamlBytes, err := marshalOrderedConfigYAML(payload)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to encode configuration: %v", err), "server.handleConfigExport")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"configYaml": string(yamlBytes),
	})
}

func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if h.store == nil {
		h.respondErrorWithOp(w, http.StatusNotFound, "assessment history is not enabled", "server.handleHistory")
		return
	}

	if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
		summary, err := h.store.GetAssessment(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			h.respondErrorWithOp(w, http.StatusNotFound, err.Error(), "server.handleHistory")
			return
		}
		if err != nil {
			h.respondErrorWithOp(w, http.StatusInternalServerError, err.Error(), "server.handleHistory")
			return
		}
		h.writeJSON(w, http.StatusOK, summary)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw), "server.handleHistory")
			return
		}
		limit = parsed
	}

	summaries, err := h.store.History(r.Context(), limit)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusInternalServerError, err.Error(), "server.handleHistory")
		return
	}
	if summaries == nil {
		summaries = []storage.Summary{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"assessments": summaries,
	})
}

// configKeyOrder is the section order of exported configuration files.
var configKeyOrder = []string{"simulation", "monteCarlo", "sensitivity", "storage", "logging", "output"}

func marshalOrderedConfigYAML(payload map[string]interface{}) ([]byte, error) {
	items := make([]orderedItem, 0, len(payload))
	seen := make(map[string]struct{})

	for _, key := range configKeyOrder {
		if value, ok := payload[key]; ok {
			items = append(items, orderedItem{key: key, value: value})
			seen[key] = struct{}{}
		}
	}

	remainingKeys := make([]string, 0, len(payload))
	for key := range payload {
		if _, already := seen[key]; already {
			continue
		}
		remainingKeys = append(remainingKeys, key)
	}
	sort.Strings(remainingKeys)
	for _, key := range remainingKeys {
		items = append(items, orderedItem{key: key, value: payload[key]})
	}

	ordered := orderedConfig{items: items}
	return yaml.Marshal(ordered)
}

type orderedConfig struct {
	items []orderedItem
}

type orderedItem struct {
	key   string
	value interface{}
}

func (o orderedConfig) MarshalYAML() (interface{}, error) {
	mapNode := &yaml.Node{
		Kind: yaml.MappingNode,
		Tag:  "!!map",
	}

	for _, item := range o.items {
		keyNode := &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Value: item.key,
		}
		valueNode := &yaml.Node{}
		if err := valueNode.Encode(item.value); err != nil {
			return nil, err
		}
		mapNode.Content = append(mapNode.Content, keyNode, valueNode)
	}

	return mapNode, nil
}

func (h *handler) runAssessment(w http.ResponseWriter, r *http.Request, configBytes []byte, configMap map[string]interface{}, start time.Time, op string) {
	cfg, err := config.LoadConfigurationFromReader(bytes.NewReader(configBytes))
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}

	if err := cfg.Validate(); err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}

	if err := h.checkWorkload(cfg); err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}

	assessment, err := risk.Assess(r.Context(), h.logger, *cfg)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrInvalidConfig) {
			status = http.StatusBadRequest
		}
		h.respondErrorWithOp(w, status, fmt.Sprintf("failed to compute assessment: %v", err), op)
		return
	}

	stored := false
	if h.store != nil {
		if err := h.store.SaveAssessment(r.Context(), assessment); err != nil {
			h.logger.Warn("failed to store assessment",
				zap.String("op", op),
				zap.String("id", assessment.ID),
				zap.Error(err),
			)
		} else {
			stored = true
		}
	}

	var csvBuf bytes.Buffer
	if err := output.CsvFormat(&csvBuf, assessment); err != nil {
		h.logger.Warn("failed to render csv",
			zap.String("op", op),
			zap.Error(err),
		)
	}

	if configMap == nil {
		configMap = make(map[string]interface{})
	}

	elapsed := time.Since(start)
	response := assessResponse{
		Assessment: assessment,
		CSV:        csvBuf.String(),
		Warnings:   assessment.Warnings,
		Stored:     stored,
		Duration:   elapsed.String(),
		Config:     configMap,
		ConfigYAML: string(configBytes),
	}

	h.logger.Info("assessment computed",
		zap.String("op", op),
		zap.String("id", assessment.ID),
		zap.Int("runs", assessment.Stats.Runs),
		zap.Bool("stored", stored),
		zap.Duration("duration", elapsed),
	)

	h.writeJSON(w, http.StatusOK, response)
}

// checkWorkload rejects a validated configuration whose run count or
// estimated simulated blocks exceed the server caps.
func (h *handler) checkWorkload(cfg *config.Configuration) error {
	if cfg.MonteCarlo.Runs > h.maxRuns {
		return fmt.Errorf("monteCarlo.runs %d exceeds server limit of %d", cfg.MonteCarlo.Runs, h.maxRuns)
	}
	runs := float64(cfg.MonteCarlo.Runs)
	if cfg.Sensitivity.Enabled {
		samples := float64(cfg.Grid().Points()) * float64(cfg.Sensitivity.SampleSize)
		if samples > float64(h.maxRuns) {
			return fmt.Errorf("sensitivity sweep of %.0f samples exceeds server limit of %d", samples, h.maxRuns)
		}
		runs += samples
	}
	if blocks := runs * cfg.Params().ExpectedBlocks(); blocks > float64(h.maxBlocks) {
		return fmt.Errorf("estimated %.0f simulated blocks exceeds server limit of %d", blocks, h.maxBlocks)
	}
	return nil
}

func decodeYAMLToMap(data []byte) (map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return make(map[string]interface{}), nil
	}

	var result map[string]interface{}
	if err := yaml.Unmarshal(trimmed, &result); err != nil {
		return nil, err
	}
	if result == nil {
		result = make(map[string]interface{})
	}
	return result, nil
}

func (h *handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondErrorWithOp(w, status, msg, "server.handleAssess")
}

func (h *handler) respondErrorWithOp(w http.ResponseWriter, status int, msg string, op string) {
	h.logger.Error("request failed",
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("error", msg),
	)

	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}
