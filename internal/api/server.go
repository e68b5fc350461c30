// # internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"strata/internal/collect"
	"strata/internal/core/app"
	"strata/internal/core/config"
	errs "strata/internal/core/errors"
	"strata/internal/lang"
	"strata/internal/shared/observability"
	"strata/internal/shared/util"
)

// limiterTTL evicts per-client token buckets that have gone quiet.
const limiterTTL = 10 * time.Minute

type Server struct {
	cfg      config.API
	service  *app.Service
	limiters *util.LimiterRegistry
	formats  map[string]bool
	handler  http.Handler
	server   *http.Server
}

func NewServer(cfg config.API, service *app.Service) (*Server, error) {
	if service == nil {
		return nil, errs.New(errs.CodeAPI, "service is required")
	}
	doc, err := loadContract()
	if err != nil {
		return nil, err
	}
	formats, err := contractFormats(doc)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		service:  service,
		limiters: util.NewLimiterRegistry(cfg.RatePerSecond, cfg.Burst, limiterTTL),
		formats:  formats,
	}

	mux := http.NewServeMux()
	mux.Handle("POST /v1/parse", s.route("/v1/parse", s.handleParse))
	mux.Handle("GET /v1/health", s.route("/v1/health", s.handleHealth))
	mux.Handle("GET /v1/languages", s.route("/v1/languages", s.handleLanguages))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(contractYAML)
	})
	s.handler = mux
	return s, nil
}

// Handler exposes the routed mux; Start serves it, tests hit it directly.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.handler,
	}

	slog.Info("api server starting", "addr", s.cfg.Address)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api server failed", "error", err)
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.limiters.Close()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// route wraps a handler with the request counter. The status label comes
// from whatever the handler wrote, 200 when it never set one.
func (s *Server) route(name string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		observability.APIRequestsTotal.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type parseRequest struct {
	Paths   []string     `json:"paths"`
	Content []inlineFile `json:"content"`
	Format  string       `json:"format"`
}

type inlineFile struct {
	Path     string `json:"path"`
	Data     string `json:"data"`
	Language string `json:"language"`
}

type parseResponse struct {
	RunID          string       `json:"run_id"`
	Format         string       `json:"format"`
	Content        string       `json:"content"`
	FilesProcessed int          `json:"files_processed"`
	Stats          statsPayload `json:"stats"`
}

type statsPayload struct {
	TotalFiles    int     `json:"total_files"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	Degraded      int     `json:"degraded"`
	TimedOut      int     `json:"timed_out"`
	Cancelled     int     `json:"cancelled"`
	Skipped       int     `json:"skipped"`
	Incomplete    bool    `json:"incomplete"`
	AvgConfidence float64 `json:"avg_confidence"`
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	if !s.limiters.Get(clientIP(r)).Allow(1) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req parseRequest
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}

	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = "json"
	}
	if msg := s.validate(req, format); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	rendered := &strings.Builder{}
	runReq := app.RunRequest{
		Roots:  req.Paths,
		Format: format,
		Out:    rendered,
	}
	for _, f := range req.Content {
		runReq.Files = append(runReq.Files, collect.File{
			Path:         f.Path,
			Content:      []byte(f.Data),
			LanguageHint: f.Language,
		})
	}

	summary, err := s.service.Run(r.Context(), runReq)
	if err != nil {
		slog.Error("parse request failed", "error", err)
		status := http.StatusInternalServerError
		if errs.IsCode(err, errs.CodeConfig) || errs.IsCode(err, errs.CodeCollect) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, parseResponse{
		RunID:          summary.RunID,
		Format:         format,
		Content:        rendered.String(),
		FilesProcessed: summary.Files,
		Stats: statsPayload{
			TotalFiles:    summary.Stats.TotalFiles,
			Completed:     summary.Stats.Completed,
			Failed:        summary.Stats.Failed,
			Degraded:      summary.Stats.Degraded,
			TimedOut:      summary.Stats.TimedOut,
			Cancelled:     summary.Stats.Cancelled,
			Skipped:       summary.Stats.Skipped,
			Incomplete:    summary.Stats.Incomplete,
			AvgConfidence: summary.Stats.AvgConfidence,
		},
	})
}

// validate enforces the contract rules the schema alone cannot carry.
func (s *Server) validate(req parseRequest, format string) string {
	if !s.formats[format] {
		allowed := util.SortedStringKeys(s.formats)
		return fmt.Sprintf("format %q is not one of %s", format, strings.Join(allowed, ", "))
	}
	if len(req.Paths) == 0 && len(req.Content) == 0 {
		return "request needs paths or content"
	}
	if len(req.Paths) > 0 && len(req.Content) > 0 {
		return "paths and content are mutually exclusive"
	}
	for i, f := range req.Content {
		if strings.TrimSpace(f.Path) == "" {
			return fmt.Sprintf("content[%d] has no path", i)
		}
	}
	for i, p := range req.Paths {
		if strings.TrimSpace(p) == "" {
			return fmt.Sprintf("paths[%d] is empty", i)
		}
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.service.Health(r.Context())
	code := http.StatusOK
	if status.Status != "up" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"languages": lang.Known()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// clientIP keys the rate limiter. The listener is expected to face local
// callers directly, so the peer address is the client.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
