// Package server provides the guardian HTTP API: event ingestion, alert
// queries and lifecycle actions, status, statistics, and export.
package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/orionsec/ad-guardian/internal/alertstore"
	"github.com/orionsec/ad-guardian/internal/config"
	"github.com/orionsec/ad-guardian/internal/orchestrator"
	"github.com/orionsec/ad-guardian/internal/types"
	"github.com/orionsec/ad-guardian/internal/version"
)

const defaultAlertLimit = 50

// Server is the HTTP server for the guardian API.
type Server struct {
	cfg        config.Config
	orch       *orchestrator.Orchestrator
	store      *alertstore.Store
	log        *logrus.Logger
	httpServer *http.Server
}

// New creates the HTTP server around the orchestrator and alert store.
func New(cfg config.Config, orch *orchestrator.Orchestrator, store *alertstore.Store, log *logrus.Logger) *Server {
	s := &Server{cfg: cfg, orch: orch, store: store, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/events", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/read", s.handleMarkRead).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/remediate", s.handleRemediate).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/statistics", s.handleStatistics).Methods(http.MethodGet)
	api.HandleFunc("/export/alerts", s.handleExport).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server. It blocks until the server closes.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.cfg.HTTPAddr).Info("Guardian API listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// authMiddleware enforces the configured bearer token on the API routes.
// An empty key disables authentication.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"version":      version.Version,
		"alerts_count": s.store.Len(),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var event types.SecurityEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := s.orch.Submit(&event); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "accepted",
		"event_id": event.EventID,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	f := alertstore.Filter{
		Severity: types.Severity(r.URL.Query().Get("severity")),
		Status:   types.AlertStatus(r.URL.Query().Get("status")),
		Limit:    defaultAlertLimit,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	alerts := s.store.Query(f)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.alertTransition(w, r, s.store.MarkRead, "alert marked as read")
}

func (s *Server) handleRemediate(w http.ResponseWriter, r *http.Request) {
	s.alertTransition(w, r, s.store.Remediate, "remediation triggered")
}

func (s *Server) alertTransition(w http.ResponseWriter, r *http.Request, apply func(string) error, message string) {
	id := mux.Vars(r)["id"]
	if err := apply(id); err != nil {
		if errors.Is(err, alertstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": message})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

// handleExport streams the stored alerts as JSON or CSV.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	f := alertstore.Filter{Severity: types.Severity(r.URL.Query().Get("severity"))}
	alerts := s.store.Query(f)

	if r.URL.Query().Get("format") != "csv" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"alerts":           alerts,
			"total_count":      len(alerts),
			"export_timestamp": time.Now().UTC(),
		})
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=alerts_export_%d.csv", time.Now().Unix()))
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "timestamp", "source", "severity", "risk_level", "score", "user", "device", "status", "justification"})
	for _, a := range alerts {
		_ = cw.Write([]string{
			a.ID,
			a.Timestamp.UTC().Format(time.RFC3339),
			a.Source,
			string(a.Severity),
			a.RiskLevel.String(),
			strconv.FormatFloat(a.Score, 'f', 2, 64),
			a.User,
			a.Device,
			string(a.Status),
			a.Justification,
		})
	}
	cw.Flush()
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
