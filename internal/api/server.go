package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"doorguard/internal/alerts"
	"doorguard/internal/config"
	"doorguard/internal/metrics"
	"doorguard/internal/model"
	"doorguard/internal/reconcile"
	"doorguard/internal/security"
	"doorguard/internal/settings"
)

type DoorState interface {
	Current() (model.Snapshot, model.Evaluation, bool)
	Refresh(ctx context.Context) error
}

type SettingsStore interface {
	Current() security.Config
	Save(ctx context.Context, patch settings.Patch) (security.Config, error)
}

type Reconciler interface {
	Stats() reconcile.Stats
	Trigger()
}

type CooldownResetter interface {
	ResetCooldowns(ctx context.Context) error
}

type Deps struct {
	Config     *config.Config
	Door       DoorState
	Settings   SettingsStore
	Metrics    *metrics.Store
	Alerts     *alerts.Store
	Reconciler Reconciler
	Cooldowns  CooldownResetter
	Version    string
	Now        func() time.Time
}

type Server struct {
	deps   Deps
	logger *slog.Logger
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Server{deps: deps, logger: logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/status", s.handleStatus)
	r.Get("/snapshot", s.handleSnapshot)
	r.Get("/alerts", s.handleAlerts)
	r.Get("/settings", s.handleGetSettings)
	r.Put("/settings", s.handlePutSettings)
	r.Route("/admin", func(r chi.Router) {
		r.Post("/refresh", s.handleRefresh)
		r.Post("/reconcile", s.handleReconcile)
		r.Post("/clear", s.handleClear)
	})
	return r
}

func Start(ctx context.Context, cfg config.APIConfig, server *Server, logger *slog.Logger) *http.Server {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", cfg.Addr)
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

type statusResponse struct {
	Status    string           `json:"status"`
	Time      string           `json:"time"`
	Version   string           `json:"version"`
	Timezone  string           `json:"timezone,omitempty"`
	Refresh   metrics.Stats    `json:"refresh"`
	Alerts    int              `json:"alerts_stored"`
	Reconcile *reconcile.Stats `json:"reconcile,omitempty"`
	Ingest    ingestStatus     `json:"ingest"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	Kafka     bool `json:"kafka"`
	MQTT      bool `json:"mqtt"`
	TCPStream bool `json:"tcp_stream"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Status:  "ok",
		Time:    s.deps.Now().Format(time.RFC3339),
		Version: s.deps.Version,
	}
	if s.deps.Metrics != nil {
		resp.Refresh = s.deps.Metrics.Stats()
	}
	if s.deps.Alerts != nil {
		resp.Alerts = s.deps.Alerts.Len()
	}
	if s.deps.Reconciler != nil {
		st := s.deps.Reconciler.Stats()
		resp.Reconcile = &st
	}
	if cfg := s.deps.Config; cfg != nil {
		resp.Timezone = cfg.Timezone
		resp.Ingest = ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			MQTT:      cfg.Ingest.MQTT.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type snapshotResponse struct {
	model.Snapshot
	Posture             model.Evaluation `json:"posture"`
	OpenDurationSeconds int64            `json:"open_duration_seconds"`
	Ready               bool             `json:"ready"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap, ev, ok := s.deps.Door.Current()
	writeJSON(w, http.StatusOK, snapshotResponse{
		Snapshot:            snap,
		Posture:             ev,
		OpenDurationSeconds: int64(snap.OpenDuration(s.deps.Now()).Seconds()),
		Ready:               ok,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.Alert
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.deps.Alerts.Since(ts)
	} else {
		list = s.deps.Alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.Current())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var patch settings.Patch
	if err := json.Unmarshal(body, &patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	next, err := s.deps.Settings.Save(r.Context(), patch)
	switch {
	case errors.Is(err, security.ErrInvalidClock), errors.Is(err, settings.ErrInvalidDuration):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	case err != nil:
		if s.logger != nil {
			s.logger.Error("settings save failed", "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "settings not saved"})
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Door.Refresh(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	snap, ev, _ := s.deps.Door.Current()
	writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap, "posture": ev})
}

func (s *Server) handleReconcile(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Reconciler == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.deps.Reconciler.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	var err error
	switch target {
	case "all":
		s.clearMetrics()
		s.clearAlerts()
		err = s.resetCooldowns(r.Context())
	case "alerts":
		s.clearAlerts()
	case "cooldowns":
		err = s.resetCooldowns(r.Context())
	case "metrics", "snapshot":
		s.clearMetrics()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err != nil {
		if s.logger != nil {
			s.logger.Error("alert cooldown reset failed", "err", err)
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "cooldown reset failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) clearMetrics() {
	if s.deps.Metrics != nil {
		s.deps.Metrics.Clear()
	}
}

func (s *Server) clearAlerts() {
	if s.deps.Alerts != nil {
		s.deps.Alerts.Clear()
	}
}

func (s *Server) resetCooldowns(ctx context.Context) error {
	if s.deps.Cooldowns == nil {
		return nil
	}
	return s.deps.Cooldowns.ResetCooldowns(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
