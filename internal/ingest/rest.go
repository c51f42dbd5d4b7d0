package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"doorguard/internal/config"
	"doorguard/internal/model"
	"doorguard/internal/normalize"
)

// RESTServer accepts sensor readings over HTTP. Every accepted reading is
// inserted into the store and then pushed.
type RESTServer struct {
	pub    *Publisher
	logger *slog.Logger
}

func NewRESTServer(pub *Publisher, logger *slog.Logger) *RESTServer {
	return &RESTServer{pub: pub, logger: logger}
}

func (s *RESTServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/readings", s.handleReadings)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

func StartREST(ctx context.Context, cfg config.RESTConfig, pub *Publisher, logger *slog.Logger) *http.Server {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", cfg.Addr)
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRESTServer(pub, logger).Routes(),
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
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

type ingestResponse struct {
	Accepted int     `json:"accepted"`
	Failed   int     `json:"failed"`
	IDs      []int64 `json:"ids"`
}

func (s *RESTServer) handleReadings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var list []map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(trim))
	dec.UseNumber()
	if trim[0] == '[' {
		err = dec.Decode(&list)
	} else {
		var obj map[string]interface{}
		err = dec.Decode(&obj)
		list = append(list, obj)
	}
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resp := ingestResponse{IDs: make([]int64, 0, len(list))}
	for _, obj := range list {
		stored, err := s.process(r.Context(), obj)
		if err != nil {
			resp.Failed++
			continue
		}
		resp.Accepted++
		resp.IDs = append(resp.IDs, stored.ID)
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Accepted == 0 {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *RESTServer) process(ctx context.Context, obj map[string]interface{}) (model.Reading, error) {
	fields := ParseJSONMap(obj)
	fields.Source = "rest"
	reading, err := normalize.Normalize(*fields, s.pub.loc)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("rest normalize error", "err", err)
		}
		return reading, err
	}
	reading.ID = 0
	stored, err := s.pub.Publish(ctx, reading, true)
	if err != nil && s.logger != nil {
		s.logger.Error("rest insert failed", "err", err)
	}
	return stored, err
}
