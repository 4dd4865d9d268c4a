package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/metrics"
)

// StatusStore is the read surface the server needs.
type StatusStore interface {
	Ping(ctx context.Context) error
	GetCollection(ctx context.Context, source, key string) (catalog.ParentCollection, error)
	ListCollections(ctx context.Context, source string, state catalog.SyncState) ([]catalog.ParentCollection, error)
	CountItems(ctx context.Context, source, parentKey string) (catalog.ItemCounts, error)
	CountRecords(ctx context.Context, filter catalog.RecordFilter) (int, error)
}

// Config tunes the server.
type Config struct {
	// Sources lists the configured source names; empty allows any name.
	Sources        []string
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the frontier store.
type Server struct {
	router  chi.Router
	store   StatusStore
	sources map[string]struct{}
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store StatusStore, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{store: store, logger: logger}
	if len(cfg.Sources) > 0 {
		s.sources = make(map[string]struct{}, len(cfg.Sources))
		for _, name := range cfg.Sources {
			s.sources[name] = struct{}{}
		}
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/sources", s.listSources)
		r.Route("/sources/{source}", func(r chi.Router) {
			r.Use(s.knownSource)
			r.Get("/collections", s.listCollections)
			r.Get("/collections/{key}", s.getCollection)
			r.Get("/frontier", s.frontier)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{"sources": names})
}

func (s *Server) knownSource(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sources != nil {
			if _, ok := s.sources[chi.URLParam(r, "source")]; !ok {
				writeError(w, http.StatusNotFound, "source not found")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	state, ok := catalog.ParseSyncState(r.URL.Query().Get("state"))
	if !ok {
		writeError(w, http.StatusBadRequest, "state must be synced, unsynced or all")
		return
	}
	parents, err := s.store.ListCollections(r.Context(), source, state)
	if err != nil {
		s.storeFailure(w, "list collections", err)
		return
	}
	if parents == nil {
		parents = []catalog.ParentCollection{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": parents, "count": len(parents)})
}

func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	key := chi.URLParam(r, "key")
	parent, err := s.store.GetCollection(r.Context(), source, key)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	if err != nil {
		s.storeFailure(w, "get collection", err)
		return
	}
	counts, err := s.store.CountItems(r.Context(), source, key)
	if err != nil {
		s.storeFailure(w, "count items", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collection": parent, "items": counts})
}

func (s *Server) frontier(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	parent := r.URL.Query().Get("parent")
	counts, err := s.store.CountItems(r.Context(), source, parent)
	if err != nil {
		s.storeFailure(w, "count items", err)
		return
	}
	records, err := s.store.CountRecords(r.Context(), catalog.RecordFilter{Source: source, ParentKey: parent})
	if err != nil {
		s.storeFailure(w, "count records", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":  source,
		"parent":  parent,
		"items":   counts,
		"records": records,
	})
}

func (s *Server) storeFailure(w http.ResponseWriter, op string, err error) {
	s.logger.Error("store request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "store failure")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
