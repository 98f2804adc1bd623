// Package server is a thin net/http adapter over internal/fiberdb.
//
// It uses a bare http.ServeMux, a middleware chain built with plain
// func-wrapping rather than a third-party router, a responseWriter
// that captures the status code for logging, and writeJSON/writeError
// helpers returning a uniform JSON envelope.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/fiberdb/fiberdb/internal/fiberdb"
	"github.com/fiberdb/fiberdb/internal/graph"
	"github.com/fiberdb/fiberdb/internal/logging"
	"github.com/fiberdb/fiberdb/internal/query"
)

// MaxRequestSize bounds a decoded request body.
const MaxRequestSize = 10 << 20

// Config configures a Server. Zero value is usable.
type Config struct {
	Addr string
}

// DefaultConfig returns a Config listening on :8080.
func DefaultConfig() *Config {
	return &Config{Addr: ":8080"}
}

// Server exposes a DB over HTTP.
type Server struct {
	db     *fiberdb.DB
	config *Config
	log    *logging.Logger

	httpServer *http.Server
}

// New builds a Server wrapping db.
func New(db *fiberdb.DB, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{db: db, config: config, log: logging.New("server")}
}

// Start begins serving and blocks until Stop is called or the listener
// fails for a reason other than a graceful shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.recoveryMiddleware(s.loggingMiddleware(s.buildRouter())),
	}
	s.log.Printf("listening on %s", s.config.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.config.Addr }

func (s *Server) buildRouter() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/cache", s.handleCache)
	mux.HandleFunc("/api/enhanced/query", s.handleEnhancedQuery)
	mux.HandleFunc("/api/enhanced/graph", s.handleEnhancedGraph)
	mux.HandleFunc("/", s.handleNotFound)
	return mux
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown route: %s %s", r.Method, r.URL.Path))
}

// handleQuery implements POST /query: body is a query
// descriptor, response is the projected row array. X-Skip-Cache,
// X-Skip-TTL and X-Use-Parallel set the matching descriptor fields;
// X-Include-Performance-Metrics wraps the response as {rows, metrics}.
// All four are echoed back on the response with an
// Included/Skipped/Processing suffix.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var desc query.Descriptor
	if err := s.readJSON(r, &desc); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	includeMetrics := r.Header.Get("X-Include-Performance-Metrics") == "true"
	if r.Header.Get("X-Skip-Cache") == "true" {
		desc.SkipCache = true
	}
	if r.Header.Get("X-Skip-TTL") == "true" {
		desc.SkipTTL = true
	}
	if r.Header.Get("X-Use-Parallel") == "true" {
		desc.UseParallel = true
	}

	res, err := s.db.Query(r.Context(), desc)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("X-Performance-Metrics-Included", fmt.Sprintf("%t", includeMetrics))
	w.Header().Set("X-Cache-Skipped", fmt.Sprintf("%t", desc.SkipCache))
	w.Header().Set("X-TTL-Skipped", fmt.Sprintf("%t", desc.SkipTTL))
	w.Header().Set("X-Parallel-Processing", fmt.Sprintf("%t", desc.UseParallel))

	if includeMetrics {
		s.writeJSON(w, http.StatusOK, map[string]any{"rows": res.Rows, "metrics": res.Metrics})
		return
	}
	s.writeJSON(w, http.StatusOK, res.Rows)
}

// handleCache implements GET/DELETE /cache.
func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		stats := s.db.Caches().NamedStats()
		payload := make([]map[string]any, len(stats))
		for i, st := range stats {
			payload[i] = map[string]any{
				"name":    st.Name,
				"size":    st.Size,
				"maxSize": st.MaxSize,
				"hits":    st.Hits,
				"misses":  st.Misses,
				"hitRate": st.HitRate,
			}
		}
		s.writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		s.db.Caches().ClearAll()
		s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "all caches cleared"})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "GET or DELETE required")
	}
}

// enhancedQueryRequest is the entity descriptor body for the optional
// enhanced surface.
type enhancedQueryRequest struct {
	query.Descriptor
}

func (s *Server) handleEnhancedQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req enhancedQueryRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := s.db.Query(r.Context(), req.Descriptor)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rows": res.Rows, "metrics": res.Metrics})
}

// enhancedGraphRequest is the graph descriptor body for the optional
// enhanced surface.
type enhancedGraphRequest struct {
	StartNodes []string         `json:"startNodes"`
	Traversal  graph.Traversal  `json:"traversal"`
	ReturnType graph.ReturnType `json:"returnType"`
}

func (s *Server) handleEnhancedGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req enhancedGraphRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := s.db.QueryGraph(req.StartNodes, req.Traversal, req.ReturnType)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// responseWriter wraps http.ResponseWriter to capture the status code
// for logging.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.log.Printf("%s %s %d %v", r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				s.log.Warnf("panic: %v\n%s", err, buf[:n])
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) readJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, MaxRequestSize)
	return json.NewDecoder(body).Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError responds with the {error: "<message>"} envelope.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
