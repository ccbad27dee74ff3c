package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/waybacker/internal/archive"
	"github.com/JakeFAU/waybacker/internal/cache"
	"github.com/JakeFAU/waybacker/internal/id/uuid"
	"github.com/JakeFAU/waybacker/internal/metrics"
	"github.com/JakeFAU/waybacker/internal/retry"
)

// Service is the subset of the cache the handlers need.
type Service interface {
	Get(ctx context.Context, rawURL string, opts cache.GetOptions) (archive.CacheEntry, error)
	Lookup(ctx context.Context, rawURL string) (*archive.CacheEntry, error)
	ReadBlob(ctx context.Context, rawURL string) (archive.CacheEntry, []byte, error)
	Entries(ctx context.Context) iter.Seq2[archive.CacheEntry, error]
}

// IDGenerator produces request IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Server wires HTTP handlers to the cache. The cache is single-writer, so
// every handler that touches it holds mu.
type Server struct {
	router  chi.Router
	service Service
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewServer constructs a Server with middleware and routes.
func NewServer(service Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service: service,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware(uuid.New()))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/entry", s.getEntry)
		r.Get("/lookup", s.lookupEntry)
		r.Get("/blob", s.getBlob)
		r.Get("/entries", s.listEntries)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	opts, err := parseGetOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	entry, err := s.service.Get(r.Context(), rawURL, opts)
	s.mu.Unlock()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) lookupEntry(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	entry, err := s.service.Lookup(r.Context(), r.URL.Query().Get("url"))
	s.mu.Unlock()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) getBlob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	entry, data, err := s.service.ReadBlob(r.Context(), r.URL.Query().Get("url"))
	s.mu.Unlock()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", entry.MimeKind.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if entry.Snapshot != nil {
		w.Header().Set("X-Wayback-Timestamp", entry.Snapshot.Timestamp)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("blob write failed", zap.Error(err))
	}
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]archive.CacheEntry, 0)
	for entry, err := range s.service.Entries(r.Context()) {
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func parseGetOptions(r *http.Request) (cache.GetOptions, error) {
	var opts cache.GetOptions
	q := r.URL.Query()
	for name, dst := range map[string]*bool{
		"retry_unsuccessful": &opts.RetryUnsuccessful,
		"overwrite":          &opts.OverwriteEntry,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return cache.GetOptions{}, fmt.Errorf("%s must be a boolean", name)
		}
		*dst = v
	}
	return opts, nil
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, archive.ErrEmptyURL):
		return http.StatusBadRequest
	case errors.Is(err, archive.ErrBlobMissing):
		return http.StatusNotFound
	case errors.Is(err, retry.ErrExhausted), errors.Is(err, archive.ErrBodyTruncated):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func requestIDMiddleware(ids IDGenerator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				generated, err := ids.NewID()
				if err != nil {
					writeError(w, http.StatusInternalServerError, "request id unavailable")
					return
				}
				reqID = generated
			}
			ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
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
