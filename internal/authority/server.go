package authority

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fahadfarid28/home-sub000/internal/compute"
	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/middleware"
	"github.com/fahadfarid28/home-sub000/internal/monitoring"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// ServerConfig configures the HTTP front of an Authority.
type ServerConfig struct {
	Addr string
	// Token, when set, is required as a bearer token on every API route.
	Token string
	// MaxBody caps request bodies.
	MaxBody         int64
	ShutdownTimeout time.Duration
}

// Server serves an Authority over HTTP.
type Server struct {
	logger     logging.Logger
	authority  *Authority
	health     *monitoring.Health
	gatherer   prometheus.Gatherer
	cfg        ServerConfig
	httpServer *http.Server

	mu       sync.Mutex
	shutdown bool
}

// NewServer creates a Server. gatherer may be nil to hide /metrics.
func NewServer(logger logging.Logger, a *Authority, health *monitoring.Health, gatherer prometheus.Gatherer, cfg ServerConfig) *Server {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 1 << 30
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		logger:    logger.WithComponent("authority_http"),
		authority: a,
		health:    health,
		gatherer:  gatherer,
		cfg:       cfg,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the full handler stack.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/derive", s.handleDerive)
	mux.HandleFunc("POST /v1/missing", s.handleMissing)
	mux.HandleFunc("GET /v1/objects/{key...}", s.handleGetObject)
	mux.HandleFunc("PUT /v1/objects/{key...}", s.handlePutObject)
	mux.HandleFunc("GET /v1/revisions/{id}", s.handleGetRevision)
	mux.HandleFunc("PUT /v1/revisions/{id}", s.handlePutRevision)
	mux.HandleFunc("GET /v1/jobs", s.handleJobs)
	if s.health != nil {
		mux.Handle("GET /healthz", s.health.HTTPHandler())
	}
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	chain := middleware.NewChain(
		middleware.Recover(s.logger),
		middleware.Logging(s.logger),
		middleware.BearerToken(s.cfg.Token, "/healthz", "/metrics"),
		middleware.MaxBody(s.cfg.MaxBody),
	)

	return chain.Apply(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "server has been shut down")
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "authority listening", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errChan <- errors.NewIOError(errors.ErrCodeRemoteUnavailable, "authority server stopped", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Shutdown stops accepting requests and waits for running jobs. It is safe
// to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	err := s.httpServer.Shutdown(ctx)

	jobsDone := make(chan struct{})
	go func() {
		s.authority.Wait()
		close(jobsDone)
	}()
	select {
	case <-jobsDone:
	case <-ctx.Done():
		s.logger.Warn(ctx, ctx.Err(), "shutdown with derivations still running", "jobs", len(s.authority.InFlight()))
	}

	return err
}

func (s *Server) handleDerive(w http.ResponseWriter, r *http.Request) {
	var req compute.DeriveRequest
	if !s.decode(w, r, &req) {
		return
	}

	resp, err := s.authority.Derive(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMissing(w http.ResponseWriter, r *http.Request) {
	var req compute.MissingRequest
	if !s.decode(w, r, &req) {
		return
	}

	missing, err := s.authority.ListMissing(r.Context(), req.Keys)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, compute.MissingResponse{Missing: missing})
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	if h := r.Header.Get("Range"); h != "" {
		offset, length, err := parseRange(h)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		data, err := s.authority.GetObjectRange(r.Context(), key, offset, length)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", offset, offset+int64(len(data))-1))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(data)
		return
	}

	data, err := s.authority.GetObject(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := s.authority.PutObject(r.Context(), r.PathValue("key"), data); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetRevision(w http.ResponseWriter, r *http.Request) {
	data, err := s.authority.GetRevision(r.Context(), pak.RevisionID(r.PathValue("id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/msgpack")
	_, _ = w.Write(data)
}

func (s *Server) handlePutRevision(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := s.authority.PutRevision(r.Context(), pak.RevisionID(r.PathValue("id")), data); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.authority.InFlight())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, r, errors.WrapValidation(err, errors.ErrCodeSerialization, "decoding request body"))
		return false
	}

	return true
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, errors.WrapValidation(err, errors.ErrCodeReadFailed, "reading request body"))
		return nil, false
	}

	return data, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(context.Background(), err, "encoding response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path)
	}

	resp := compute.ErrorResponse{Type: string(errors.TypeOf(err)), Message: err.Error()}
	var e *errors.Error
	if stderrors.As(err, &e) {
		resp.Code = e.Code
		resp.Message = e.Message
		resp.Path = e.Path
	}
	s.writeJSON(w, status, resp)
}

// statusFor maps an error type to an HTTP status.
func statusFor(err error) int {
	switch errors.TypeOf(err) {
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeContention:
		return http.StatusConflict
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// parseRange accepts a single "bytes=start-end" range.
func parseRange(h string) (offset, length int64, err error) {
	rng, ok := strings.CutPrefix(h, "bytes=")
	if !ok || strings.Contains(rng, ",") {
		return 0, 0, errors.NewValidationError(errors.ErrCodeRangeUnsupported, "unsupported range "+h)
	}
	first, last, ok := strings.Cut(rng, "-")
	if !ok || first == "" || last == "" {
		return 0, 0, errors.NewValidationError(errors.ErrCodeRangeUnsupported, "unsupported range "+h)
	}
	start, err1 := strconv.ParseInt(first, 10, 64)
	end, err2 := strconv.ParseInt(last, 10, 64)
	if err1 != nil || err2 != nil || start < 0 || end < start {
		return 0, 0, errors.NewValidationError(errors.ErrCodeRangeUnsupported, "invalid range "+h)
	}

	return start, end - start + 1, nil
}
