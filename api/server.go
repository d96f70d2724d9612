// Package api exposes the create and view operations over HTTP/JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	indfile "github.com/i5heu/ouroboros-indfile"
	"github.com/sirupsen/logrus"
)

const (
	RequestIDHeader = "X-Request-Id"

	// Each byte costs at most four characters ("255,") in a JSON array.
	bytesPerEncodedByte = 4
	envelopeSlack       = 4096
)

type Server struct {
	files   *indfile.Files
	log     *logrus.Logger
	timeout time.Duration
	maxBody int64
	router  *mux.Router
}

// NewServer wires the routes for files. cfg supplies the request timeout,
// the body limit and the logger.
func NewServer(files *indfile.Files, cfg *indfile.Config) *Server {
	if cfg == nil {
		cfg = &indfile.Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		files:   files,
		log:     logger,
		timeout: cfg.RequestTimeout,
	}
	if cfg.MaxFileSize > 0 {
		s.maxBody = cfg.MaxFileSize*bytesPerEncodedByte + envelopeSlack
	}

	router := mux.NewRouter()
	router.Use(s.requestIDMiddleware)

	router.HandleFunc("/v1/"+indfile.MethodCreateEncryptedFile, s.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/v1/"+indfile.MethodViewEncryptedFile, s.handleView).Methods(http.MethodPost)
	router.HandleFunc("/v1/health", s.handleHealth).Methods(http.MethodGet)

	// Middleware only wraps matched routes.
	router.NotFoundHandler = s.requestIDMiddleware(s.rejectHandler(http.StatusNotFound, "no such endpoint"))
	router.MethodNotAllowedHandler = s.requestIDMiddleware(s.rejectHandler(http.StatusMethodNotAllowed, "method not allowed"))
	s.router = router

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", ln.Addr().String()).Info("HTTP API listening")
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type requestIDKey struct{}

// statusRecorder remembers the status code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get(RequestIDHeader))
		if err != nil {
			id = uuid.New()
		}
		w.Header().Set(RequestIDHeader, id.String())

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id.String())))

		s.log.WithFields(logrus.Fields{
			"request_id": id.String(),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(start),
		}).Debug("Handled request")
	})
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(r.Context(), s.timeout)
	}
	return context.WithCancel(r.Context())
}

func (s *Server) rejectHandler(status int, msg string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, status, errorResponse{Kind: indfile.InvalidInput.String(), Error: fmt.Sprintf("%s: %s %s", msg, r.Method, r.URL.Path)})
	})
}

// decode reads exactly one JSON object with no unknown fields.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := r.Body
	if s.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("failed to decode request body: trailing data after JSON object")
	}
	return nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := s.decode(w, r, &req); err != nil {
		s.sendError(w, r, indfile.InvalidInput, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	resp, err := s.files.Handle(ctx, indfile.CreateRequest{FileData: req.FileData})
	if err != nil {
		s.sendError(w, r, indfile.KindOf(err), err)
		return
	}
	created := resp.(indfile.CreateResponse)
	sendJSON(w, http.StatusOK, createResponse{Skylink: created.Address, ViewKey: created.ViewKey})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if err := s.decode(w, r, &req); err != nil {
		s.sendError(w, r, indfile.InvalidInput, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	resp, err := s.files.Handle(ctx, indfile.ViewRequest{Address: req.Skylink, ViewKey: req.ViewKey})
	if err != nil {
		s.sendError(w, r, indfile.KindOf(err), err)
		return
	}
	sendJSON(w, http.StatusOK, viewResponse{FileData: resp.(indfile.ViewResponse).FileData})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.files.Stats()
	sendJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Created: stats.Created,
		Viewed:  stats.Viewed,
		Failed:  stats.Failed,
	})
}

// StatusFor maps an error kind to its HTTP status code.
func StatusFor(kind indfile.Kind) int {
	switch kind {
	case indfile.InvalidInput:
		return http.StatusBadRequest
	case indfile.NotFound:
		return http.StatusNotFound
	case indfile.IntegrityError:
		return http.StatusUnprocessableEntity
	case indfile.SeedUnavailable:
		return http.StatusServiceUnavailable
	case indfile.StorageFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, kind indfile.Kind, err error) {
	status := StatusFor(kind)
	if kind == indfile.SeedUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		id, _ := r.Context().Value(requestIDKey{}).(string)
		s.log.WithFields(logrus.Fields{"request_id": id, "kind": kind.String()}).WithError(err).Warn("Request failed")
	}
	sendJSON(w, status, errorResponse{Kind: kind.String(), Error: err.Error()})
}

func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
