package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/offsync/internal/ir"
)

type applied struct {
	digest string
	result Result
}

// Server is a reference implementation of the remote collaborator.
//
// It deduplicates on idempotency key, assigns its own ids ("srv-1", ...)
// to booked appointments and rejects a reused key whose payload differs.
// It can be used in-process as an Executor or mounted as an HTTP handler.
type Server struct {
	mu           sync.Mutex
	byKey        map[string]applied
	appointments map[string]bool
	nextID       int
	applyCount   int
	failNext     int
	logger       *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger (default slog.Default()).
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates an empty reference server.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		byKey:        make(map[string]applied),
		appointments: make(map[string]bool),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Executor = (*Server)(nil)

// FailNext makes the next n executions fail with a retryable
// "unavailable" failure before any state is touched.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// Applied returns how many distinct keys have been applied.
func (s *Server) Applied() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyCount
}

// Execute applies req at most once per idempotency key.
func (s *Server) Execute(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if req.IdempotencyKey == "" {
		return Result{}, &Failure{Code: CodeInvalidRequest, Message: "missing idempotency key"}
	}

	payload, err := ir.DecodePayload(req.ActionType, req.Payload)
	if err != nil {
		return Result{}, &Failure{Code: CodeInvalidRequest, Message: err.Error()}
	}
	digest, err := ir.PayloadDigest(payload)
	if err != nil {
		return Result{}, &Failure{Code: CodeInvalidRequest, Message: err.Error()}
	}
	if req.PayloadDigest != "" && req.PayloadDigest != digest {
		return Result{}, &Failure{Code: CodeDigestMismatch, Message: "payload digest does not match payload"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext > 0 {
		s.failNext--
		return Result{}, &Failure{Code: CodeUnavailable, Message: "service temporarily unavailable", Retryable: true}
	}

	if prev, ok := s.byKey[req.IdempotencyKey]; ok {
		if prev.digest != digest {
			return Result{}, &Failure{
				Code:    CodeKeyReused,
				Message: fmt.Sprintf("key %s was applied with a different payload", req.IdempotencyKey),
			}
		}
		s.logger.Debug("duplicate replay", "idempotency_key", req.IdempotencyKey, "server_id", prev.result.ServerID)
		res := prev.result
		res.Duplicate = true
		return res, nil
	}

	var res Result
	switch p := payload.(type) {
	case ir.BookAppointment:
		s.nextID++
		res.ServerID = fmt.Sprintf("srv-%d", s.nextID)
		s.appointments[res.ServerID] = true
	case ir.CancelAppointment:
		if !s.appointments[p.AppointmentID] {
			return Result{}, &Failure{
				Code:    CodeUnknownAppointment,
				Message: fmt.Sprintf("appointment %s does not exist", p.AppointmentID),
			}
		}
		res.ServerID = p.AppointmentID
	}

	s.byKey[req.IdempotencyKey] = applied{digest: digest, result: res}
	s.applyCount++
	s.logger.Info("action applied", "idempotency_key", req.IdempotencyKey, "type", req.ActionType, "server_id", res.ServerID)
	return res, nil
}

// Handler returns the HTTP surface of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/actions", s.handleAction)
	r.Get("/healthz", s.handleHealth)
	r.Head("/healthz", s.handleHealth)
	return r
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, &Failure{Code: CodeInvalidRequest, Message: "invalid JSON body"})
		return
	}
	req.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)

	res, err := s.Execute(r.Context(), req)
	if err != nil {
		var f *Failure
		if !errors.As(err, &f) {
			f = &Failure{Code: CodeUnavailable, Message: err.Error(), Retryable: true}
		}
		writeFailure(w, f)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func failureStatus(f *Failure) int {
	switch f.Code {
	case CodeKeyReused:
		return http.StatusConflict
	case CodeUnknownAppointment:
		return http.StatusNotFound
	case CodeDigestMismatch:
		return http.StatusUnprocessableEntity
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func writeFailure(w http.ResponseWriter, f *Failure) {
	writeJSON(w, failureStatus(f), f)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
