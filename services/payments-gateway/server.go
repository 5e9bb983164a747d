package main

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxRequestBody       = 1 << 20 // 1 MiB
)

// Server is the HTTP front-end for payment interactions.
type Server struct {
	auth         *Authenticator
	orchestrator *Orchestrator
	store        *Store
	nowFn        func() time.Time
	log          *slog.Logger
}

func NewServer(auth *Authenticator, orchestrator *Orchestrator, store *Store, log *slog.Logger) *Server {
	if orchestrator == nil {
		panic("orchestrator required")
	}
	if store == nil {
		panic("store required")
	}
	if auth == nil {
		auth = NewAuthenticator(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		auth:         auth,
		orchestrator: orchestrator,
		store:        store,
		nowFn:        time.Now,
		log:          log,
	}
}

// Router builds the HTTP surface. Mutating routes sit behind the bearer
// authenticator; reads and health probes do not.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/payments", s.handleCreate)
		r.Post("/payments/{id}/release", s.handleRelease)
		r.Post("/payments/{id}/cancel", s.handleCancel)
	})

	r.Get("/payments", s.handleList)
	r.Get("/payments/{id}", s.handleGet)
	r.Get("/payments/{id}/releasable", s.handleCanRelease)

	return r
}

// requestLogger tags every request with a correlation id and logs its
// outcome. The id is echoed back so clients can quote it in reports.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		start := s.nowFn()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.log.Info("request",
			"requestId", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"durationMs", s.nowFn().Sub(start).Milliseconds(),
		)
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

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing Idempotency-Key header"))
		return
	}
	apiKey := s.auth.PresentedKey(r)
	requestHash := hashRequest(r.Method, r.URL.Path, body)
	if cached, cacheErr := s.store.LookupIdempotency(r.Context(), apiKey, key, requestHash); cacheErr == nil && cached != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cached.Status)
		_, _ = w.Write(cached.Body)
		return
	} else if cacheErr != nil {
		status := http.StatusInternalServerError
		if errors.Is(cacheErr, ErrIdempotencyMismatch) {
			status = http.StatusConflict
		}
		s.writeError(w, status, cacheErr)
		return
	}

	var req CreatePaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}

	record, err := s.orchestrator.SubmitCreatePayment(r.Context(), req)
	if err != nil {
		s.writePaymentError(w, err)
		return
	}
	payload, err := json.Marshal(record)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.SaveIdempotency(r.Context(), apiKey, key, requestHash, http.StatusCreated, payload); err != nil {
		s.log.Warn("idempotency save failed", "key", key, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(payload)
}

type actorRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, caller, err := s.actorParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.orchestrator.SubmitRelease(r.Context(), id, caller); err != nil {
		s.writePaymentError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "completed"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, caller, err := s.actorParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.orchestrator.SubmitCancel(r.Context(), id, caller); err != nil {
		s.writePaymentError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "cancelled"})
}

func (s *Server) actorParams(r *http.Request) (uint64, string, error) {
	id, err := paymentID(r)
	if err != nil {
		return 0, "", err
	}
	body, err := s.readRequestBody(r)
	if err != nil {
		return 0, "", err
	}
	var req actorRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, "", fmt.Errorf("invalid JSON payload: %w", err)
	}
	if strings.TrimSpace(req.Caller) == "" {
		return 0, "", errors.New("caller is required")
	}
	return id, req.Caller, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	role := r.URL.Query().Get("role")
	records, err := s.orchestrator.ListPayments(r.Context(), address, role)
	if err != nil {
		s.writePaymentError(w, err)
		return
	}
	if records == nil {
		records = []PaymentRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"payments": records})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := paymentID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	payment, err := s.orchestrator.GetPayment(r.Context(), id)
	if err != nil {
		s.writePaymentError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payment)
}

func (s *Server) handleCanRelease(w http.ResponseWriter, r *http.Request) {
	id, err := paymentID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ok, err := s.orchestrator.CanRelease(r.Context(), id)
	if err != nil {
		s.writePaymentError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "releasable": ok})
}

func paymentID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("payment id must be a positive integer")
	}
	return id, nil
}

func (s *Server) readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxRequestBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	return data, nil
}

// writePaymentError maps orchestrator and ledger failures onto HTTP
// statuses while preserving the underlying message.
func (s *Server) writePaymentError(w http.ResponseWriter, err error) {
	var validation *ValidationError
	if errors.As(err, &validation) {
		s.writeError(w, http.StatusBadRequest, validation)
		return
	}
	var ledger *LedgerError
	if errors.As(err, &ledger) {
		s.writeError(w, ledgerStatus(ledger.Code), ledger)
		return
	}
	if errors.Is(err, ErrRecordNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeError(w, http.StatusBadGateway, err)
}

func ledgerStatus(code int) int {
	switch code {
	case -32021:
		return http.StatusBadRequest
	case -32022:
		return http.StatusNotFound
	case -32023:
		return http.StatusForbidden
	case -32024:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		data = []byte(`{"error":"internal error"}`)
	}
	_, _ = w.Write(data)
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{strings.ToUpper(method), path, string(body)}, "\n")))
	return fmt.Sprintf("%x", sum[:])
}
