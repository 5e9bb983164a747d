package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, node NodeClient, keys []string) (*Server, *Store) {
	t.Helper()
	orchestrator, store := newTestOrchestrator(t, node)
	server := NewServer(NewAuthenticator(keys), orchestrator, store, slog.Default())
	return server, store
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestCreatePaymentEndpoint(t *testing.T) {
	node := &mockNodeClient{createResp: &LedgerCreateResponse{PaymentID: 5, TxHash: "0xhash"}}
	server, _ := newTestServer(t, node, nil)
	handler := server.Router()

	recorder := doRequest(t, handler, http.MethodPost, "/payments", validCreateRequest(), map[string]string{
		"Idempotency-Key": "idem-1",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	var record PaymentRecord
	if err := json.Unmarshal(recorder.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.ID != 5 || record.Status != "pending" {
		t.Fatalf("unexpected record %+v", record)
	}
	if recorder.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected correlation id header")
	}
}

func TestCreatePaymentRequiresIdempotencyKey(t *testing.T) {
	server, _ := newTestServer(t, &mockNodeClient{}, nil)
	recorder := doRequest(t, server.Router(), http.MethodPost, "/payments", validCreateRequest(), nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestCreatePaymentIdempotencyReplay(t *testing.T) {
	node := &mockNodeClient{createResp: &LedgerCreateResponse{PaymentID: 5, TxHash: "0xhash"}}
	server, _ := newTestServer(t, node, nil)
	handler := server.Router()
	headers := map[string]string{"Idempotency-Key": "idem-1"}

	first := doRequest(t, handler, http.MethodPost, "/payments", validCreateRequest(), headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first request: %d", first.Code)
	}
	second := doRequest(t, handler, http.MethodPost, "/payments", validCreateRequest(), headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay: %d", second.Code)
	}
	if node.createCalls != 1 {
		t.Fatalf("replay must not resubmit, got %d chain calls", node.createCalls)
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatalf("replayed body must match original")
	}

	// Same key with a different payload is a conflict.
	altered := validCreateRequest()
	altered.Amount = "999"
	conflict := doRequest(t, handler, http.MethodPost, "/payments", altered, headers)
	if conflict.Code != http.StatusConflict {
		t.Fatalf("expected 409 for key reuse, got %d", conflict.Code)
	}
}

func TestCreatePaymentValidationMapsTo400(t *testing.T) {
	node := &mockNodeClient{}
	server, _ := newTestServer(t, node, nil)
	req := validCreateRequest()
	req.Amount = "-5"
	recorder := doRequest(t, server.Router(), http.MethodPost, "/payments", req, map[string]string{"Idempotency-Key": "idem-1"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if node.createCalls != 0 {
		t.Fatalf("invalid request must not reach the node")
	}
}

func TestLedgerErrorStatusMapping(t *testing.T) {
	cases := []struct {
		code   int
		status int
	}{
		{-32021, http.StatusBadRequest},
		{-32022, http.StatusNotFound},
		{-32023, http.StatusForbidden},
		{-32024, http.StatusConflict},
		{-32025, http.StatusBadGateway},
	}
	for _, tc := range cases {
		node := &mockNodeClient{releaseErr: &LedgerError{Code: tc.code, Message: "boom", Reason: "boom"}}
		server, store := newTestServer(t, node, nil)
		if err := store.InsertPayment(context.Background(), samplePayment(1, time.Now().UTC())); err != nil {
			t.Fatalf("seed: %v", err)
		}
		recorder := doRequest(t, server.Router(), http.MethodPost, "/payments/1/release", actorRequest{Caller: recipientHex}, nil)
		if recorder.Code != tc.status {
			t.Fatalf("code %d: expected %d, got %d", tc.code, tc.status, recorder.Code)
		}
	}
}

func TestErrorBodyStaysValidJSON(t *testing.T) {
	reason := "bad \"input\"\nwith \\controls"
	node := &mockNodeClient{releaseErr: &LedgerError{Code: -32021, Message: reason, Reason: reason}}
	server, store := newTestServer(t, node, nil)
	if err := store.InsertPayment(context.Background(), samplePayment(1, time.Now().UTC())); err != nil {
		t.Fatalf("seed: %v", err)
	}
	recorder := doRequest(t, server.Router(), http.MethodPost, "/payments/1/release", actorRequest{Caller: recipientHex}, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("error body must be valid JSON: %v (%s)", err, recorder.Body.String())
	}
	if payload["error"] != reason {
		t.Fatalf("expected verbatim reason, got %q", payload["error"])
	}
}

func TestReleaseAndCancelEndpoints(t *testing.T) {
	node := &mockNodeClient{}
	server, store := newTestServer(t, node, nil)
	handler := server.Router()
	if err := store.InsertPayment(context.Background(), samplePayment(1, time.Now().UTC())); err != nil {
		t.Fatalf("seed: %v", err)
	}

	recorder := doRequest(t, handler, http.MethodPost, "/payments/1/release", actorRequest{Caller: recipientHex}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("release: %d (%s)", recorder.Code, recorder.Body.String())
	}
	record, _ := store.GetPayment(context.Background(), 1)
	if record.Status != "completed" {
		t.Fatalf("expected completed, got %s", record.Status)
	}

	if err := store.InsertPayment(context.Background(), samplePayment(2, time.Now().UTC())); err != nil {
		t.Fatalf("seed 2: %v", err)
	}
	recorder = doRequest(t, handler, http.MethodPost, "/payments/2/cancel", actorRequest{Caller: creatorHex}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("cancel: %d", recorder.Code)
	}

	// Missing caller is rejected before the chain call.
	recorder = doRequest(t, handler, http.MethodPost, "/payments/2/cancel", actorRequest{}, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing caller, got %d", recorder.Code)
	}

	// Non-numeric ids never reach the orchestrator.
	recorder = doRequest(t, handler, http.MethodPost, "/payments/abc/release", actorRequest{Caller: recipientHex}, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", recorder.Code)
	}
}

func TestListEndpoint(t *testing.T) {
	server, store := newTestServer(t, &mockNodeClient{}, nil)
	handler := server.Router()
	if err := store.InsertPayment(context.Background(), samplePayment(1, time.Now().UTC())); err != nil {
		t.Fatalf("seed: %v", err)
	}

	recorder := doRequest(t, handler, http.MethodGet, "/payments?address="+creatorHex+"&role=sent", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("list: %d", recorder.Code)
	}
	var resp struct {
		Payments []PaymentRecord `json:"payments"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Payments) != 1 {
		t.Fatalf("expected 1 payment, got %d", len(resp.Payments))
	}

	recorder = doRequest(t, handler, http.MethodGet, "/payments?address="+recipientHex+"&role=received", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("received list: %d", recorder.Code)
	}

	recorder = doRequest(t, handler, http.MethodGet, "/payments?address=bogus", nil, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad address, got %d", recorder.Code)
	}
}

func TestGetReadsThroughToLedger(t *testing.T) {
	node := &mockNodeClient{getResp: &LedgerPayment{ID: 1, Status: "pending", Amount: "500"}}
	server, _ := newTestServer(t, node, nil)

	recorder := doRequest(t, server.Router(), http.MethodGet, "/payments/1", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("get: %d", recorder.Code)
	}
	var payment LedgerPayment
	if err := json.Unmarshal(recorder.Body.Bytes(), &payment); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payment.ID != 1 || payment.Amount != "500" {
		t.Fatalf("unexpected payment %+v", payment)
	}
}

func TestAPIKeyGuardsMutations(t *testing.T) {
	node := &mockNodeClient{createResp: &LedgerCreateResponse{PaymentID: 1, TxHash: "0x1"}}
	server, _ := newTestServer(t, node, []string{"valid-key"})
	handler := server.Router()

	recorder := doRequest(t, handler, http.MethodPost, "/payments", validCreateRequest(), map[string]string{"Idempotency-Key": "idem-1"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", recorder.Code)
	}
	recorder = doRequest(t, handler, http.MethodPost, "/payments", validCreateRequest(), map[string]string{
		"Idempotency-Key": "idem-1",
		"Authorization":   "Bearer wrong",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", recorder.Code)
	}
	recorder = doRequest(t, handler, http.MethodPost, "/payments", validCreateRequest(), map[string]string{
		"Idempotency-Key": "idem-1",
		"Authorization":   "Bearer valid-key",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201 with valid key, got %d (%s)", recorder.Code, recorder.Body.String())
	}

	// Reads stay open.
	recorder = doRequest(t, handler, http.MethodGet, "/payments?address="+creatorHex, nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("reads must not require a key, got %d", recorder.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, &mockNodeClient{}, []string{"key"})
	recorder := doRequest(t, server.Router(), http.MethodGet, "/healthz", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("healthz: %d", recorder.Code)
	}
}
