package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

// NodeClient is the slice of the ledger node the gateway depends on.
type NodeClient interface {
	PaymentsCreate(ctx context.Context, req LedgerCreateRequest) (*LedgerCreateResponse, error)
	PaymentsRelease(ctx context.Context, id uint64, caller string) (string, error)
	PaymentsCancel(ctx context.Context, id uint64, caller string) (string, error)
	PaymentsCanRelease(ctx context.Context, id uint64) (bool, error)
	PaymentsGet(ctx context.Context, id uint64) (*LedgerPayment, error)
	TokenApprove(ctx context.Context, caller, token, amount string) (string, error)
	TokenAllowance(ctx context.Context, owner, token string) (string, error)
	FetchEvents(ctx context.Context, afterSeq int64, limit int) ([]NodeEvent, error)
}

// RPCNodeClient implements NodeClient against the ridmintd JSON-RPC server.
// Chain-level failures are surfaced to callers with the node's message
// preserved verbatim; nothing is retried here.
type RPCNodeClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

func NewRPCNodeClient(baseURL, authToken string) *RPCNodeClient {
	// No client-level timeout: each call is bounded by its context, which
	// the orchestrator derives from the configured confirmation timeout.
	return &RPCNodeClient{
		baseURL:   baseURL,
		authToken: authToken,
		http:      &http.Client{},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// LedgerError is a failure reported by the node rather than the transport.
// The ledger's reason string is preserved so callers can distinguish state
// conflicts from authorization failures.
type LedgerError struct {
	Code    int
	Message string
	Reason  string
}

func (e *LedgerError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return e.Message
}

// LedgerCreateRequest is the payload for payments_create.
type LedgerCreateRequest struct {
	Caller         string `json:"caller"`
	Recipient      string `json:"recipient"`
	Token          string `json:"token"`
	Amount         string `json:"amount"`
	ConditionType  uint8  `json:"conditionType"`
	ConditionValue int64  `json:"conditionValue"`
}

// LedgerCreateResponse mirrors the node RPC result.
type LedgerCreateResponse struct {
	PaymentID uint64 `json:"paymentId"`
	TxHash    string `json:"txHash"`
}

// LedgerPayment mirrors the JSON returned by the node for payments_get.
type LedgerPayment struct {
	ID             uint64 `json:"id"`
	Creator        string `json:"creator"`
	Recipient      string `json:"recipient"`
	Amount         string `json:"amount"`
	Token          string `json:"token"`
	ConditionType  string `json:"conditionType"`
	ConditionValue int64  `json:"conditionValue"`
	Status         string `json:"status"`
	CreatedAt      int64  `json:"createdAt"`
	CompletedAt    *int64 `json:"completedAt,omitempty"`
}

// NodeEvent represents an emitted ledger event returned by events_since.
type NodeEvent struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	TxHash     string            `json:"txHash"`
	Timestamp  int64             `json:"timestamp"`
}

type txHashResult struct {
	TxHash string `json:"txHash"`
}

func (c *RPCNodeClient) PaymentsCreate(ctx context.Context, req LedgerCreateRequest) (*LedgerCreateResponse, error) {
	var result LedgerCreateResponse
	if err := c.call(ctx, "payments_create", []interface{}{req}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) PaymentsRelease(ctx context.Context, id uint64, caller string) (string, error) {
	params := map[string]interface{}{"id": id, "caller": caller}
	var result txHashResult
	if err := c.call(ctx, "payments_release", []interface{}{params}, &result); err != nil {
		return "", err
	}
	return result.TxHash, nil
}

func (c *RPCNodeClient) PaymentsCancel(ctx context.Context, id uint64, caller string) (string, error) {
	params := map[string]interface{}{"id": id, "caller": caller}
	var result txHashResult
	if err := c.call(ctx, "payments_cancel", []interface{}{params}, &result); err != nil {
		return "", err
	}
	return result.TxHash, nil
}

func (c *RPCNodeClient) PaymentsCanRelease(ctx context.Context, id uint64) (bool, error) {
	var result bool
	if err := c.call(ctx, "payments_canRelease", []interface{}{map[string]uint64{"id": id}}, &result); err != nil {
		return false, err
	}
	return result, nil
}

func (c *RPCNodeClient) PaymentsGet(ctx context.Context, id uint64) (*LedgerPayment, error) {
	var result LedgerPayment
	if err := c.call(ctx, "payments_get", []interface{}{map[string]uint64{"id": id}}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) TokenApprove(ctx context.Context, caller, token, amount string) (string, error) {
	params := map[string]string{"caller": caller, "token": token, "amount": amount}
	var result txHashResult
	if err := c.call(ctx, "token_approve", []interface{}{params}, &result); err != nil {
		return "", err
	}
	return result.TxHash, nil
}

func (c *RPCNodeClient) TokenAllowance(ctx context.Context, owner, token string) (string, error) {
	params := map[string]string{"owner": owner, "token": token}
	var result string
	if err := c.call(ctx, "token_allowance", []interface{}{params}, &result); err != nil {
		return "", err
	}
	return result, nil
}

func (c *RPCNodeClient) FetchEvents(ctx context.Context, afterSeq int64, limit int) ([]NodeEvent, error) {
	params := map[string]interface{}{"after": afterSeq}
	if limit > 0 {
		params["limit"] = limit
	}
	var result []NodeEvent
	if err := c.call(ctx, "events_since", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *RPCNodeClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	buf, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("node rpc %s failed: status=%d body=%s", method, resp.StatusCode, string(body))
	}
	if rpcResp.Error != nil {
		reason := ""
		if len(rpcResp.Error.Data) > 0 {
			_ = json.Unmarshal(rpcResp.Error.Data, &reason)
		}
		return &LedgerError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message, Reason: reason}
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return errors.New("node rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
