package rpc

import (
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Fatumayattani/ridmint/core/state"
	"github.com/Fatumayattani/ridmint/native/escrow"
	"github.com/Fatumayattani/ridmint/native/token"
)

const (
	codePaymentsInvalidParams = -32021
	codePaymentsNotFound      = -32022
	codePaymentsForbidden     = -32023
	codePaymentsConflict      = -32024
	codePaymentsInternal      = -32025
)

// PaymentNode is the ledger surface the RPC server exposes.
type PaymentNode interface {
	CreatePayment(creator, recipient [20]byte, token string, amount *big.Int, conditionType escrow.ConditionType, conditionValue int64) (*escrow.Payment, string, error)
	ReleasePayment(id uint64, caller [20]byte) (string, error)
	CancelPayment(id uint64, caller [20]byte) (string, error)
	CanRelease(id uint64) (bool, error)
	GetPayment(id uint64) (*escrow.Payment, error)
	PaymentCounter() (uint64, error)
	TokenApprove(owner [20]byte, token string, amount *big.Int) (string, error)
	TokenAllowance(owner [20]byte, token string) (*big.Int, error)
	TokenBalance(owner [20]byte, token string) (*big.Int, error)
	EventsSince(after int64, limit int) ([]state.StoredEvent, error)
}

type paymentsCreateParams struct {
	Caller         string `json:"caller"`
	Recipient      string `json:"recipient"`
	Token          string `json:"token"`
	Amount         string `json:"amount"`
	ConditionType  uint8  `json:"conditionType"`
	ConditionValue int64  `json:"conditionValue"`
}

type paymentsActorParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

type paymentsIDParams struct {
	ID uint64 `json:"id"`
}

type tokenActorParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type tokenQueryParams struct {
	Owner string `json:"owner"`
	Token string `json:"token"`
}

type eventsSinceParams struct {
	After int64 `json:"after"`
	Limit int   `json:"limit"`
}

type paymentsCreateResult struct {
	PaymentID uint64 `json:"paymentId"`
	TxHash    string `json:"txHash"`
}

type txResult struct {
	TxHash string `json:"txHash"`
}

type paymentJSON struct {
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

func paymentToJSON(p *escrow.Payment) paymentJSON {
	out := paymentJSON{
		ID:             p.ID,
		Creator:        common.BytesToAddress(p.Creator[:]).Hex(),
		Recipient:      common.BytesToAddress(p.Recipient[:]).Hex(),
		Amount:         p.Amount.String(),
		Token:          p.Token,
		ConditionType:  p.ConditionType.String(),
		ConditionValue: p.ConditionValue,
		Status:         p.Status.String(),
		CreatedAt:      p.CreatedAt,
	}
	if p.CompletedAt != 0 {
		completed := p.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

func parseAddress(raw string) ([20]byte, bool) {
	var addr [20]byte
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return addr, false
	}
	copy(addr[:], common.HexToAddress(trimmed).Bytes())
	return addr, true
}

func parseAmount(raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, false
	}
	return amount, true
}

// writePaymentError maps ledger errors onto the module's JSON-RPC codes while
// preserving the error message verbatim.
func writePaymentError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codePaymentsNotFound, "not_found", err.Error())
	case errors.Is(err, escrow.ErrAlreadyFinalized):
		writeError(w, http.StatusConflict, id, codePaymentsConflict, "conflict", err.Error())
	case errors.Is(err, escrow.ErrNotAuthorized), errors.Is(err, escrow.ErrConditionNotMet):
		writeError(w, http.StatusForbidden, id, codePaymentsForbidden, "forbidden", err.Error())
	case errors.Is(err, escrow.ErrZeroAmount),
		errors.Is(err, escrow.ErrInvalidRecipient),
		errors.Is(err, escrow.ErrInvalidCondition),
		errors.Is(err, escrow.ErrUnsupportedToken),
		errors.Is(err, escrow.ErrInsufficientAllowance),
		errors.Is(err, escrow.ErrInsufficientFunds),
		errors.Is(err, token.ErrUnknownToken),
		errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrNegativeAmount):
		writeError(w, http.StatusBadRequest, id, codePaymentsInvalidParams, "invalid_params", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codePaymentsInternal, "internal_error", err.Error())
	}
}

func (s *Server) handlePaymentsCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params paymentsCreateParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	creator, ok := parseAddress(params.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", "caller must be a 0x-prefixed address")
		return
	}
	recipient, ok := parseAddress(params.Recipient)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", "recipient must be a 0x-prefixed address")
		return
	}
	amount, ok := parseAmount(params.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", "amount must be a base-10 integer")
		return
	}
	payment, txHash, err := s.node.CreatePayment(creator, recipient, params.Token, amount, escrow.ConditionType(params.ConditionType), params.ConditionValue)
	if err != nil {
		writePaymentError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paymentsCreateResult{PaymentID: payment.ID, TxHash: txHash})
}

func (s *Server) handlePaymentsRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params paymentsActorParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, ok := parseAddress(params.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", "caller must be a 0x-prefixed address")
		return
	}
	txHash, err := s.node.ReleasePayment(params.ID, caller)
	if err != nil {
		writePaymentError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, txResult{TxHash: txHash})
}

func (s *Server) handlePaymentsCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params paymentsActorParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, ok := parseAddress(params.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", "caller must be a 0x-prefixed address")
		return
	}
	txHash, err := s.node.CancelPayment(params.ID, caller)
	if err != nil {
		writePaymentError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, txResult{TxHash: txHash})
}

func (s *Server) handlePaymentsCanRelease(w http.ResponseWriter, req *RPCRequest) {
	var params paymentsIDParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	ok, err := s.node.CanRelease(params.ID)
	if err != nil {
		writePaymentError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ok)
}

func (s *Server) handlePaymentsGet(w http.ResponseWriter, req *RPCRequest) {
	var params paymentsIDParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	payment, err := s.node.GetPayment(params.ID)
	if err != nil {
		writePaymentError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paymentToJSON(payment))
}

func (s *Server) handlePaymentsCounter(w http.ResponseWriter, req *RPCRequest) {
	counter, err := s.node.PaymentCounter()
	if err != nil {
		writePaymentError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, counter)
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params tokenActorParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, ok := parseAddress(params.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", "caller must be a 0x-prefixed address")
		return
	}
	amount, ok := parseAmount(params.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", "amount must be a base-10 integer")
		return
	}
	txHash, err := s.node.TokenApprove(owner, params.Token, amount)
	if err != nil {
		writePaymentError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, txResult{TxHash: txHash})
}

func (s *Server) handleTokenAllowance(w http.ResponseWriter, req *RPCRequest) {
	var params tokenQueryParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, ok := parseAddress(params.Owner)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", "owner must be a 0x-prefixed address")
		return
	}
	allowance, err := s.node.TokenAllowance(owner, params.Token)
	if err != nil {
		writePaymentError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, allowance.String())
}

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, req *RPCRequest) {
	var params tokenQueryParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, ok := parseAddress(params.Owner)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", "owner must be a 0x-prefixed address")
		return
	}
	balance, err := s.node.TokenBalance(owner, params.Token)
	if err != nil {
		writePaymentError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balance.String())
}

func (s *Server) handleEventsSince(w http.ResponseWriter, req *RPCRequest) {
	var params eventsSinceParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	events, err := s.node.EventsSince(params.After, params.Limit)
	if err != nil {
		writePaymentError(w, req.ID, err)
		return
	}
	if events == nil {
		events = []state.StoredEvent{}
	}
	writeResult(w, req.ID, events)
}
