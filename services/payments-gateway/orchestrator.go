package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/Fatumayattani/ridmint/observability"
)

const (
	conditionTimeDelay = "time_delay"
	conditionEvent     = "event"

	nativeToken = "RID"
)

// ValidationError is a client-side rejection raised before any chain
// interaction is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CreatePaymentRequest is the gateway's payment creation payload.
type CreatePaymentRequest struct {
	Creator       string `json:"creator"`
	Recipient     string `json:"recipient"`
	Amount        string `json:"amount"`
	Token         string `json:"token"`
	ConditionType string `json:"condition_type"`
	// DelaySeconds applies to time_delay payments; the absolute release
	// threshold is computed at submission time.
	DelaySeconds int64 `json:"delay_seconds,omitempty"`
	// EventID applies to event payments; it is opaque to the ledger.
	EventID string `json:"event_id,omitempty"`
}

// Orchestrator sequences the multi-step payment operations no single ledger
// call can express atomically, and keeps the off-chain index consistent
// with confirmed chain state. Chain failures propagate to callers with the
// ledger's message intact; the index is never touched on a failure path.
type Orchestrator struct {
	node            NodeClient
	store           *Store
	network         string
	contractAddress string
	confirmTimeout  time.Duration
	nowFn           func() time.Time
	log             *slog.Logger
	metrics         *observability.PaymentMetrics
}

func NewOrchestrator(node NodeClient, store *Store, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.ConfirmTimeout
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}
	return &Orchestrator{
		node:            node,
		store:           store,
		network:         cfg.Network,
		contractAddress: cfg.ContractAddress,
		confirmTimeout:  timeout,
		nowFn:           time.Now,
		log:             log,
		metrics:         observability.Payments(),
	}
}

func (o *Orchestrator) chainCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, o.confirmTimeout)
}

// SubmitCreatePayment validates locally, runs the approval flow for
// fungible-token payments, submits the creation and writes the Pending
// index row once the ledger confirms. If the approval succeeds but the
// creation fails, the allowance persists and is reused on retry.
func (o *Orchestrator) SubmitCreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentRecord, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	token := strings.ToUpper(strings.TrimSpace(req.Token))
	if token == "" {
		token = nativeToken
	}
	amount, _ := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)

	if token != nativeToken {
		if err := o.ensureAllowance(ctx, req.Creator, token, amount); err != nil {
			return nil, err
		}
	}

	conditionValue, conditionDisplay := o.resolveCondition(req)

	createCtx, cancel := o.chainCtx(ctx)
	defer cancel()
	start := o.nowFn()
	created, err := o.node.PaymentsCreate(createCtx, LedgerCreateRequest{
		Caller:         strings.ToLower(strings.TrimSpace(req.Creator)),
		Recipient:      strings.ToLower(strings.TrimSpace(req.Recipient)),
		Token:          token,
		Amount:         amount.String(),
		ConditionType:  conditionTypeCode(req.ConditionType),
		ConditionValue: conditionValue,
	})
	o.metrics.Observe("create", err, o.nowFn().Sub(start).Seconds())
	if err != nil {
		return nil, err
	}

	record := PaymentRecord{
		ID:               created.PaymentID,
		CreatorAddress:   strings.ToLower(strings.TrimSpace(req.Creator)),
		RecipientAddress: strings.ToLower(strings.TrimSpace(req.Recipient)),
		Amount:           amount.String(),
		Token:            token,
		ConditionType:    strings.TrimSpace(req.ConditionType),
		ConditionValue:   conditionDisplay,
		Status:           "pending",
		TransactionHash:  created.TxHash,
		ContractAddress:  o.contractAddress,
		Network:          o.network,
		CreatedAt:        o.nowFn().UTC(),
	}
	if err := o.store.InsertPayment(ctx, record); err != nil {
		// The payment is confirmed on the ledger; the watcher will
		// backfill the row from the creation event.
		o.log.Warn("index write failed after confirmed create", "paymentId", created.PaymentID, "error", err)
	}
	return &record, nil
}

// ensureAllowance queries the current allowance fresh and, when it falls
// short, submits an approval and awaits its confirmation. Allowance is
// external shared state and is never cached between creations.
func (o *Orchestrator) ensureAllowance(ctx context.Context, owner, token string, amount *big.Int) error {
	queryCtx, cancel := o.chainCtx(ctx)
	defer cancel()
	raw, err := o.node.TokenAllowance(queryCtx, strings.ToLower(strings.TrimSpace(owner)), token)
	if err != nil {
		return err
	}
	allowance, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return fmt.Errorf("ledger returned malformed allowance %q", raw)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	approveCtx, cancelApprove := o.chainCtx(ctx)
	defer cancelApprove()
	start := o.nowFn()
	_, err = o.node.TokenApprove(approveCtx, strings.ToLower(strings.TrimSpace(owner)), token, amount.String())
	o.metrics.Observe("approve", err, o.nowFn().Sub(start).Seconds())
	return err
}

// resolveCondition computes the ledger condition value and the
// human-readable value stored in the index. Time delays become an absolute
// unix threshold; event identifiers are folded to a stable integer.
func (o *Orchestrator) resolveCondition(req CreatePaymentRequest) (int64, string) {
	if strings.TrimSpace(req.ConditionType) == conditionTimeDelay {
		threshold := o.nowFn().Unix() + req.DelaySeconds
		return threshold, strconv.FormatInt(threshold, 10)
	}
	return eventIdentifierValue(req.EventID), strings.TrimSpace(req.EventID)
}

// eventIdentifierValue folds an opaque event identifier into a positive
// int64 the ledger can store. The ledger never interprets it.
func eventIdentifierValue(eventID string) int64 {
	sum := ethcrypto.Keccak256([]byte(strings.TrimSpace(eventID)))
	value := int64(binary.BigEndian.Uint64(sum[:8]) >> 1)
	if value == 0 {
		value = 1
	}
	return value
}

func conditionTypeCode(conditionType string) uint8 {
	if strings.TrimSpace(conditionType) == conditionEvent {
		return 1
	}
	return 0
}

// SubmitRelease invokes the ledger release and, only after confirmation,
// marks the index row completed.
func (o *Orchestrator) SubmitRelease(ctx context.Context, id uint64, caller string) error {
	callCtx, cancel := o.chainCtx(ctx)
	defer cancel()
	start := o.nowFn()
	_, err := o.node.PaymentsRelease(callCtx, id, strings.ToLower(strings.TrimSpace(caller)))
	o.metrics.Observe("release", err, o.nowFn().Sub(start).Seconds())
	if err != nil {
		return err
	}
	completedAt := o.nowFn().UTC()
	if err := o.store.UpdateStatus(ctx, id, "completed", &completedAt); err != nil {
		o.log.Warn("index update failed after confirmed release", "paymentId", id, "error", err)
	}
	return nil
}

// SubmitCancel invokes the ledger cancel and, only after confirmation,
// marks the index row cancelled.
func (o *Orchestrator) SubmitCancel(ctx context.Context, id uint64, caller string) error {
	callCtx, cancel := o.chainCtx(ctx)
	defer cancel()
	start := o.nowFn()
	_, err := o.node.PaymentsCancel(callCtx, id, strings.ToLower(strings.TrimSpace(caller)))
	o.metrics.Observe("cancel", err, o.nowFn().Sub(start).Seconds())
	if err != nil {
		return err
	}
	if err := o.store.UpdateStatus(ctx, id, "cancelled", nil); err != nil {
		o.log.Warn("index update failed after confirmed cancel", "paymentId", id, "error", err)
	}
	return nil
}

// ListPayments returns index rows for the address, either sent (creator)
// or received (recipient), newest first.
func (o *Orchestrator) ListPayments(ctx context.Context, address, role string) ([]PaymentRecord, error) {
	normalized := strings.ToLower(strings.TrimSpace(address))
	if !common.IsHexAddress(normalized) {
		return nil, &ValidationError{Field: "address", Reason: "must be a 0x-prefixed hex address"}
	}
	switch strings.TrimSpace(role) {
	case "received":
		return o.store.ListByRecipient(ctx, normalized)
	case "sent", "":
		return o.store.ListByCreator(ctx, normalized)
	default:
		return nil, &ValidationError{Field: "role", Reason: "must be sent or received"}
	}
}

// GetPayment reads through to the ledger so callers always see the
// authoritative record.
func (o *Orchestrator) GetPayment(ctx context.Context, id uint64) (*LedgerPayment, error) {
	callCtx, cancel := o.chainCtx(ctx)
	defer cancel()
	return o.node.PaymentsGet(callCtx, id)
}

// CanRelease probes the ledger's condition evaluation for the payment.
func (o *Orchestrator) CanRelease(ctx context.Context, id uint64) (bool, error) {
	callCtx, cancel := o.chainCtx(ctx)
	defer cancel()
	return o.node.PaymentsCanRelease(callCtx, id)
}

func validateCreateRequest(req CreatePaymentRequest) error {
	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" {
		return &ValidationError{Field: "recipient", Reason: "required"}
	}
	if !common.IsHexAddress(recipient) {
		return &ValidationError{Field: "recipient", Reason: "must be a 0x-prefixed hex address"}
	}
	if common.HexToAddress(recipient) == (common.Address{}) {
		return &ValidationError{Field: "recipient", Reason: "must not be the zero address"}
	}
	creator := strings.TrimSpace(req.Creator)
	if creator == "" {
		return &ValidationError{Field: "creator", Reason: "required"}
	}
	if !common.IsHexAddress(creator) {
		return &ValidationError{Field: "creator", Reason: "must be a 0x-prefixed hex address"}
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok {
		return &ValidationError{Field: "amount", Reason: "must be a base-10 integer"}
	}
	if amount.Sign() <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	switch strings.TrimSpace(req.ConditionType) {
	case conditionTimeDelay:
		if req.DelaySeconds <= 0 {
			return &ValidationError{Field: "delay_seconds", Reason: "required for time_delay payments"}
		}
	case conditionEvent:
		if strings.TrimSpace(req.EventID) == "" {
			return &ValidationError{Field: "event_id", Reason: "required for event payments"}
		}
	default:
		return &ValidationError{Field: "condition_type", Reason: "must be time_delay or event"}
	}
	return nil
}
