package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// NativeToken is the sentinel symbol for payments escrowed in the chain's
// native currency. Every other symbol must be registered with the token
// ledger before it can back a payment.
const NativeToken = "RID"

// ConditionType selects the rule gating release of an escrowed payment.
type ConditionType uint8

const (
	// ConditionTimeDelay releases once chain time reaches the configured
	// unix timestamp. Any caller may trigger the release at that point.
	ConditionTimeDelay ConditionType = iota
	// ConditionEvent is a manually authorized release: only the payment
	// creator decides when the named event has occurred. The ledger never
	// verifies the event itself.
	ConditionEvent
)

// Valid reports whether the condition type is within the supported range.
func (c ConditionType) Valid() bool {
	switch c {
	case ConditionTimeDelay, ConditionEvent:
		return true
	default:
		return false
	}
}

func (c ConditionType) String() string {
	switch c {
	case ConditionTimeDelay:
		return "time_delay"
	case ConditionEvent:
		return "event"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// PaymentStatus is the lifecycle state of a payment. A payment starts
// Pending and transitions exactly once to Completed or Cancelled.
type PaymentStatus uint8

const (
	StatusPending PaymentStatus = iota
	StatusCompleted
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions.
func (s PaymentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s PaymentStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Payment is the authoritative escrow record held by the ledger. All fields
// except Status and CompletedAt are immutable after creation.
type Payment struct {
	ID             uint64
	Creator        [20]byte
	Recipient      [20]byte
	Amount         *big.Int
	Token          string
	ConditionType  ConditionType
	ConditionValue int64
	Status         PaymentStatus
	CreatedAt      int64
	CompletedAt    int64
}

// Clone returns a deep copy so callers can mutate the result without
// affecting the stored instance.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Amount != nil {
		clone.Amount = new(big.Int).Set(p.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// NormalizeToken trims and upper-cases the supplied token symbol. An empty
// symbol resolves to the native currency sentinel.
func NormalizeToken(symbol string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return NativeToken
	}
	return trimmed
}

// SanitizePayment validates and normalises a payment record, returning a
// cloned instance with canonical token casing and a non-nil amount. The
// original value is not mutated.
func SanitizePayment(p *Payment) (*Payment, error) {
	if p == nil {
		return nil, fmt.Errorf("escrow: nil payment")
	}
	clone := p.Clone()
	clone.Token = NormalizeToken(clone.Token)
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("escrow: amount must be non-negative")
	}
	if !clone.ConditionType.Valid() {
		return nil, fmt.Errorf("escrow: invalid condition type: %d", clone.ConditionType)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid payment status: %d", clone.Status)
	}
	return clone, nil
}
