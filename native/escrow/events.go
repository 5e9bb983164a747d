package escrow

import (
	"encoding/hex"
	"strconv"

	"github.com/Fatumayattani/ridmint/core/types"
)

const (
	EventTypePaymentCreated   = "payments.created"
	EventTypePaymentReleased  = "payments.released"
	EventTypePaymentCancelled = "payments.cancelled"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// payment.
func NewCreatedEvent(p *Payment) *types.Event {
	attrs := baseAttributes(p)
	if p != nil {
		attrs["recipient"] = encodeAddress(p.Recipient)
		attrs["token"] = NormalizeToken(p.Token)
		attrs["conditionType"] = p.ConditionType.String()
		attrs["conditionValue"] = strconv.FormatInt(p.ConditionValue, 10)
		attrs["createdAt"] = strconv.FormatInt(p.CreatedAt, 10)
	}
	return &types.Event{Type: EventTypePaymentCreated, Attributes: attrs}
}

// NewReleasedEvent returns the canonical event payload emitted when escrowed
// funds are paid out to the recipient.
func NewReleasedEvent(p *Payment) *types.Event {
	attrs := baseAttributes(p)
	if p != nil {
		attrs["recipient"] = encodeAddress(p.Recipient)
		attrs["completedAt"] = strconv.FormatInt(p.CompletedAt, 10)
	}
	return &types.Event{Type: EventTypePaymentReleased, Attributes: attrs}
}

// NewCancelledEvent returns the canonical event payload emitted when a
// payment is cancelled and refunded to its creator.
func NewCancelledEvent(p *Payment) *types.Event {
	return &types.Event{Type: EventTypePaymentCancelled, Attributes: baseAttributes(p)}
}

func baseAttributes(p *Payment) map[string]string {
	attrs := make(map[string]string)
	if p == nil {
		return attrs
	}
	attrs["id"] = strconv.FormatUint(p.ID, 10)
	attrs["creator"] = encodeAddress(p.Creator)
	if p.Amount != nil {
		attrs["amount"] = p.Amount.String()
	} else {
		attrs["amount"] = "0"
	}
	return attrs
}

func encodeAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}
