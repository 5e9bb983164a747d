package escrow

// ConditionSatisfied reports whether a payment's release condition holds at
// the supplied chain time, independent of caller identity. Event conditions
// are never automatically satisfied: the ledger performs no verification of
// the named event and release is purely a creator decision.
func ConditionSatisfied(conditionType ConditionType, conditionValue, now int64) bool {
	switch conditionType {
	case ConditionTimeDelay:
		return now >= conditionValue
	case ConditionEvent:
		return false
	default:
		return false
	}
}

// ReleaseAuthorized decides whether caller may release the payment at the
// supplied chain time. It returns nil when the release is permitted,
// ErrConditionNotMet when a time-delay threshold has not elapsed, and
// ErrNotAuthorized when an event payment is released by anyone other than
// its creator. Status checks are the engine's responsibility.
func ReleaseAuthorized(p *Payment, caller [20]byte, now int64) error {
	if p == nil {
		return errNilPayment
	}
	switch p.ConditionType {
	case ConditionTimeDelay:
		// Once the threshold elapses any address may trigger the
		// release; before that nobody may, the creator included.
		if now < p.ConditionValue {
			return ErrConditionNotMet
		}
		return nil
	case ConditionEvent:
		if caller != p.Creator {
			return ErrNotAuthorized
		}
		return nil
	default:
		return ErrInvalidCondition
	}
}
