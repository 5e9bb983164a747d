package escrow

import "errors"

var (
	// ErrNotFound is returned when no payment exists for the identifier.
	ErrNotFound = errors.New("escrow: payment not found")
	// ErrAlreadyFinalized is returned when releasing or cancelling a
	// payment that already reached a terminal state.
	ErrAlreadyFinalized = errors.New("escrow: payment already finalized")
	// ErrConditionNotMet is returned when a time-delay payment is released
	// before its threshold.
	ErrConditionNotMet = errors.New("escrow: release condition not met")
	// ErrNotAuthorized is returned when the caller lacks the right to
	// perform the requested transition.
	ErrNotAuthorized = errors.New("escrow: caller not authorized")
	// ErrZeroAmount rejects creation with a non-positive amount.
	ErrZeroAmount = errors.New("escrow: amount must be positive")
	// ErrInvalidRecipient rejects creation with a zero recipient address.
	ErrInvalidRecipient = errors.New("escrow: invalid recipient")
	// ErrInsufficientAllowance is returned when a fungible-token payment is
	// created without a sufficient pre-approval to the escrow vault.
	ErrInsufficientAllowance = errors.New("escrow: insufficient allowance")
	// ErrInsufficientFunds is returned when a native payment exceeds the
	// creator's balance.
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	// ErrInvalidCondition rejects creation with an out-of-range condition
	// type or a missing condition value.
	ErrInvalidCondition = errors.New("escrow: invalid condition")
	// ErrUnsupportedToken rejects creation against a token symbol the
	// token ledger does not know about.
	ErrUnsupportedToken = errors.New("escrow: unsupported token")

	errNilState   = errors.New("escrow engine: state not configured")
	errNilTokens  = errors.New("escrow engine: token ledger not configured")
	errNilPayment = errors.New("escrow engine: nil payment")
)
