package escrow

import (
	"math/big"
	"time"

	"github.com/Fatumayattani/ridmint/core/events"
	"github.com/Fatumayattani/ridmint/core/types"
)

type engineState interface {
	PaymentPut(*Payment) error
	PaymentGet(id uint64) (*Payment, bool)
	NextPaymentID() (uint64, error)
	PaymentCount() (uint64, error)
	EscrowVaultAddress() ([20]byte, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// tokenLedger is the slice of the fungible-token module the escrow engine
// depends on. The vault address acts as the spender for allowance pulls.
type tokenLedger interface {
	Supported(token string) bool
	Allowance(token string, owner, spender [20]byte) (*big.Int, error)
	Transfer(token string, from, to [20]byte, amount *big.Int) error
	TransferFrom(token string, owner, spender, to [20]byte, amount *big.Int) error
}

type paymentEvent struct {
	evt *types.Event
}

func (e paymentEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e paymentEvent) Event() *types.Event { return e.evt }

// Engine wires the conditional payment state machine with external state,
// the token ledger and an event emitter. All mutations are serialized by
// the caller; the engine itself holds no locks.
type Engine struct {
	state   engineState
	tokens  tokenLedger
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an engine with a no-op emitter. Callers can override the
// emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokenLedger configures the fungible-token module used for non-native
// payments.
func (e *Engine) SetTokenLedger(tokens tokenLedger) { e.tokens = tokens }

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(paymentEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadPayment(id uint64) (*Payment, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	payment, ok := e.state.PaymentGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return payment, nil
}

func (e *Engine) storePayment(p *Payment) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.PaymentPut(p)
}

// transferNative moves native currency between accounts held in state.
func (e *Engine) transferNative(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = fromAcc.EnsureDefaults()
	toAcc = toAcc.EnsureDefaults()
	if fromAcc.BalanceRID.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.BalanceRID = new(big.Int).Sub(fromAcc.BalanceRID, amt)
	toAcc.BalanceRID = new(big.Int).Add(toAcc.BalanceRID, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// payOut settles the escrowed amount from the vault to the supplied address.
func (e *Engine) payOut(p *Payment, to [20]byte) error {
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return err
	}
	amount := cloneBigInt(p.Amount)
	if p.Token == NativeToken {
		return e.transferNative(vault, to, amount)
	}
	if e.tokens == nil {
		return errNilTokens
	}
	return e.tokens.Transfer(p.Token, vault, to, amount)
}

// Create validates the request, escrows the funds and persists a new
// Pending payment. The identifier is assigned from the ledger's monotonic
// payment counter and never reused.
func (e *Engine) Create(creator, recipient [20]byte, token string, amount *big.Int, conditionType ConditionType, conditionValue int64) (*Payment, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if recipient == ([20]byte{}) {
		return nil, ErrInvalidRecipient
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if !conditionType.Valid() {
		return nil, ErrInvalidCondition
	}
	if conditionType == ConditionTimeDelay && conditionValue <= 0 {
		return nil, ErrInvalidCondition
	}
	normalized := NormalizeToken(token)
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return nil, err
	}
	if normalized == NativeToken {
		if err := e.transferNative(creator, vault, amt); err != nil {
			return nil, err
		}
	} else {
		if e.tokens == nil {
			return nil, errNilTokens
		}
		if !e.tokens.Supported(normalized) {
			return nil, ErrUnsupportedToken
		}
		allowance, err := e.tokens.Allowance(normalized, creator, vault)
		if err != nil {
			return nil, err
		}
		if allowance.Cmp(amt) < 0 {
			return nil, ErrInsufficientAllowance
		}
		if err := e.tokens.TransferFrom(normalized, creator, vault, vault, amt); err != nil {
			return nil, err
		}
	}
	id, err := e.state.NextPaymentID()
	if err != nil {
		return nil, err
	}
	payment := &Payment{
		ID:             id,
		Creator:        creator,
		Recipient:      recipient,
		Amount:         amt,
		Token:          normalized,
		ConditionType:  conditionType,
		ConditionValue: conditionValue,
		Status:         StatusPending,
		CreatedAt:      e.now(),
	}
	if err := e.storePayment(payment); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(payment))
	return payment.Clone(), nil
}

// Release transitions a Pending payment to Completed and pays the recipient.
// Authorization follows the condition rules: a satisfied time delay may be
// released by anyone, an event condition only by the creator.
func (e *Engine) Release(id uint64, caller [20]byte) error {
	payment, err := e.loadPayment(id)
	if err != nil {
		return err
	}
	if payment.Status.Terminal() {
		return ErrAlreadyFinalized
	}
	now := e.now()
	if err := ReleaseAuthorized(payment, caller, now); err != nil {
		return err
	}
	if err := e.payOut(payment, payment.Recipient); err != nil {
		return err
	}
	payment.Status = StatusCompleted
	payment.CompletedAt = now
	if err := e.storePayment(payment); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(payment))
	return nil
}

// Cancel transitions a Pending payment to Cancelled and refunds the creator.
// Only the creator may cancel.
func (e *Engine) Cancel(id uint64, caller [20]byte) error {
	payment, err := e.loadPayment(id)
	if err != nil {
		return err
	}
	if payment.Status.Terminal() {
		return ErrAlreadyFinalized
	}
	if caller != payment.Creator {
		return ErrNotAuthorized
	}
	if err := e.payOut(payment, payment.Creator); err != nil {
		return err
	}
	payment.Status = StatusCancelled
	if err := e.storePayment(payment); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(payment))
	return nil
}

// CanRelease reports whether the payment's condition is currently satisfied.
// Event conditions always report false here: a read-only probe carries no
// caller identity, and release is purely the creator's decision.
func (e *Engine) CanRelease(id uint64) (bool, error) {
	payment, err := e.loadPayment(id)
	if err != nil {
		return false, err
	}
	if payment.Status != StatusPending {
		return false, nil
	}
	return ConditionSatisfied(payment.ConditionType, payment.ConditionValue, e.now()), nil
}

// Get returns a copy of the payment record.
func (e *Engine) Get(id uint64) (*Payment, error) {
	payment, err := e.loadPayment(id)
	if err != nil {
		return nil, err
	}
	return payment.Clone(), nil
}

// PaymentCounter returns the number of payments ever created.
func (e *Engine) PaymentCounter() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.PaymentCount()
}
