package token

import (
	"errors"
	"math/big"
	"strings"
)

var (
	// ErrUnknownToken is returned for symbols not registered with the
	// ledger.
	ErrUnknownToken = errors.New("token: unknown token")
	// ErrInsufficientBalance is returned when a transfer exceeds the
	// holder's balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrInsufficientAllowance is returned when a transfer-from exceeds
	// the spender's remaining allowance.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	// ErrNegativeAmount rejects negative amounts on any operation.
	ErrNegativeAmount = errors.New("token: negative amount")

	errNilState = errors.New("token ledger: state not configured")
)

type ledgerState interface {
	TokenBalance(token string, addr [20]byte) (*big.Int, error)
	SetTokenBalance(token string, addr [20]byte, amount *big.Int) error
	TokenAllowance(token string, owner, spender [20]byte) (*big.Int, error)
	SetTokenAllowance(token string, owner, spender [20]byte, amount *big.Int) error
}

// Ledger manages balances and allowances for the registered fungible tokens.
// It mirrors the approve/allowance/transfer-from surface of an ERC-20 token
// so the escrow engine can pull pre-approved funds into its vault.
type Ledger struct {
	state   ledgerState
	symbols map[string]struct{}
}

// NewLedger creates a ledger backed by the supplied state with the given
// token symbols registered.
func NewLedger(state ledgerState, symbols ...string) *Ledger {
	l := &Ledger{state: state, symbols: make(map[string]struct{})}
	for _, symbol := range symbols {
		l.Register(symbol)
	}
	return l
}

// Register adds a token symbol to the supported set.
func (l *Ledger) Register(symbol string) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return
	}
	l.symbols[trimmed] = struct{}{}
}

// Supported reports whether the symbol is registered.
func (l *Ledger) Supported(symbol string) bool {
	_, ok := l.symbols[strings.ToUpper(strings.TrimSpace(symbol))]
	return ok
}

// Symbols returns the registered token symbols.
func (l *Ledger) Symbols() []string {
	out := make([]string, 0, len(l.symbols))
	for symbol := range l.symbols {
		out = append(out, symbol)
	}
	return out
}

func (l *Ledger) resolve(symbol string) (string, error) {
	if l == nil || l.state == nil {
		return "", errNilState
	}
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if _, ok := l.symbols[trimmed]; !ok {
		return "", ErrUnknownToken
	}
	return trimmed, nil
}

func normalizeAmount(amount *big.Int) (*big.Int, error) {
	if amount == nil {
		return big.NewInt(0), nil
	}
	if amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	return new(big.Int).Set(amount), nil
}

// BalanceOf returns the holder's balance for the token.
func (l *Ledger) BalanceOf(symbol string, addr [20]byte) (*big.Int, error) {
	token, err := l.resolve(symbol)
	if err != nil {
		return nil, err
	}
	return l.state.TokenBalance(token, addr)
}

// Mint credits freshly issued units to the address. Used by genesis setup
// and test fixtures; there is no burn path.
func (l *Ledger) Mint(symbol string, addr [20]byte, amount *big.Int) error {
	token, err := l.resolve(symbol)
	if err != nil {
		return err
	}
	amt, err := normalizeAmount(amount)
	if err != nil {
		return err
	}
	balance, err := l.state.TokenBalance(token, addr)
	if err != nil {
		return err
	}
	return l.state.SetTokenBalance(token, addr, new(big.Int).Add(balance, amt))
}

// Approve sets the spender's allowance over the owner's balance to exactly
// amount, replacing any prior approval.
func (l *Ledger) Approve(symbol string, owner, spender [20]byte, amount *big.Int) error {
	token, err := l.resolve(symbol)
	if err != nil {
		return err
	}
	amt, err := normalizeAmount(amount)
	if err != nil {
		return err
	}
	return l.state.SetTokenAllowance(token, owner, spender, amt)
}

// Allowance returns the spender's remaining allowance over the owner's
// balance.
func (l *Ledger) Allowance(symbol string, owner, spender [20]byte) (*big.Int, error) {
	token, err := l.resolve(symbol)
	if err != nil {
		return nil, err
	}
	return l.state.TokenAllowance(token, owner, spender)
}

// Transfer moves amount from one holder to another.
func (l *Ledger) Transfer(symbol string, from, to [20]byte, amount *big.Int) error {
	token, err := l.resolve(symbol)
	if err != nil {
		return err
	}
	amt, err := normalizeAmount(amount)
	if err != nil {
		return err
	}
	return l.move(token, from, to, amt)
}

// TransferFrom moves amount from the owner to the destination on behalf of
// the spender, consuming allowance. The remaining allowance is decremented
// by exactly the transferred amount.
func (l *Ledger) TransferFrom(symbol string, owner, spender, to [20]byte, amount *big.Int) error {
	token, err := l.resolve(symbol)
	if err != nil {
		return err
	}
	amt, err := normalizeAmount(amount)
	if err != nil {
		return err
	}
	allowance, err := l.state.TokenAllowance(token, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amt) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.move(token, owner, to, amt); err != nil {
		return err
	}
	remaining := new(big.Int).Sub(allowance, amt)
	return l.state.SetTokenAllowance(token, owner, spender, remaining)
}

func (l *Ledger) move(token string, from, to [20]byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	fromBalance, err := l.state.TokenBalance(token, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := l.state.TokenBalance(token, to)
	if err != nil {
		return err
	}
	if err := l.state.SetTokenBalance(token, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.state.SetTokenBalance(token, to, new(big.Int).Add(toBalance, amount))
}
