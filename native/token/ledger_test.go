package token

import (
	"errors"
	"math/big"
	"testing"
)

type memState struct {
	balances   map[string]map[[20]byte]*big.Int
	allowances map[string]map[[20]byte]map[[20]byte]*big.Int
}

func newMemState() *memState {
	return &memState{
		balances:   make(map[string]map[[20]byte]*big.Int),
		allowances: make(map[string]map[[20]byte]map[[20]byte]*big.Int),
	}
}

func (m *memState) TokenBalance(token string, addr [20]byte) (*big.Int, error) {
	if bal, ok := m.balances[token][addr]; ok && bal != nil {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *memState) SetTokenBalance(token string, addr [20]byte, amount *big.Int) error {
	if m.balances[token] == nil {
		m.balances[token] = make(map[[20]byte]*big.Int)
	}
	m.balances[token][addr] = new(big.Int).Set(amount)
	return nil
}

func (m *memState) TokenAllowance(token string, owner, spender [20]byte) (*big.Int, error) {
	if allowance, ok := m.allowances[token][owner][spender]; ok && allowance != nil {
		return new(big.Int).Set(allowance), nil
	}
	return big.NewInt(0), nil
}

func (m *memState) SetTokenAllowance(token string, owner, spender [20]byte, amount *big.Int) error {
	if m.allowances[token] == nil {
		m.allowances[token] = make(map[[20]byte]map[[20]byte]*big.Int)
	}
	if m.allowances[token][owner] == nil {
		m.allowances[token][owner] = make(map[[20]byte]*big.Int)
	}
	m.allowances[token][owner][spender] = new(big.Int).Set(amount)
	return nil
}

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestRegisterAndSupported(t *testing.T) {
	ledger := NewLedger(newMemState(), "rusd")
	if !ledger.Supported("RUSD") || !ledger.Supported(" rusd ") {
		t.Fatalf("expected RUSD supported regardless of casing")
	}
	if ledger.Supported("DOGE") {
		t.Fatalf("unregistered symbol must not be supported")
	}
	if _, err := ledger.BalanceOf("DOGE", addr(0x01)); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestMintAndTransfer(t *testing.T) {
	ledger := NewLedger(newMemState(), "RUSD")
	alice, bob := addr(0x01), addr(0x02)

	if err := ledger.Mint("RUSD", alice, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer("RUSD", alice, bob, big.NewInt(200)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	aliceBal, _ := ledger.BalanceOf("RUSD", alice)
	bobBal, _ := ledger.BalanceOf("RUSD", bob)
	if aliceBal.Int64() != 300 || bobBal.Int64() != 200 {
		t.Fatalf("expected 300/200, got %s/%s", aliceBal, bobBal)
	}

	if err := ledger.Transfer("RUSD", alice, bob, big.NewInt(1_000)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := ledger.Transfer("RUSD", alice, bob, big.NewInt(-1)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestApproveReplacesAllowance(t *testing.T) {
	ledger := NewLedger(newMemState(), "RUSD")
	owner, spender := addr(0x01), addr(0x02)

	if err := ledger.Approve("RUSD", owner, spender, big.NewInt(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.Approve("RUSD", owner, spender, big.NewInt(40)); err != nil {
		t.Fatalf("second approve: %v", err)
	}
	allowance, err := ledger.Allowance("RUSD", owner, spender)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	// Approvals set the absolute allowance, they do not accumulate.
	if allowance.Int64() != 40 {
		t.Fatalf("expected allowance 40, got %s", allowance)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	ledger := NewLedger(newMemState(), "RUSD")
	owner, spender, dest := addr(0x01), addr(0x02), addr(0x03)

	if err := ledger.Mint("RUSD", owner, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.TransferFrom("RUSD", owner, spender, dest, big.NewInt(100)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}

	if err := ledger.Approve("RUSD", owner, spender, big.NewInt(150)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom("RUSD", owner, spender, dest, big.NewInt(100)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	remaining, _ := ledger.Allowance("RUSD", owner, spender)
	if remaining.Int64() != 50 {
		t.Fatalf("expected remaining allowance 50, got %s", remaining)
	}
	destBal, _ := ledger.BalanceOf("RUSD", dest)
	if destBal.Int64() != 100 {
		t.Fatalf("expected destination balance 100, got %s", destBal)
	}

	if err := ledger.TransferFrom("RUSD", owner, spender, dest, big.NewInt(60)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance after decrement, got %v", err)
	}
}

func TestTransferFromInsufficientBalanceKeepsAllowance(t *testing.T) {
	ledger := NewLedger(newMemState(), "RUSD")
	owner, spender, dest := addr(0x01), addr(0x02), addr(0x03)

	if err := ledger.Approve("RUSD", owner, spender, big.NewInt(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom("RUSD", owner, spender, dest, big.NewInt(100)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	allowance, _ := ledger.Allowance("RUSD", owner, spender)
	if allowance.Int64() != 100 {
		t.Fatalf("failed transfer must not consume allowance, got %s", allowance)
	}
}
