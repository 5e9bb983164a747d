package types

import "math/big"

// Account holds the native RID balance for an address. Fungible-token
// balances live in the token ledger, not here.
type Account struct {
	Nonce      uint64   `json:"nonce"`
	BalanceRID *big.Int `json:"balanceRID"`
}

// EnsureDefaults replaces nil big.Int fields with zero values so callers can
// operate on the account without nil checks.
func (a *Account) EnsureDefaults() *Account {
	if a == nil {
		return &Account{BalanceRID: big.NewInt(0)}
	}
	if a.BalanceRID == nil {
		a.BalanceRID = big.NewInt(0)
	}
	return a
}
