package state

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/Fatumayattani/ridmint/core/types"
	"github.com/Fatumayattani/ridmint/native/escrow"
	"github.com/Fatumayattani/ridmint/storage"
)

const (
	keyPaymentCounter = "payments/counter"
	keyLatestEvent    = "events/latest"

	prefixAccount        = "accounts/"
	prefixPayment        = "payments/"
	prefixEvent          = "events/"
	prefixTokenBalance   = "token/balance/"
	prefixTokenAllowance = "token/allowance/"
)

// escrowVaultAddr is the module account that custodies escrowed funds. It is
// derived from a fixed label so it cannot collide with a user key.
var escrowVaultAddr = deriveModuleAddress("ridmint/escrow-vault")

func deriveModuleAddress(label string) [20]byte {
	var addr [20]byte
	sum := ethcrypto.Keccak256([]byte(label))
	copy(addr[:], sum[12:])
	return addr
}

// Manager persists accounts, payments, token balances and the ordered event
// log in a storage.Database. It implements the state interfaces of the
// escrow engine and the token ledger.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// EscrowVaultAddress returns the module vault account.
func (m *Manager) EscrowVaultAddress() ([20]byte, error) {
	return escrowVaultAddr, nil
}

// GetAccount loads the account for the address, returning a zeroed account
// when none is stored yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	raw, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return (&types.Account{}).EnsureDefaults(), nil
	}
	if err != nil {
		return nil, err
	}
	account := &types.Account{}
	if err := json.Unmarshal(raw, account); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return account.EnsureDefaults(), nil
}

// PutAccount stores the account for the address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	raw, err := json.Marshal(account.EnsureDefaults())
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return m.db.Put(accountKey(addr), raw)
}

func accountKey(addr []byte) []byte {
	return []byte(prefixAccount + hex.EncodeToString(addr))
}

// paymentRecord is the persisted form of an escrow payment. Addresses are
// hex-encoded so the record survives JSON round trips.
type paymentRecord struct {
	ID             uint64 `json:"id"`
	Creator        string `json:"creator"`
	Recipient      string `json:"recipient"`
	Amount         string `json:"amount"`
	Token          string `json:"token"`
	ConditionType  uint8  `json:"conditionType"`
	ConditionValue int64  `json:"conditionValue"`
	Status         uint8  `json:"status"`
	CreatedAt      int64  `json:"createdAt"`
	CompletedAt    int64  `json:"completedAt,omitempty"`
}

// PaymentPut persists the payment record.
func (m *Manager) PaymentPut(p *escrow.Payment) error {
	sanitized, err := escrow.SanitizePayment(p)
	if err != nil {
		return err
	}
	record := paymentRecord{
		ID:             sanitized.ID,
		Creator:        hex.EncodeToString(sanitized.Creator[:]),
		Recipient:      hex.EncodeToString(sanitized.Recipient[:]),
		Amount:         sanitized.Amount.String(),
		Token:          sanitized.Token,
		ConditionType:  uint8(sanitized.ConditionType),
		ConditionValue: sanitized.ConditionValue,
		Status:         uint8(sanitized.Status),
		CreatedAt:      sanitized.CreatedAt,
		CompletedAt:    sanitized.CompletedAt,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("state: encode payment: %w", err)
	}
	return m.db.Put(paymentKey(sanitized.ID), raw)
}

// PaymentGet loads a payment by identifier.
func (m *Manager) PaymentGet(id uint64) (*escrow.Payment, bool) {
	raw, err := m.db.Get(paymentKey(id))
	if err != nil {
		return nil, false
	}
	var record paymentRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false
	}
	amount, ok := new(big.Int).SetString(record.Amount, 10)
	if !ok {
		return nil, false
	}
	payment := &escrow.Payment{
		ID:             record.ID,
		Amount:         amount,
		Token:          record.Token,
		ConditionType:  escrow.ConditionType(record.ConditionType),
		ConditionValue: record.ConditionValue,
		Status:         escrow.PaymentStatus(record.Status),
		CreatedAt:      record.CreatedAt,
		CompletedAt:    record.CompletedAt,
	}
	if !decodeAddress(record.Creator, &payment.Creator) || !decodeAddress(record.Recipient, &payment.Recipient) {
		return nil, false
	}
	return payment, true
}

func decodeAddress(s string, out *[20]byte) bool {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(out) {
		return false
	}
	copy(out[:], raw)
	return true
}

func paymentKey(id uint64) []byte {
	return []byte(prefixPayment + strconv.FormatUint(id, 10))
}

// NextPaymentID increments and returns the monotonic payment counter. The
// first assigned identifier is 1.
func (m *Manager) NextPaymentID() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counter, err := m.readCounter(keyPaymentCounter)
	if err != nil {
		return 0, err
	}
	counter++
	if err := m.writeCounter(keyPaymentCounter, counter); err != nil {
		return 0, err
	}
	return counter, nil
}

// PaymentCount returns the number of payments ever created.
func (m *Manager) PaymentCount() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCounter(keyPaymentCounter)
}

func (m *Manager) readCounter(key string) (uint64, error) {
	raw, err := m.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: malformed counter %q", key)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (m *Manager) writeCounter(key string, value uint64) error {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, value)
	return m.db.Put([]byte(key), raw)
}

// TokenBalance returns the stored balance, zero when absent.
func (m *Manager) TokenBalance(token string, addr [20]byte) (*big.Int, error) {
	return m.readBigInt(tokenBalanceKey(token, addr))
}

// SetTokenBalance stores the balance for the holder.
func (m *Manager) SetTokenBalance(token string, addr [20]byte, amount *big.Int) error {
	return m.writeBigInt(tokenBalanceKey(token, addr), amount)
}

// TokenAllowance returns the stored allowance, zero when absent.
func (m *Manager) TokenAllowance(token string, owner, spender [20]byte) (*big.Int, error) {
	return m.readBigInt(tokenAllowanceKey(token, owner, spender))
}

// SetTokenAllowance stores the spender's allowance over the owner's balance.
func (m *Manager) SetTokenAllowance(token string, owner, spender [20]byte, amount *big.Int) error {
	return m.writeBigInt(tokenAllowanceKey(token, owner, spender), amount)
}

func (m *Manager) readBigInt(key []byte) (*big.Int, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	value, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("state: malformed amount at %q", key)
	}
	return value, nil
}

func (m *Manager) writeBigInt(key []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	return m.db.Put(key, []byte(amount.String()))
}

func tokenBalanceKey(token string, addr [20]byte) []byte {
	return []byte(prefixTokenBalance + token + "/" + hex.EncodeToString(addr[:]))
}

func tokenAllowanceKey(token string, owner, spender [20]byte) []byte {
	return []byte(prefixTokenAllowance + token + "/" + hex.EncodeToString(owner[:]) + "/" + hex.EncodeToString(spender[:]))
}

// StoredEvent is an entry of the ordered event log consumed by off-chain
// indexers through the events_since RPC.
type StoredEvent struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	TxHash     string            `json:"txHash"`
	Timestamp  int64             `json:"timestamp"`
}

// AppendEvent assigns the next sequence number and persists the event.
func (m *Manager) AppendEvent(evt *types.Event, txHash string, timestamp int64) (int64, error) {
	if evt == nil {
		return 0, fmt.Errorf("state: nil event")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	latest, err := m.readCounter(keyLatestEvent)
	if err != nil {
		return 0, err
	}
	latest++
	stored := StoredEvent{
		Sequence:   int64(latest),
		Type:       evt.Type,
		Attributes: evt.Attributes,
		TxHash:     txHash,
		Timestamp:  timestamp,
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return 0, fmt.Errorf("state: encode event: %w", err)
	}
	if err := m.db.Put(eventKey(int64(latest)), raw); err != nil {
		return 0, err
	}
	if err := m.writeCounter(keyLatestEvent, latest); err != nil {
		return 0, err
	}
	return int64(latest), nil
}

// EventsSince returns up to limit events with sequence strictly greater than
// after, in ascending order.
func (m *Manager) EventsSince(after int64, limit int) ([]StoredEvent, error) {
	m.mu.Lock()
	latest, err := m.readCounter(keyLatestEvent)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if after < 0 {
		after = 0
	}
	var out []StoredEvent
	for seq := after + 1; seq <= int64(latest) && len(out) < limit; seq++ {
		raw, err := m.db.Get(eventKey(seq))
		if errors.Is(err, storage.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var stored StoredEvent
		if err := json.Unmarshal(raw, &stored); err != nil {
			return nil, fmt.Errorf("state: decode event %d: %w", seq, err)
		}
		out = append(out, stored)
	}
	return out, nil
}

func eventKey(seq int64) []byte {
	return []byte(prefixEvent + strconv.FormatInt(seq, 10))
}
