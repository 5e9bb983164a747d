package core

import (
	"encoding/hex"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/Fatumayattani/ridmint/core/events"
	"github.com/Fatumayattani/ridmint/core/state"
	"github.com/Fatumayattani/ridmint/core/types"
	"github.com/Fatumayattani/ridmint/native/escrow"
	"github.com/Fatumayattani/ridmint/native/token"
	"github.com/Fatumayattani/ridmint/storage"
)

// Node owns the ledger state and serializes every mutating operation. Each
// confirmed mutation is assigned a transaction hash and its emitted events
// are appended to the ordered event log consumed by off-chain indexers.
type Node struct {
	mu      sync.Mutex
	state   *state.Manager
	engine  *escrow.Engine
	tokens  *token.Ledger
	nowFn   func() int64
	txNonce uint64
	log     *slog.Logger

	pending []*types.Event
}

// NewNode wires the escrow engine and token ledger over the supplied
// database. The token symbols become the supported fungible tokens.
func NewNode(db storage.Database, tokenSymbols ...string) *Node {
	manager := state.NewManager(db)
	ledger := token.NewLedger(manager, tokenSymbols...)
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetTokenLedger(ledger)
	node := &Node{
		state:  manager,
		engine: engine,
		tokens: ledger,
		nowFn:  func() int64 { return time.Now().Unix() },
		log:    slog.Default(),
	}
	engine.SetEmitter(node)
	return node
}

// SetNowFunc overrides the node's time source, propagating it to the escrow
// engine. Intended for tests.
func (n *Node) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	n.nowFn = now
	n.engine.SetNowFunc(now)
}

// Emit collects events produced inside a mutation. Part of the
// events.Emitter contract; callers outside the node must not invoke it.
func (n *Node) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if e := evt.Event(); e != nil {
		n.pending = append(n.pending, e)
	}
}

// txHash derives a deterministic transaction hash for a confirmed mutation.
func (n *Node) txHash(method string, payload string) string {
	n.txNonce++
	sum := ethcrypto.Keccak256(
		[]byte(method),
		[]byte(payload),
		[]byte(strconv.FormatUint(n.txNonce, 10)),
	)
	return "0x" + hex.EncodeToString(sum)
}

// runMutation executes op under the node lock and, on success, flushes the
// events it emitted into the persistent log tagged with a fresh tx hash.
func (n *Node) runMutation(method, payload string, op func() error) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = n.pending[:0]
	if err := op(); err != nil {
		n.pending = n.pending[:0]
		return "", err
	}
	hash := n.txHash(method, payload)
	now := n.nowFn()
	for _, evt := range n.pending {
		// The mutation is already committed at this point. A failed append
		// must not surface as a failed mutation, so log and keep going.
		if _, err := n.state.AppendEvent(evt, hash, now); err != nil {
			n.log.Error("event append failed", "method", method, "txHash", hash, "eventType", evt.Type, "error", err)
		}
	}
	n.pending = n.pending[:0]
	return hash, nil
}

// CreatePayment escrows funds and records a new Pending payment.
func (n *Node) CreatePayment(creator, recipient [20]byte, tokenSymbol string, amount *big.Int, conditionType escrow.ConditionType, conditionValue int64) (*escrow.Payment, string, error) {
	var created *escrow.Payment
	payload := hex.EncodeToString(creator[:]) + hex.EncodeToString(recipient[:]) + tokenSymbol + amount.String()
	hash, err := n.runMutation("payments_create", payload, func() error {
		payment, err := n.engine.Create(creator, recipient, tokenSymbol, amount, conditionType, conditionValue)
		if err != nil {
			return err
		}
		created = payment
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return created, hash, nil
}

// ReleasePayment transitions the payment to Completed and pays its recipient.
func (n *Node) ReleasePayment(id uint64, caller [20]byte) (string, error) {
	payload := strconv.FormatUint(id, 10) + hex.EncodeToString(caller[:])
	return n.runMutation("payments_release", payload, func() error {
		return n.engine.Release(id, caller)
	})
}

// CancelPayment transitions the payment to Cancelled and refunds its creator.
func (n *Node) CancelPayment(id uint64, caller [20]byte) (string, error) {
	payload := strconv.FormatUint(id, 10) + hex.EncodeToString(caller[:])
	return n.runMutation("payments_cancel", payload, func() error {
		return n.engine.Cancel(id, caller)
	})
}

// CanRelease reports whether the payment's condition is currently satisfied.
func (n *Node) CanRelease(id uint64) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.CanRelease(id)
}

// GetPayment returns a copy of the payment record.
func (n *Node) GetPayment(id uint64) (*escrow.Payment, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Get(id)
}

// PaymentCounter returns the number of payments ever created.
func (n *Node) PaymentCounter() (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.PaymentCounter()
}

// TokenApprove sets the escrow vault's allowance over the owner's balance.
func (n *Node) TokenApprove(owner [20]byte, tokenSymbol string, amount *big.Int) (string, error) {
	vault, err := n.state.EscrowVaultAddress()
	if err != nil {
		return "", err
	}
	payload := hex.EncodeToString(owner[:]) + tokenSymbol + amount.String()
	return n.runMutation("token_approve", payload, func() error {
		return n.tokens.Approve(tokenSymbol, owner, vault, amount)
	})
}

// TokenAllowance returns the escrow vault's remaining allowance over the
// owner's balance.
func (n *Node) TokenAllowance(owner [20]byte, tokenSymbol string) (*big.Int, error) {
	vault, err := n.state.EscrowVaultAddress()
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens.Allowance(tokenSymbol, owner, vault)
}

// TokenBalance returns the owner's balance. The native symbol reads the
// account balance, every other symbol the token ledger.
func (n *Node) TokenBalance(owner [20]byte, tokenSymbol string) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if escrow.NormalizeToken(tokenSymbol) == escrow.NativeToken {
		account, err := n.state.GetAccount(owner[:])
		if err != nil {
			return nil, err
		}
		return new(big.Int).Set(account.BalanceRID), nil
	}
	return n.tokens.BalanceOf(tokenSymbol, owner)
}

// FundNative credits native currency to the address. Used by genesis
// allocations and test fixtures.
func (n *Node) FundNative(addr [20]byte, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	account, err := n.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account.BalanceRID = new(big.Int).Add(account.BalanceRID, amount)
	return n.state.PutAccount(addr[:], account)
}

// MintToken credits fungible-token units to the address. Used by genesis
// allocations and test fixtures.
func (n *Node) MintToken(tokenSymbol string, addr [20]byte, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens.Mint(tokenSymbol, addr, amount)
}

// EventsSince returns up to limit events with sequence greater than after.
func (n *Node) EventsSince(after int64, limit int) ([]state.StoredEvent, error) {
	return n.state.EventsSince(after, limit)
}
