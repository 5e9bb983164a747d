package core

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/Fatumayattani/ridmint/native/escrow"
	"github.com/Fatumayattani/ridmint/storage"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	node := NewNode(storage.NewMemDB(), "RUSD")
	node.SetNowFunc(func() int64 { return 1_700_000_000 })
	return node
}

func testAddr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestNodeNativePaymentLifecycle(t *testing.T) {
	node := newTestNode(t)
	creator := testAddr(0x01)
	recipient := testAddr(0x02)
	if err := node.FundNative(creator, big.NewInt(1_000)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	payment, txHash, err := node.CreatePayment(creator, recipient, "", big.NewInt(400), escrow.ConditionTimeDelay, 1_700_000_100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if payment.ID != 1 {
		t.Fatalf("expected payment id 1, got %d", payment.ID)
	}
	if payment.Token != escrow.NativeToken {
		t.Fatalf("empty token must resolve to native, got %q", payment.Token)
	}
	if !strings.HasPrefix(txHash, "0x") || len(txHash) != 66 {
		t.Fatalf("unexpected tx hash %q", txHash)
	}

	balance, err := node.TokenBalance(creator, escrow.NativeToken)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 600 {
		t.Fatalf("expected creator balance 600, got %s", balance)
	}

	node.SetNowFunc(func() int64 { return 1_700_000_100 })
	releaseHash, err := node.ReleasePayment(payment.ID, recipient)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if releaseHash == txHash {
		t.Fatalf("distinct mutations must yield distinct tx hashes")
	}

	stored, err := node.GetPayment(payment.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != escrow.StatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	recipientBal, _ := node.TokenBalance(recipient, escrow.NativeToken)
	if recipientBal.Int64() != 400 {
		t.Fatalf("expected recipient 400, got %s", recipientBal)
	}
}

func TestNodeTokenApprovalFlow(t *testing.T) {
	node := newTestNode(t)
	creator := testAddr(0x01)
	recipient := testAddr(0x02)
	if err := node.MintToken("RUSD", creator, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	_, _, err := node.CreatePayment(creator, recipient, "RUSD", big.NewInt(200), escrow.ConditionEvent, 1)
	if !errors.Is(err, escrow.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}

	if _, err := node.TokenApprove(creator, "RUSD", big.NewInt(200)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	allowance, err := node.TokenAllowance(creator, "RUSD")
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if allowance.Int64() != 200 {
		t.Fatalf("expected allowance 200, got %s", allowance)
	}

	payment, _, err := node.CreatePayment(creator, recipient, "RUSD", big.NewInt(200), escrow.ConditionEvent, 1)
	if err != nil {
		t.Fatalf("create after approve: %v", err)
	}
	remaining, _ := node.TokenAllowance(creator, "RUSD")
	if remaining.Sign() != 0 {
		t.Fatalf("expected allowance consumed, got %s", remaining)
	}

	if _, err := node.CancelPayment(payment.ID, creator); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	balance, _ := node.TokenBalance(creator, "RUSD")
	if balance.Int64() != 500 {
		t.Fatalf("expected refund to restore 500, got %s", balance)
	}
}

// eventWriteFailDB rejects writes to the event log while letting every
// other key through, simulating a crash between commit and append.
type eventWriteFailDB struct {
	storage.Database
}

func (db eventWriteFailDB) Put(key, value []byte) error {
	if strings.HasPrefix(string(key), "events/") {
		return errors.New("disk full")
	}
	return db.Database.Put(key, value)
}

func TestNodeCommittedMutationSurvivesEventAppendFailure(t *testing.T) {
	node := NewNode(eventWriteFailDB{Database: storage.NewMemDB()}, "RUSD")
	node.SetNowFunc(func() int64 { return 1_700_000_000 })
	creator := testAddr(0x01)
	recipient := testAddr(0x02)
	if err := node.FundNative(creator, big.NewInt(1_000)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	payment, txHash, err := node.CreatePayment(creator, recipient, "", big.NewInt(400), escrow.ConditionTimeDelay, 1_700_000_100)
	if err != nil {
		t.Fatalf("committed create must not report failure: %v", err)
	}
	if len(txHash) != 66 {
		t.Fatalf("expected tx hash, got %q", txHash)
	}
	stored, err := node.GetPayment(payment.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != escrow.StatusPending {
		t.Fatalf("expected pending payment, got %s", stored.Status)
	}

	events, err := node.EventsSince(0, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no appended events, got %d", len(events))
	}
}

func TestNodeEventLogOnlyRecordsSuccesses(t *testing.T) {
	node := newTestNode(t)
	creator := testAddr(0x01)
	recipient := testAddr(0x02)
	if err := node.FundNative(creator, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	// A failed mutation must leave no trace in the event log.
	if _, _, err := node.CreatePayment(creator, recipient, "", big.NewInt(500), escrow.ConditionTimeDelay, 1_700_000_100); err == nil {
		t.Fatalf("expected create to fail")
	}
	events, err := node.EventsSince(0, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected empty log after failed create, got %d", len(events))
	}

	payment, txHash, err := node.CreatePayment(creator, recipient, "", big.NewInt(100), escrow.ConditionTimeDelay, 1_700_000_100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	node.SetNowFunc(func() int64 { return 1_700_000_100 })
	if _, err := node.ReleasePayment(payment.ID, recipient); err != nil {
		t.Fatalf("release: %v", err)
	}

	events, err = node.EventsSince(0, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != escrow.EventTypePaymentCreated || events[1].Type != escrow.EventTypePaymentReleased {
		t.Fatalf("unexpected event types %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].TxHash != txHash {
		t.Fatalf("created event must carry the mutation tx hash")
	}
	if events[0].Attributes["id"] != "1" {
		t.Fatalf("expected id attribute 1, got %q", events[0].Attributes["id"])
	}
}

func TestNodeCanRelease(t *testing.T) {
	node := newTestNode(t)
	creator := testAddr(0x01)
	if err := node.FundNative(creator, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	payment, _, err := node.CreatePayment(creator, testAddr(0x02), "", big.NewInt(100), escrow.ConditionTimeDelay, 1_700_000_100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := node.CanRelease(payment.ID)
	if err != nil || ok {
		t.Fatalf("expected not yet releasable, got ok=%v err=%v", ok, err)
	}
	node.SetNowFunc(func() int64 { return 1_700_000_100 })
	ok, err = node.CanRelease(payment.ID)
	if err != nil || !ok {
		t.Fatalf("expected releasable at threshold, got ok=%v err=%v", ok, err)
	}
}
