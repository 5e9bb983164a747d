package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func samplePayment(id uint64, createdAt time.Time) PaymentRecord {
	return PaymentRecord{
		ID:               id,
		CreatorAddress:   "0x1111111111111111111111111111111111111111",
		RecipientAddress: "0x2222222222222222222222222222222222222222",
		Amount:           "500",
		Token:            "RID",
		ConditionType:    "time_delay",
		ConditionValue:   "1700000100",
		Status:           "pending",
		TransactionHash:  "0xabc",
		ContractAddress:  "0xcontract",
		Network:          "ridmint-local",
		CreatedAt:        createdAt,
	}
}

func TestPaymentInsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	if _, err := store.GetPayment(ctx, 1); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}

	if err := store.InsertPayment(ctx, samplePayment(1, created)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	record, err := store.GetPayment(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != "pending" || record.Amount != "500" {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.CompletedAt != nil {
		t.Fatalf("pending record must not have completed_at")
	}

	// Re-inserting the same id replaces rather than fails; the watcher may
	// race the orchestrator on the creation event.
	if err := store.InsertPayment(ctx, samplePayment(1, created)); err != nil {
		t.Fatalf("reinsert: %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpdateStatus(ctx, 42, "completed", nil); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}

	if err := store.InsertPayment(ctx, samplePayment(1, time.Now().UTC())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	completedAt := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	if err := store.UpdateStatus(ctx, 1, "completed", &completedAt); err != nil {
		t.Fatalf("update: %v", err)
	}
	record, err := store.GetPayment(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != "completed" {
		t.Fatalf("expected completed, got %s", record.Status)
	}
	if record.CompletedAt == nil || !record.CompletedAt.Equal(completedAt) {
		t.Fatalf("expected completed_at %v, got %v", completedAt, record.CompletedAt)
	}
}

func TestListBySenderAndRecipient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	first := samplePayment(1, base)
	second := samplePayment(2, base.Add(time.Hour))
	second.CreatorAddress = "0x3333333333333333333333333333333333333333"
	third := samplePayment(3, base.Add(2*time.Hour))
	for _, record := range []PaymentRecord{first, second, third} {
		if err := store.InsertPayment(ctx, record); err != nil {
			t.Fatalf("insert %d: %v", record.ID, err)
		}
	}

	sent, err := store.ListByCreator(ctx, first.CreatorAddress)
	if err != nil {
		t.Fatalf("list sent: %v", err)
	}
	if len(sent) != 2 {
		t.Fatalf("expected 2 sent, got %d", len(sent))
	}
	if sent[0].ID != 3 || sent[1].ID != 1 {
		t.Fatalf("expected newest first, got %d then %d", sent[0].ID, sent[1].ID)
	}

	received, err := store.ListByRecipient(ctx, first.RecipientAddress)
	if err != nil {
		t.Fatalf("list received: %v", err)
	}
	if len(received) != 3 {
		t.Fatalf("expected 3 received, got %d", len(received))
	}

	none, err := store.ListByCreator(ctx, "0x9999999999999999999999999999999999999999")
	if err != nil {
		t.Fatalf("list none: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty list, got %d", len(none))
	}
}

func TestEventCursorRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seq, err := store.LastEventSequence(ctx)
	if err != nil {
		t.Fatalf("initial cursor: %v", err)
	}
	if seq != 0 {
		t.Fatalf("expected cursor 0, got %d", seq)
	}
	if err := store.UpdateEventSequence(ctx, 17); err != nil {
		t.Fatalf("update cursor: %v", err)
	}
	if err := store.UpdateEventSequence(ctx, 42); err != nil {
		t.Fatalf("second update: %v", err)
	}
	seq, err = store.LastEventSequence(ctx)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if seq != 42 {
		t.Fatalf("expected cursor 42, got %d", seq)
	}
}

func TestIdempotencyKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cached, err := store.LookupIdempotency(ctx, "key-1", "idem-1", "hash-a")
	if err != nil || cached != nil {
		t.Fatalf("expected miss, got %+v err=%v", cached, err)
	}

	if err := store.SaveIdempotency(ctx, "key-1", "idem-1", "hash-a", 201, []byte(`{"id":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	cached, err = store.LookupIdempotency(ctx, "key-1", "idem-1", "hash-a")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if cached == nil || cached.Status != 201 || string(cached.Body) != `{"id":1}` {
		t.Fatalf("unexpected cached response %+v", cached)
	}

	if _, err := store.LookupIdempotency(ctx, "key-1", "idem-1", "hash-b"); !errors.Is(err, ErrIdempotencyMismatch) {
		t.Fatalf("expected ErrIdempotencyMismatch, got %v", err)
	}

	// A different API key scopes to its own namespace.
	cached, err = store.LookupIdempotency(ctx, "key-2", "idem-1", "hash-b")
	if err != nil || cached != nil {
		t.Fatalf("expected miss for other api key, got %+v err=%v", cached, err)
	}
}
