package main

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const (
	watcherBackoffMin = time.Second
	watcherBackoffMax = 30 * time.Second
)

// EventWatcher periodically pulls payment events from the node and folds
// them into the off-chain index. It resumes from the persisted cursor and
// backs off exponentially while the node is unreachable.
type EventWatcher struct {
	node            NodeClient
	store           *Store
	network         string
	contractAddress string
	pollInterval    time.Duration
	batchSize       int
	nowFn           func() time.Time
	log             *slog.Logger
}

// NewEventWatcher constructs a watcher with sane defaults.
func NewEventWatcher(node NodeClient, store *Store, cfg Config, log *slog.Logger) *EventWatcher {
	if log == nil {
		log = slog.Default()
	}
	interval := cfg.WatcherInterval
	if interval <= 0 {
		interval = defaultWatcherInterval
	}
	batch := cfg.WatcherBatchSize
	if batch <= 0 {
		batch = defaultWatcherBatch
	}
	return &EventWatcher{
		node:            node,
		store:           store,
		network:         cfg.Network,
		contractAddress: cfg.ContractAddress,
		pollInterval:    interval,
		batchSize:       batch,
		nowFn:           time.Now,
		log:             log,
	}
}

// Run starts the polling loop until the context is cancelled.
func (w *EventWatcher) Run(ctx context.Context) {
	if w.node == nil || w.store == nil {
		return
	}
	after, _ := w.store.LastEventSequence(ctx)
	backoff := w.pollInterval
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			next, err := w.poll(ctx, after)
			if err != nil {
				backoff = nextBackoff(backoff)
				w.log.Warn("event poll failed", "after", after, "retryIn", backoff, "error", err)
			} else {
				after = next
				backoff = w.pollInterval
			}
			timer.Reset(backoff)
		}
	}
}

func (w *EventWatcher) poll(ctx context.Context, after int64) (int64, error) {
	events, err := w.node.FetchEvents(ctx, after, w.batchSize)
	if err != nil {
		return after, err
	}
	if len(events) == 0 {
		return after, nil
	}
	lastSeq := after
	for _, evt := range events {
		if evt.Sequence <= lastSeq {
			continue
		}
		w.handleEvent(ctx, evt)
		lastSeq = evt.Sequence
	}
	if err := w.store.UpdateEventSequence(ctx, lastSeq); err != nil {
		w.log.Warn("cursor update failed", "sequence", lastSeq, "error", err)
	}
	return lastSeq, nil
}

func (w *EventWatcher) handleEvent(ctx context.Context, evt NodeEvent) {
	id, err := strconv.ParseUint(strings.TrimSpace(evt.Attributes["id"]), 10, 64)
	if err != nil {
		return
	}
	eventTime := time.Unix(evt.Timestamp, 0).UTC()
	if evt.Timestamp == 0 {
		eventTime = w.nowFn().UTC()
	}
	switch strings.ToLower(evt.Type) {
	case "payments.created":
		w.upsertCreated(ctx, id, evt, eventTime)
	case "payments.released":
		if err := w.store.UpdateStatus(ctx, id, "completed", &eventTime); err != nil {
			w.log.Warn("index release update failed", "paymentId", id, "error", err)
		}
	case "payments.cancelled":
		if err := w.store.UpdateStatus(ctx, id, "cancelled", nil); err != nil {
			w.log.Warn("index cancel update failed", "paymentId", id, "error", err)
		}
	}
}

// upsertCreated backfills payments created outside this gateway (or whose
// index write was lost) from the creation event's attributes.
func (w *EventWatcher) upsertCreated(ctx context.Context, id uint64, evt NodeEvent, eventTime time.Time) {
	if _, err := w.store.GetPayment(ctx, id); err == nil {
		return
	}
	createdAt := eventTime
	if raw := strings.TrimSpace(evt.Attributes["createdAt"]); raw != "" {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil && unix > 0 {
			createdAt = time.Unix(unix, 0).UTC()
		}
	}
	record := PaymentRecord{
		ID:               id,
		CreatorAddress:   strings.ToLower(strings.TrimSpace(evt.Attributes["creator"])),
		RecipientAddress: strings.ToLower(strings.TrimSpace(evt.Attributes["recipient"])),
		Amount:           strings.TrimSpace(evt.Attributes["amount"]),
		Token:            strings.TrimSpace(evt.Attributes["token"]),
		ConditionType:    conditionTypeName(evt.Attributes["conditionType"]),
		ConditionValue:   strings.TrimSpace(evt.Attributes["conditionValue"]),
		Status:           "pending",
		TransactionHash:  evt.TxHash,
		ContractAddress:  w.contractAddress,
		Network:          w.network,
		CreatedAt:        createdAt,
	}
	if err := w.store.InsertPayment(ctx, record); err != nil {
		w.log.Warn("index backfill failed", "paymentId", id, "error", err)
	}
}

func conditionTypeName(name string) string {
	if strings.ToLower(strings.TrimSpace(name)) == conditionEvent {
		return conditionEvent
	}
	return conditionTimeDelay
}

func nextBackoff(current time.Duration) time.Duration {
	if current < watcherBackoffMin {
		return watcherBackoffMin
	}
	doubled := current * 2
	if doubled > watcherBackoffMax {
		return watcherBackoffMax
	}
	return doubled
}
