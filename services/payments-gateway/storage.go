package main

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed off-chain payment index. It is a cache over
// ledger truth: rows are written only after confirmed chain responses or
// observed ledger events, and the ledger always wins on divergence.
type Store struct {
	db *sql.DB
}

// ErrIdempotencyMismatch is returned when a key is reused with a different
// request body.
var ErrIdempotencyMismatch = errors.New("idempotency key reuse with different request body")

// ErrRecordNotFound is returned when no index row exists for the payment.
var ErrRecordNotFound = errors.New("payment record not found")

func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS payments (
            id INTEGER PRIMARY KEY,
            creator_address TEXT NOT NULL,
            recipient_address TEXT NOT NULL,
            amount TEXT NOT NULL,
            token TEXT NOT NULL,
            condition_type TEXT NOT NULL,
            condition_value TEXT NOT NULL,
            status TEXT NOT NULL,
            transaction_hash TEXT,
            contract_address TEXT,
            network TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL,
            completed_at TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_payments_creator ON payments(creator_address, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_payments_recipient ON payments(recipient_address, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS event_cursors (
            name TEXT PRIMARY KEY,
            value INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
            api_key TEXT NOT NULL,
            idempotency_key TEXT NOT NULL,
            request_hash TEXT NOT NULL,
            response_status INTEGER NOT NULL,
            response_body BLOB NOT NULL,
            created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY(api_key, idempotency_key)
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PaymentRecord is the denormalized index row, shaped for listing "sent"
// and "received" payments without touching the ledger.
type PaymentRecord struct {
	ID               uint64     `json:"id"`
	CreatorAddress   string     `json:"creator_address"`
	RecipientAddress string     `json:"recipient_address"`
	Amount           string     `json:"amount"`
	Token            string     `json:"token"`
	ConditionType    string     `json:"condition_type"`
	ConditionValue   string     `json:"condition_value"`
	Status           string     `json:"status"`
	TransactionHash  string     `json:"transaction_hash"`
	ContractAddress  string     `json:"contract_address"`
	Network          string     `json:"network"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// InsertPayment writes a fresh Pending row. INSERT OR REPLACE keeps the
// write idempotent against the watcher observing the creation event first.
func (s *Store) InsertPayment(ctx context.Context, record PaymentRecord) error {
	const stmt = `INSERT OR REPLACE INTO payments(
        id, creator_address, recipient_address, amount, token,
        condition_type, condition_value, status, transaction_hash,
        contract_address, network, created_at, completed_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		record.ID, record.CreatorAddress, record.RecipientAddress, record.Amount,
		record.Token, record.ConditionType, record.ConditionValue, record.Status,
		record.TransactionHash, record.ContractAddress, record.Network,
		record.CreatedAt.UTC(), nullableTime(record.CompletedAt))
	return err
}

// UpdateStatus marks a payment's terminal state. completedAt is persisted
// only for completed payments.
func (s *Store) UpdateStatus(ctx context.Context, id uint64, status string, completedAt *time.Time) error {
	const stmt = `UPDATE payments SET status = ?, completed_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, status, nullableTime(completedAt), id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

const paymentColumns = `id, creator_address, recipient_address, amount, token,
    condition_type, condition_value, status, transaction_hash,
    contract_address, network, created_at, completed_at`

// GetPayment returns the index row for the payment identifier.
func (s *Store) GetPayment(ctx context.Context, id uint64) (PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`
	return scanPayment(s.db.QueryRowContext(ctx, query, id))
}

// ListByCreator returns payments sent by the address, newest first.
func (s *Store) ListByCreator(ctx context.Context, address string) ([]PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE creator_address = ? ORDER BY created_at DESC`
	return s.listPayments(ctx, query, address)
}

// ListByRecipient returns payments received by the address, newest first.
func (s *Store) ListByRecipient(ctx context.Context, address string) ([]PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE recipient_address = ? ORDER BY created_at DESC`
	return s.listPayments(ctx, query, address)
}

func (s *Store) listPayments(ctx context.Context, query string, args ...interface{}) ([]PaymentRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []PaymentRecord
	for rows.Next() {
		record, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(row rowScanner) (PaymentRecord, error) {
	var record PaymentRecord
	var txHash, contract sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&record.ID, &record.CreatorAddress, &record.RecipientAddress,
		&record.Amount, &record.Token, &record.ConditionType, &record.ConditionValue,
		&record.Status, &txHash, &contract, &record.Network, &record.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PaymentRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return PaymentRecord{}, err
	}
	record.TransactionHash = txHash.String
	record.ContractAddress = contract.String
	if completedAt.Valid {
		t := completedAt.Time
		record.CompletedAt = &t
	}
	return record, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

// LastEventSequence returns the last mirrored ledger event sequence.
func (s *Store) LastEventSequence(ctx context.Context) (int64, error) {
	const query = `SELECT value FROM event_cursors WHERE name = 'ledger'`
	var value int64
	err := s.db.QueryRowContext(ctx, query).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

// UpdateEventSequence stores the last mirrored ledger event sequence.
func (s *Store) UpdateEventSequence(ctx context.Context, sequence int64) error {
	const stmt = `INSERT INTO event_cursors(name, value) VALUES('ledger', ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value`
	_, err := s.db.ExecContext(ctx, stmt, sequence)
	return err
}

// StoredResponse is a cached response for an idempotency key.
type StoredResponse struct {
	Status int
	Body   []byte
}

func (s *Store) LookupIdempotency(ctx context.Context, apiKey, key, requestHash string) (*StoredResponse, error) {
	const query = `SELECT response_status, response_body, request_hash FROM idempotency_keys WHERE api_key = ? AND idempotency_key = ?`
	var status int
	var body []byte
	var storedHash string
	err := s.db.QueryRowContext(ctx, query, apiKey, key).Scan(&status, &body, &storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if storedHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	return &StoredResponse{Status: status, Body: body}, nil
}

func (s *Store) SaveIdempotency(ctx context.Context, apiKey, key, requestHash string, status int, body []byte) error {
	const stmt = `INSERT OR REPLACE INTO idempotency_keys(api_key, idempotency_key, request_hash, response_status, response_body, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, apiKey, key, requestHash, status, body, time.Now().UTC())
	return err
}
