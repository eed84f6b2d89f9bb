package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// Execer is satisfied by *sql.DB and *sql.Tx. Settlement takes its claim
// inside the settlement transaction, so a claim can never outlive a
// failed or crashed settlement.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger guarantees a payment event is applied at most once. Claim is a
// single atomic statement; a duplicate delivery observes the existing row
// and is acknowledged without side effects. A committed claim row always
// belongs to a committed settlement: the claim rides the caller's
// transaction and rolls back with it.
type Ledger interface {
	// Claim atomically records the event. isDuplicate is true when the
	// event was already claimed by an earlier delivery.
	Claim(ctx context.Context, ex Execer, provider, eventID string, orderID int64, payload json.RawMessage) (claimID int64, isDuplicate bool, err error)

	// MarkProcessed stamps the claim, in the same transaction as the
	// settlement it covers.
	MarkProcessed(ctx context.Context, ex Execer, claimID int64) error
}

type ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) Ledger {
	return &ledger{db: db}
}

func (l *ledger) Claim(
	ctx context.Context,
	ex Execer,
	provider string,
	eventID string,
	orderID int64,
	payload json.RawMessage,
) (int64, bool, error) {
	if ex == nil {
		ex = l.db
	}

	// The unique constraint on (provider, event_id) makes this the only
	// correctness boundary under concurrent webhook delivery: exactly one
	// of two racing inserts returns a row.
	const q = `
	INSERT INTO payment_events (provider, event_id, order_id, payload)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (provider, event_id)
	DO NOTHING
	RETURNING id;
	`

	var id int64
	err := ex.QueryRowContext(ctx, q, provider, eventID, orderID, payload).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, true, nil
		}
		return 0, false, err
	}

	return id, false, nil
}

func (l *ledger) MarkProcessed(ctx context.Context, ex Execer, claimID int64) error {
	if ex == nil {
		ex = l.db
	}
	_, err := ex.ExecContext(ctx, `UPDATE payment_events SET processed_at = now() WHERE id = $1`, claimID)
	return err
}
