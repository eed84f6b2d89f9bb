package refund

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"florahub-be/internal/gateway"
	"florahub-be/internal/logger"

	"go.uber.org/zap"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

type Job struct {
	ID            int64
	OrderID       int64
	Provider      gateway.Provider
	ProviderTxnID string
	Amount        int64
	Reason        string
	Attempts      int
}

// Worker drains the refund queue. Provider refunds are external calls
// that fail transiently; each failure reschedules the job with a doubled
// delay until maxAttempts, after which the order is escalated to
// disputed for manual resolution.
type Worker struct {
	db          *sql.DB
	clients     map[gateway.Provider]gateway.RefundClient
	maxAttempts int
	interval    time.Duration
	baseBackoff time.Duration
}

func NewWorker(db *sql.DB, clients map[gateway.Provider]gateway.RefundClient, maxAttempts int) *Worker {
	return &Worker{
		db:          db,
		clients:     clients,
		maxAttempts: maxAttempts,
		interval:    30 * time.Second,
		baseBackoff: time.Minute,
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.drain(ctx)
			}
		}
	}()
}

func (w *Worker) drain(ctx context.Context) {
	for {
		processed, err := w.runOnce(ctx)
		if err != nil {
			logger.L().Error("refund worker pass failed", zap.Error(err))
			return
		}
		if !processed {
			return
		}
	}
}

// runOnce claims and processes at most one due job. The claim bumps
// attempts in the same statement, so a crash mid-refund still counts the
// attempt when the job is retried.
func (w *Worker) runOnce(ctx context.Context) (bool, error) {
	var job Job
	err := w.db.QueryRowContext(ctx, `
		UPDATE refund_jobs
		SET attempts = attempts + 1, updated_at = now()
		WHERE id = (
			SELECT id FROM refund_jobs
			WHERE status = 'pending' AND next_run_at <= now()
			ORDER BY next_run_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, order_id, provider, provider_txn_id, amount, reason, attempts
	`).Scan(
		&job.ID, &job.OrderID, &job.Provider, &job.ProviderTxnID,
		&job.Amount, &job.Reason, &job.Attempts,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	log := logger.L().With(
		zap.Int64("refund_job_id", job.ID),
		zap.Int64("order_id", job.OrderID),
		zap.String("provider", string(job.Provider)),
		zap.Int("attempt", job.Attempts),
	)

	client, ok := w.clients[job.Provider]
	if !ok {
		log.Error("no refund client for provider")
		return true, w.fail(ctx, job)
	}

	err = client.Refund(ctx, gateway.RefundRequest{
		RequestID:     fmt.Sprintf("refund-%d", job.ID),
		OrderID:       job.OrderID,
		Amount:        job.Amount,
		ProviderTxnID: job.ProviderTxnID,
		Reason:        job.Reason,
	})
	if err == nil {
		log.Info("refund succeeded", zap.Int64("amount", job.Amount))
		_, err = w.db.ExecContext(ctx, `
			UPDATE refund_jobs
			SET status = 'succeeded', updated_at = now()
			WHERE id = $1
		`, job.ID)
		return true, err
	}

	log.Warn("refund attempt failed", zap.Error(err))

	if job.Attempts >= w.maxAttempts {
		return true, w.fail(ctx, job)
	}

	// Double the delay per attempt: 1m, 2m, 4m, ...
	delay := w.baseBackoff << (job.Attempts - 1)
	_, err = w.db.ExecContext(ctx, `
		UPDATE refund_jobs
		SET next_run_at = now() + $1::interval, updated_at = now()
		WHERE id = $2
	`, fmt.Sprintf("%d seconds", int(delay.Seconds())), job.ID)
	return true, err
}

// fail marks the job failed and moves the order to disputed so an admin
// resolves the refund manually. The order is already cancelled at this
// point; the escalation is administrative, not a lifecycle edge.
func (w *Worker) fail(ctx context.Context, job Job) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE refund_jobs
		SET status = 'failed', updated_at = now()
		WHERE id = $1
	`, job.ID)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = 'disputed', updated_at = now()
		WHERE id = $1 AND status = 'cancelled'
	`, job.OrderID)
	if err != nil {
		return err
	}

	if affected, _ := res.RowsAffected(); affected == 1 {
		note := fmt.Sprintf("refund failed after %d attempts", job.Attempts)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_status_history (
				order_id, prev_status, new_status, note, actor_id, actor_role
			) VALUES ($1, 'cancelled', 'disputed', $2, 0, 'system')
		`, job.OrderID, note)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logger.L().Error("refund escalated to dispute",
		zap.Int64("refund_job_id", job.ID),
		zap.Int64("order_id", job.OrderID),
		zap.Int("attempts", job.Attempts),
	)
	return nil
}
