package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"florahub-be/internal/gateway"
	"florahub-be/internal/idempotency"
	"florahub-be/internal/logger"
	"florahub-be/internal/metrics"
	"florahub-be/internal/order"
	"florahub-be/internal/wallet"

	"go.uber.org/zap"
)

type Repository interface {
	GetByOrder(ctx context.Context, orderID int64) (*Transaction, error)

	// SettlePaymentTx claims the event, moves the order pending -> paid,
	// appends the history entry and marks the payment completed with
	// escrow held, all in one transaction. The claim commits only with
	// the settlement, so a crash mid-settlement leaves no claim behind
	// and the provider's redelivery applies cleanly. duplicate is true
	// when the event was already claimed. ErrStatusConflict means the
	// order already left pending; the claim still commits so
	// redeliveries keep acknowledging.
	SettlePaymentTx(ctx context.Context, ev gateway.Event, h *order.StatusHistory, payload json.RawMessage) (duplicate bool, err error)

	// MarkFailedTx claims the event and records a failed payment attempt
	// in one transaction. The order stays pending so the buyer can retry.
	MarkFailedTx(ctx context.Context, ev gateway.Event, payload json.RawMessage) (duplicate bool, err error)

	// ReleaseTx advances the order and, when the escrow is still held,
	// credits every farmer their sub-total minus commission in the same
	// transaction. A second call for an already released escrow performs
	// only the status transition; released reports whether money moved.
	ReleaseTx(ctx context.Context, o *order.Order, h *order.StatusHistory, commissionBps int64) (released bool, err error)

	// RefundTx cancels the order and, when the escrow is still held, marks
	// it refunded and queues a provider refund job. refundQueued is false
	// for unpaid orders.
	RefundTx(ctx context.Context, o *order.Order, h *order.StatusHistory, reason string) (refundQueued bool, err error)
}

type repository struct {
	db      *sql.DB
	wallets wallet.Repository
	ledger  idempotency.Ledger
}

func NewRepository(db *sql.DB, wallets wallet.Repository, ledger idempotency.Ledger) Repository {
	return &repository{db: db, wallets: wallets, ledger: ledger}
}

func (r *repository) GetByOrder(ctx context.Context, orderID int64) (*Transaction, error) {
	var t Transaction
	var provider, providerTxnID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, buyer_id, amount, status, escrow_status,
		       provider, provider_txn_id, commission_amount, paid_at, released_at, created_at
		FROM transactions
		WHERE order_id = $1
	`, orderID).Scan(
		&t.ID, &t.OrderID, &t.BuyerID, &t.Amount, &t.Status, &t.EscrowStatus,
		&provider, &providerTxnID, &t.CommissionAmount, &t.PaidAt, &t.ReleasedAt, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Provider = gateway.Provider(provider.String)
	t.ProviderTxnID = providerTxnID.String
	return &t, nil
}

func (r *repository) SettlePaymentTx(ctx context.Context, ev gateway.Event, h *order.StatusHistory, payload json.RawMessage) (bool, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "SettlePaymentTx"),
		zap.Int64("order_id", ev.OrderID),
		zap.String("provider", string(ev.Provider)),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	claimID, duplicate, err := r.ledger.Claim(ctx, tx, string(ev.Provider), ev.EventID, ev.OrderID, payload)
	if err != nil {
		return false, err
	}
	if duplicate {
		return true, nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = 'paid', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, ev.OrderID)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		// The order already left pending. The claim still commits,
		// stamped processed, so redeliveries of this event keep
		// acknowledging instead of re-settling.
		if err := r.ledger.MarkProcessed(ctx, tx, claimID); err != nil {
			return false, err
		}
		if err := tx.Commit(); err != nil {
			return false, err
		}
		committed = true
		return false, order.ErrStatusConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_history (
			order_id, prev_status, new_status, note, actor_id, actor_role
		) VALUES ($1,$2,$3,$4,$5,$6)
	`, h.OrderID, h.PrevStatus, h.NewStatus, h.Note, h.ActorID, h.ActorRole)
	if err != nil {
		return false, err
	}

	// A failed earlier attempt may have marked the row failed; a later
	// successful payment still settles it.
	res, err = tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = 'completed', escrow_status = 'held',
		    provider = $1, provider_txn_id = $2, paid_at = now()
		WHERE order_id = $3 AND status IN ('pending', 'failed')
	`, ev.Provider, ev.ProviderTxnID, ev.OrderID)
	if err != nil {
		return false, err
	}
	affected, _ = res.RowsAffected()
	if affected == 0 {
		return false, fmt.Errorf("no pending transaction for order %d", ev.OrderID)
	}

	if err := r.ledger.MarkProcessed(ctx, tx, claimID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true

	log.Info("payment settled, escrow held", zap.Int64("amount", ev.Amount))
	return false, nil
}

func (r *repository) MarkFailedTx(ctx context.Context, ev gateway.Event, payload json.RawMessage) (bool, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "MarkFailedTx"),
		zap.Int64("order_id", ev.OrderID),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	claimID, duplicate, err := r.ledger.Claim(ctx, tx, string(ev.Provider), ev.EventID, ev.OrderID, payload)
	if err != nil {
		return false, err
	}
	if duplicate {
		return true, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = 'failed'
		WHERE order_id = $1 AND status = 'pending'
	`, ev.OrderID)
	if err != nil {
		return false, err
	}

	if err := r.ledger.MarkProcessed(ctx, tx, claimID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	return false, nil
}

func (r *repository) ReleaseTx(
	ctx context.Context,
	o *order.Order,
	h *order.StatusHistory,
	commissionBps int64,
) (bool, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "ReleaseTx"),
		zap.Int64("order_id", o.ID),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, h.NewStatus, h.OrderID, h.PrevStatus)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, order.ErrStatusConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_history (
			order_id, prev_status, new_status, note, actor_id, actor_role
		) VALUES ($1,$2,$3,$4,$5,$6)
	`, h.OrderID, h.PrevStatus, h.NewStatus, h.Note, h.ActorID, h.ActorRole)
	if err != nil {
		return false, err
	}

	subtotals := o.FarmerSubtotals()
	var commission int64
	for _, subtotal := range subtotals {
		commission += subtotal * commissionBps / 10000
	}

	// The escrow guard is what makes release exactly-once: a retry on an
	// already released escrow matches no row and credits nothing.
	res, err = tx.ExecContext(ctx, `
		UPDATE transactions
		SET escrow_status = 'released_to_farmer',
		    commission_amount = $1, released_at = now()
		WHERE order_id = $2 AND escrow_status = 'held'
	`, commission, o.ID)
	if err != nil {
		return false, err
	}
	affected, _ = res.RowsAffected()
	released := affected == 1

	if released {
		// Credit in farmer id order so concurrent releases take wallet
		// row locks in a consistent order.
		farmerIDs := make([]int64, 0, len(subtotals))
		for id := range subtotals {
			farmerIDs = append(farmerIDs, id)
		}
		sort.Slice(farmerIDs, func(i, j int) bool { return farmerIDs[i] < farmerIDs[j] })

		for _, farmerID := range farmerIDs {
			subtotal := subtotals[farmerID]
			payout := subtotal - subtotal*commissionBps/10000
			desc := fmt.Sprintf("escrow release for order %d", o.ID)
			if err := r.wallets.Credit(ctx, tx, farmerID, payout, desc, o.ID); err != nil {
				log.Error("failed to credit farmer",
					zap.Int64("farmer_id", farmerID),
					zap.Error(err),
				)
				return false, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true

	if released {
		metrics.EscrowReleases.Inc()
		log.Info("escrow released",
			zap.Int64("commission", commission),
			zap.Int("farmer_count", len(subtotals)),
		)
	}
	return released, nil
}

func (r *repository) RefundTx(
	ctx context.Context,
	o *order.Order,
	h *order.StatusHistory,
	reason string,
) (bool, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "RefundTx"),
		zap.Int64("order_id", o.ID),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, h.NewStatus, h.OrderID, h.PrevStatus)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, order.ErrStatusConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_history (
			order_id, prev_status, new_status, note, actor_id, actor_role
		) VALUES ($1,$2,$3,$4,$5,$6)
	`, h.OrderID, h.PrevStatus, h.NewStatus, h.Note, h.ActorID, h.ActorRole)
	if err != nil {
		return false, err
	}

	var provider string
	var providerTxnID sql.NullString
	var amount int64
	err = tx.QueryRowContext(ctx, `
		UPDATE transactions
		SET escrow_status = 'refunded_to_buyer'
		WHERE order_id = $1 AND escrow_status = 'held'
		RETURNING provider, provider_txn_id, amount
	`, o.ID).Scan(&provider, &providerTxnID, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		// Unpaid order, or escrow already settled. Cancellation still
		// commits; there is just no money to send back.
		if err := tx.Commit(); err != nil {
			return false, err
		}
		committed = true
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO refund_jobs (order_id, provider, provider_txn_id, amount, reason, status, attempts, next_run_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, now())
	`, o.ID, provider, providerTxnID.String, amount, reason)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true

	metrics.RefundsQueued.Inc()
	log.Info("escrow refund queued", zap.Int64("amount", amount))
	return true, nil
}
