package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"florahub-be/internal/logger"

	"go.uber.org/zap"
)

type Repository interface {
	CreateOrderTx(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, orderID int64) (*Order, error)

	// TransitionTx performs the conditional status update and appends the
	// history entry in one transaction. The WHERE status = from guard is
	// what resolves concurrent transition attempts: exactly one wins,
	// the loser gets ErrStatusConflict.
	TransitionTx(ctx context.Context, h *StatusHistory) error

	GetHistory(ctx context.Context, orderID int64) ([]StatusHistory, error)

	// ListAutoCompletable returns ids of orders delivered before the
	// cutoff, for the reconcile job.
	ListAutoCompletable(ctx context.Context, deliveredBefore time.Time, limit int) ([]int64, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateOrderTx(ctx context.Context, o *Order) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "CreateOrderTx"),
		zap.Int64("buyer_id", o.BuyerID),
		zap.Int("item_count", len(o.Items)),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (buyer_id, total_amount, status, shipping_address)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, o.BuyerID, o.TotalAmount, o.Status, o.ShippingAddress).
		Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		log.Error("failed to insert order", zap.Error(err))
		return err
	}

	for i := range o.Items {
		item := &o.Items[i]
		item.OrderID = o.ID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO order_items (
				order_id, product_id, farmer_id, product_name,
				quantity, unit_price, subtotal
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
			RETURNING id
		`,
			item.OrderID,
			item.ProductID,
			item.FarmerID,
			item.ProductName,
			item.Quantity,
			item.UnitPrice,
			item.Subtotal,
		).Scan(&item.ID)
		if err != nil {
			log.Error("failed to insert order item",
				zap.Int("item_index", i),
				zap.Error(err),
			)
			return err
		}
	}

	// The payment record starts pending with no escrow state; it is
	// moved to held by the gateway callback.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (order_id, buyer_id, amount, status, escrow_status)
		VALUES ($1, $2, $3, 'pending', 'none')
	`, o.ID, o.BuyerID, o.TotalAmount)
	if err != nil {
		log.Error("failed to insert transaction", zap.Error(err))
		return err
	}

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit order transaction", zap.Error(err))
		return err
	}

	committed = true
	log.Info("order created", zap.Int64("order_id", o.ID))
	return nil
}

func (r *repository) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	var o Order
	err := r.db.QueryRowContext(ctx, `
		SELECT id, buyer_id, total_amount, status, shipping_address, created_at, updated_at
		FROM orders WHERE id = $1
	`, orderID).Scan(
		&o.ID, &o.BuyerID, &o.TotalAmount, &o.Status,
		&o.ShippingAddress, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, farmer_id, product_name, quantity, unit_price, subtotal
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		item := OrderItem{OrderID: orderID}
		if err := rows.Scan(
			&item.ID, &item.ProductID, &item.FarmerID, &item.ProductName,
			&item.Quantity, &item.UnitPrice, &item.Subtotal,
		); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &o, nil
}

func (r *repository) TransitionTx(ctx context.Context, h *StatusHistory) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, h.NewStatus, h.OrderID, h.PrevStatus)
	if err != nil {
		return err
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrStatusConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_history (
			order_id, prev_status, new_status, note, actor_id, actor_role
		) VALUES ($1,$2,$3,$4,$5,$6)
	`, h.OrderID, h.PrevStatus, h.NewStatus, h.Note, h.ActorID, h.ActorRole)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *repository) GetHistory(ctx context.Context, orderID int64) ([]StatusHistory, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, prev_status, new_status, note, actor_id, actor_role, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []StatusHistory
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(
			&h.ID, &h.OrderID, &h.PrevStatus, &h.NewStatus,
			&h.Note, &h.ActorID, &h.ActorRole, &h.CreatedAt,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (r *repository) ListAutoCompletable(ctx context.Context, deliveredBefore time.Time, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id
		FROM orders
		WHERE status = 'delivered' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`, deliveredBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
