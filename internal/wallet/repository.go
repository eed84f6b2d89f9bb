package wallet

import (
	"context"
	"database/sql"
	"errors"
)

var ErrInsufficientBalance = errors.New("insufficient wallet balance")

// Execer is satisfied by *sql.DB and *sql.Tx. Settlement runs wallet
// mutations inside its own transaction; this repository stays the single
// choke point for balance changes either way.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository interface {
	// Credit appends a ledger entry and bumps the cached balance in one
	// upsert. Concurrent first credits to the same farmer cannot create
	// duplicate wallet rows; the unique farmer_id key turns the race
	// into an increment.
	Credit(ctx context.Context, ex Execer, farmerID, amount int64, description string, orderID int64) error

	// Debit appends a ledger entry and decrements the balance only when
	// it stays non-negative. The ledger entry and the balance change
	// commit together: inside the caller's transaction when ex is one,
	// otherwise inside a transaction the repository opens itself. An
	// ErrInsufficientBalance never leaves a debit entry behind.
	Debit(ctx context.Context, ex Execer, farmerID, amount int64, description string, orderID int64) error

	GetWallet(ctx context.Context, farmerID int64) (*FarmerWallet, error)
	ListTransactions(ctx context.Context, farmerID int64, limit int) ([]Transaction, error)

	// ReplayBalance recomputes the balance from the ledger. Used by the
	// reconcile job to verify the cached field.
	ReplayBalance(ctx context.Context, farmerID int64) (int64, error)

	ListFarmerIDs(ctx context.Context) ([]int64, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Credit(
	ctx context.Context,
	ex Execer,
	farmerID, amount int64,
	description string,
	orderID int64,
) error {
	if ex == nil {
		ex = r.db
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO wallet_transactions (farmer_id, type, amount, description, order_id)
		VALUES ($1, 'credit', $2, $3, $4)
	`, farmerID, amount, description, orderID)
	if err != nil {
		return err
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO farmer_wallets (farmer_id, balance, total_earned)
		VALUES ($1, $2, $2)
		ON CONFLICT (farmer_id)
		DO UPDATE SET
			balance = farmer_wallets.balance + EXCLUDED.balance,
			total_earned = farmer_wallets.total_earned + EXCLUDED.total_earned,
			updated_at = now()
	`, farmerID, amount)
	return err
}

func (r *repository) Debit(
	ctx context.Context,
	ex Execer,
	farmerID, amount int64,
	description string,
	orderID int64,
) error {
	if ex != nil {
		return r.debit(ctx, ex, farmerID, amount, description, orderID)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := r.debit(ctx, tx, farmerID, amount, description, orderID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *repository) debit(
	ctx context.Context,
	ex Execer,
	farmerID, amount int64,
	description string,
	orderID int64,
) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO wallet_transactions (farmer_id, type, amount, description, order_id)
		VALUES ($1, 'debit', $2, $3, $4)
	`, farmerID, amount, description, orderID)
	if err != nil {
		return err
	}

	res, err := ex.ExecContext(ctx, `
		UPDATE farmer_wallets
		SET balance = balance - $1, updated_at = now()
		WHERE farmer_id = $2 AND balance >= $1
	`, amount, farmerID)
	if err != nil {
		return err
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (r *repository) GetWallet(ctx context.Context, farmerID int64) (*FarmerWallet, error) {
	var w FarmerWallet
	err := r.db.QueryRowContext(ctx, `
		SELECT farmer_id, balance, total_earned, updated_at
		FROM farmer_wallets
		WHERE farmer_id = $1
	`, farmerID).Scan(&w.FarmerID, &w.Balance, &w.TotalEarned, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Wallets are created lazily on first credit.
		return &FarmerWallet{FarmerID: farmerID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *repository) ListTransactions(ctx context.Context, farmerID int64, limit int) ([]Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, farmer_id, type, amount, description, order_id, created_at
		FROM wallet_transactions
		WHERE farmer_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, farmerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID, &t.FarmerID, &t.Type, &t.Amount,
			&t.Description, &t.OrderID, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (r *repository) ListFarmerIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT farmer_id FROM farmer_wallets ORDER BY farmer_id`)
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

func (r *repository) ReplayBalance(ctx context.Context, farmerID int64) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE -amount END), 0)
		FROM wallet_transactions
		WHERE farmer_id = $1
	`, farmerID).Scan(&balance)
	return balance, err
}
