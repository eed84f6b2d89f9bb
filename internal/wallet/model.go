package wallet

import "time"

type TransactionType string

const (
	TypeCredit TransactionType = "credit"
	TypeDebit  TransactionType = "debit"
)

type FarmerWallet struct {
	FarmerID    int64     `json:"farmer_id"`
	Balance     int64     `json:"balance"`
	TotalEarned int64     `json:"total_earned"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Transaction is one entry in the append-only wallet ledger. The cached
// wallet balance must always equal the replay of these entries.
type Transaction struct {
	ID          int64           `json:"id"`
	FarmerID    int64           `json:"farmer_id"`
	Type        TransactionType `json:"type"`
	Amount      int64           `json:"amount"`
	Description string          `json:"description"`
	OrderID     int64           `json:"order_id"`
	CreatedAt   time.Time       `json:"created_at"`
}
