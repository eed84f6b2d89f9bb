package escrow

import (
	"database/sql"
	"errors"
	"time"

	"florahub-be/internal/gateway"
)

type Status string

// Escrow states. None means no money has arrived for the order; held
// means the buyer's payment sits with the platform.
const (
	StatusNone             Status = "none"
	StatusHeld             Status = "held"
	StatusReleasedToFarmer Status = "released_to_farmer"
	StatusRefundedToBuyer  Status = "refunded_to_buyer"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Transaction is the payment record attached to an order. There is at
// most one per order; escrow_status moves held -> released_to_farmer or
// held -> refunded_to_buyer exactly once.
type Transaction struct {
	ID               int64            `json:"id"`
	OrderID          int64            `json:"order_id"`
	BuyerID          int64            `json:"buyer_id"`
	Amount           int64            `json:"amount"`
	Status           PaymentStatus    `json:"status"`
	EscrowStatus     Status           `json:"escrow_status"`
	Provider         gateway.Provider `json:"provider"`
	ProviderTxnID    string           `json:"provider_txn_id"`
	CommissionAmount int64            `json:"commission_amount"`
	PaidAt           sql.NullTime     `json:"paid_at"`
	ReleasedAt       sql.NullTime     `json:"released_at"`
	CreatedAt        time.Time        `json:"created_at"`
}

var (
	// ErrAmountMismatch is returned when the provider reports a different
	// amount than the order total. The event is rejected, not recorded.
	ErrAmountMismatch = errors.New("paid amount does not match order total")

	// ErrAlreadySettled is returned when a distinct payment event arrives
	// for an order that has already left pending.
	ErrAlreadySettled = errors.New("order already settled")
)
