package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"florahub-be/internal/auth"
	"florahub-be/internal/escrow"
	"florahub-be/internal/logger"
	"florahub-be/internal/order"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

type Review struct {
	ID        int64          `json:"id"`
	OrderID   int64          `json:"order_id"`
	BuyerID   int64          `json:"buyer_id"`
	Rating    int            `json:"rating"`
	Comment   string         `json:"comment"`
	Photos    pq.StringArray `json:"photos"`
	CreatedAt time.Time      `json:"created_at"`
}

var (
	ErrReviewExists   = errors.New("order already reviewed")
	ErrReviewNotFound = errors.New("review not found")
	ErrInvalidRating  = errors.New("rating must be between 1 and 5")
	ErrNotReviewable  = errors.New("order can only be reviewed after delivery")
)

type Service interface {
	// Create stores the buyer's review. Reviewing a delivered order also
	// completes it, which releases any escrow still held.
	Create(ctx context.Context, orderID int64, rating int, comment string, photos []string) (*Review, error)

	GetByOrder(ctx context.Context, orderID int64) (*Review, error)
}

type service struct {
	db     *sql.DB
	orders order.Repository
	escrow escrow.Service
}

func NewService(db *sql.DB, orders order.Repository, esc escrow.Service) Service {
	return &service{db: db, orders: orders, escrow: esc}
}

func (s *service) Create(ctx context.Context, orderID int64, rating int, comment string, photos []string) (*Review, error) {
	user, ok := auth.GetUserFromContext(ctx)
	if !ok {
		return nil, order.ErrUnauthorized
	}

	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}

	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != user.UserID {
		return nil, order.ErrUnauthorized
	}
	if o.Status != order.StatusDelivered && o.Status != order.StatusCompleted {
		return nil, ErrNotReviewable
	}

	r := &Review{
		OrderID: orderID,
		BuyerID: user.UserID,
		Rating:  rating,
		Comment: comment,
		Photos:  pq.StringArray(photos),
	}

	// One review per order; the unique key settles concurrent submissions.
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO reviews (order_id, buyer_id, rating, comment, photos)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id, created_at
	`, r.OrderID, r.BuyerID, r.Rating, r.Comment, r.Photos).
		Scan(&r.ID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReviewExists
	}
	if err != nil {
		return nil, err
	}

	log := logger.FromCtx(ctx).With(
		zap.Int64("order_id", orderID),
		zap.Int64("buyer_id", user.UserID),
		zap.Int("rating", rating),
	)
	log.Info("review created")

	if o.Status == order.StatusDelivered {
		note := fmt.Sprintf("review submitted with rating %d", rating)
		if err := s.escrow.Complete(ctx, orderID, note); err != nil {
			// The review stands; completion is retried by the
			// auto-complete job if this attempt lost a race.
			var invalid *order.InvalidTransitionError
			if !errors.As(err, &invalid) {
				log.Error("failed to complete order after review", zap.Error(err))
				return nil, err
			}
		}
	}

	return r, nil
}

func (s *service) GetByOrder(ctx context.Context, orderID int64) (*Review, error) {
	var r Review
	err := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, buyer_id, rating, comment, photos, created_at
		FROM reviews
		WHERE order_id = $1
	`, orderID).Scan(&r.ID, &r.OrderID, &r.BuyerID, &r.Rating, &r.Comment, &r.Photos, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReviewNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
