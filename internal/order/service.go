package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"florahub-be/internal/auth"
	"florahub-be/internal/gateway"
	"florahub-be/internal/logger"

	"go.uber.org/zap"
)

type CheckoutItemInput struct {
	ProductID   int64
	FarmerID    int64
	ProductName string
	Quantity    int
	UnitPrice   int64
}

type CheckoutInput struct {
	Items           []CheckoutItemInput
	ShippingAddress string
	Provider        gateway.Provider
	ClientIP        string
}

type Service interface {
	Checkout(ctx context.Context, input CheckoutInput) (*Order, *gateway.PaymentIntent, error)
	GetOrder(ctx context.Context, orderID int64) (*Order, error)
	GetHistory(ctx context.Context, orderID int64) ([]StatusHistory, error)

	// UpdateStatus advances an order along the fulfilment edges
	// (confirmed, preparing, shipped, disputed). Settlement-bearing
	// transitions (paid, delivered, completed, cancelled) belong to the
	// escrow service, which moves money in the same unit.
	UpdateStatus(ctx context.Context, orderID int64, to OrderStatus, note string) error
}

var (
	errManualPaid  = errors.New("status paid can only be set by a payment event")
	errEscrowOwned = errors.New("status can only be set through escrow settlement")
)

type service struct {
	repo     Repository
	payments gateway.IntentCreator
}

func NewService(repo Repository, payments gateway.IntentCreator) Service {
	return &service{repo: repo, payments: payments}
}

func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*Order, *gateway.PaymentIntent, error) {
	buyerID, ok := auth.GetUserIDFromContext(ctx)
	if !ok {
		return nil, nil, ErrUnauthorized
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "Checkout"),
		zap.Int64("buyer_id", buyerID),
		zap.Int("item_count", len(input.Items)),
	)

	if len(input.Items) == 0 {
		return nil, nil, ErrEmptyOrder
	}

	var total int64
	items := make([]OrderItem, 0, len(input.Items))
	for _, in := range input.Items {
		if in.Quantity <= 0 {
			log.Warn("invalid quantity", zap.Int64("product_id", in.ProductID))
			return nil, nil, errors.New("quantity must be greater than zero")
		}
		if in.UnitPrice <= 0 {
			log.Warn("invalid unit price", zap.Int64("product_id", in.ProductID))
			return nil, nil, errors.New("unit price must be greater than zero")
		}

		subtotal := int64(in.Quantity) * in.UnitPrice
		total += subtotal

		items = append(items, OrderItem{
			ProductID:   in.ProductID,
			FarmerID:    in.FarmerID,
			ProductName: in.ProductName,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			Subtotal:    subtotal,
		})
	}

	o := &Order{
		BuyerID:         buyerID,
		TotalAmount:     total,
		Status:          StatusPending,
		ShippingAddress: input.ShippingAddress,
		CreatedAt:       time.Now(),
		Items:           items,
	}

	if err := s.repo.CreateOrderTx(ctx, o); err != nil {
		log.Error("failed to create order", zap.Error(err))
		return nil, nil, err
	}

	orderInfo := fmt.Sprintf("Thanh toan don hang %d", o.ID)
	intent, err := s.payments.CreatePaymentIntent(ctx, o.ID, o.TotalAmount, orderInfo, input.ClientIP, input.Provider)
	if err != nil {
		log.Error("failed to create payment intent",
			zap.Int64("order_id", o.ID),
			zap.Error(err),
		)
		return o, nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	log.Info("checkout completed",
		zap.Int64("order_id", o.ID),
		zap.Int64("total_amount", total),
		zap.String("provider", string(input.Provider)),
	)

	return o, intent, nil
}

func (s *service) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	user, ok := auth.GetUserFromContext(ctx)
	if !ok {
		return nil, ErrUnauthorized
	}
	if !canViewOrder(user, o) {
		return nil, ErrUnauthorized
	}

	return o, nil
}

func (s *service) GetHistory(ctx context.Context, orderID int64) ([]StatusHistory, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.GetHistory(ctx, orderID)
}

func (s *service) UpdateStatus(ctx context.Context, orderID int64, to OrderStatus, note string) error {
	user, ok := auth.GetUserFromContext(ctx)
	if !ok {
		return ErrUnauthorized
	}

	if !ValidStatus(to) {
		return fmt.Errorf("invalid status: %s", to)
	}
	switch to {
	case StatusPaid:
		return errManualPaid
	case StatusDelivered, StatusCompleted, StatusCancelled:
		// These transitions move held escrow; they must commit with the
		// money, through the escrow service.
		return errEscrowOwned
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if user.Role == auth.RoleFarmer && !orderHasFarmer(o, user.UserID) {
		return ErrUnauthorized
	}

	if !CanTransition(o.Status, to) {
		return &InvalidTransitionError{From: o.Status, To: to}
	}

	h := &StatusHistory{
		OrderID:    orderID,
		PrevStatus: o.Status,
		NewStatus:  to,
		Note:       note,
		ActorID:    user.UserID,
		ActorRole:  user.Role,
	}

	err = s.repo.TransitionTx(ctx, h)
	if errors.Is(err, ErrStatusConflict) {
		// Someone else moved the order first; report the edge against
		// the state the caller lost to.
		current, getErr := s.repo.GetOrder(ctx, orderID)
		if getErr != nil {
			return err
		}
		return &InvalidTransitionError{From: current.Status, To: to}
	}
	if err != nil {
		return err
	}

	logger.FromCtx(ctx).Info("order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(h.PrevStatus)),
		zap.String("to", string(to)),
		zap.Int64("actor_id", user.UserID),
		zap.String("actor_role", string(user.Role)),
	)
	return nil
}

func canViewOrder(user auth.UserContext, o *Order) bool {
	switch user.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleBuyer:
		return o.BuyerID == user.UserID
	case auth.RoleFarmer:
		return orderHasFarmer(o, user.UserID)
	}
	return false
}

func orderHasFarmer(o *Order, farmerID int64) bool {
	for _, item := range o.Items {
		if item.FarmerID == farmerID {
			return true
		}
	}
	return false
}
