package escrow

import (
	"context"
	"encoding/json"
	"errors"

	"florahub-be/internal/auth"
	"florahub-be/internal/gateway"
	"florahub-be/internal/logger"
	"florahub-be/internal/order"

	"go.uber.org/zap"
)

// Service owns every transition that moves money: recording payments,
// releasing held escrow to farmers and refunding buyers. Fulfilment-only
// transitions live in the order service.
type Service interface {
	// ApplyPaymentEvent settles a verified, normalized gateway event.
	// duplicate is true when the event was already applied; callers
	// acknowledge duplicates without side effects.
	ApplyPaymentEvent(ctx context.Context, ev gateway.Event, payload json.RawMessage) (duplicate bool, err error)

	// Deliver moves a shipped order to delivered and releases the held
	// escrow to the order's farmers, minus commission.
	Deliver(ctx context.Context, orderID int64, note string) error

	// Complete moves a delivered (or admin-resolved disputed) order to
	// completed. Release is retried idempotently in case the delivered
	// transition committed but a crash lost the credits.
	Complete(ctx context.Context, orderID int64, note string) error

	// Cancel moves the order to cancelled and, when escrow is held, marks
	// it refunded and queues a provider refund.
	Cancel(ctx context.Context, orderID int64, reason string) error

	GetTransaction(ctx context.Context, orderID int64) (*Transaction, error)
}

type service struct {
	repo          Repository
	orders        order.Repository
	commissionBps int64
}

func NewService(repo Repository, orders order.Repository, commissionBps int64) Service {
	return &service{
		repo:          repo,
		orders:        orders,
		commissionBps: commissionBps,
	}
}

func (s *service) ApplyPaymentEvent(ctx context.Context, ev gateway.Event, payload json.RawMessage) (bool, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "ApplyPaymentEvent"),
		zap.String("provider", string(ev.Provider)),
		zap.String("event_id", ev.EventID),
		zap.Int64("order_id", ev.OrderID),
	)

	o, err := s.orders.GetOrder(ctx, ev.OrderID)
	if err != nil {
		return false, err
	}

	// Amount is validated before the claim so a mismatched delivery is
	// rejected the same way every time it is retried.
	if ev.Outcome == gateway.OutcomeSuccess && ev.Amount != o.TotalAmount {
		log.Warn("amount mismatch",
			zap.Int64("event_amount", ev.Amount),
			zap.Int64("order_amount", o.TotalAmount),
		)
		return false, ErrAmountMismatch
	}

	if ev.Outcome == gateway.OutcomeFailure {
		duplicate, err := s.repo.MarkFailedTx(ctx, ev, payload)
		if err != nil {
			return false, err
		}
		if duplicate {
			log.Info("duplicate payment event acknowledged")
			return true, nil
		}
		log.Info("payment failure recorded",
			zap.String("raw_code", ev.RawCode),
			zap.String("message", ev.Message),
		)
		return false, nil
	}

	h := &order.StatusHistory{
		OrderID:    ev.OrderID,
		PrevStatus: order.StatusPending,
		NewStatus:  order.StatusPaid,
		Note:       "payment received via " + string(ev.Provider),
		ActorRole:  auth.RoleSystem,
	}

	// The claim rides the settlement transaction: a failure or crash
	// before commit rolls it back, so the provider's redelivery can
	// settle once the fault clears.
	duplicate, err := s.repo.SettlePaymentTx(ctx, ev, h, payload)
	if errors.Is(err, order.ErrStatusConflict) {
		// A distinct event for an order that already left pending, for
		// example paid through the other provider or cancelled. The
		// committed claim keeps redeliveries of this event acknowledged.
		return false, ErrAlreadySettled
	}
	if err != nil {
		return false, err
	}
	if duplicate {
		log.Info("duplicate payment event acknowledged")
		return true, nil
	}
	return false, nil
}

func (s *service) Deliver(ctx context.Context, orderID int64, note string) error {
	user, ok := auth.GetUserFromContext(ctx)
	if !ok {
		return order.ErrUnauthorized
	}

	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if user.Role == auth.RoleFarmer && !orderHasFarmer(o, user.UserID) {
		return order.ErrUnauthorized
	}
	if user.Role == auth.RoleBuyer {
		return order.ErrUnauthorized
	}

	if !order.CanTransition(o.Status, order.StatusDelivered) {
		return &order.InvalidTransitionError{From: o.Status, To: order.StatusDelivered}
	}

	h := &order.StatusHistory{
		OrderID:    orderID,
		PrevStatus: o.Status,
		NewStatus:  order.StatusDelivered,
		Note:       note,
		ActorID:    user.UserID,
		ActorRole:  user.Role,
	}
	return s.release(ctx, o, h)
}

func (s *service) Complete(ctx context.Context, orderID int64, note string) error {
	user, ok := auth.GetUserFromContext(ctx)
	if !ok {
		return order.ErrUnauthorized
	}

	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	switch user.Role {
	case auth.RoleAdmin, auth.RoleSystem:
	case auth.RoleBuyer:
		if o.BuyerID != user.UserID {
			return order.ErrUnauthorized
		}
		// Dispute resolution is an admin action.
		if o.Status == order.StatusDisputed {
			return order.ErrUnauthorized
		}
	default:
		return order.ErrUnauthorized
	}

	if !order.CanTransition(o.Status, order.StatusCompleted) {
		return &order.InvalidTransitionError{From: o.Status, To: order.StatusCompleted}
	}

	h := &order.StatusHistory{
		OrderID:    orderID,
		PrevStatus: o.Status,
		NewStatus:  order.StatusCompleted,
		Note:       note,
		ActorID:    user.UserID,
		ActorRole:  user.Role,
	}
	return s.release(ctx, o, h)
}

func (s *service) release(ctx context.Context, o *order.Order, h *order.StatusHistory) error {
	released, err := s.repo.ReleaseTx(ctx, o, h, s.commissionBps)
	if errors.Is(err, order.ErrStatusConflict) {
		current, getErr := s.orders.GetOrder(ctx, o.ID)
		if getErr != nil {
			return err
		}
		return &order.InvalidTransitionError{From: current.Status, To: h.NewStatus}
	}
	if err != nil {
		return err
	}

	logger.FromCtx(ctx).Info("order transitioned",
		zap.Int64("order_id", o.ID),
		zap.String("from", string(h.PrevStatus)),
		zap.String("to", string(h.NewStatus)),
		zap.Bool("escrow_released", released),
	)
	return nil
}

func (s *service) Cancel(ctx context.Context, orderID int64, reason string) error {
	user, ok := auth.GetUserFromContext(ctx)
	if !ok {
		return order.ErrUnauthorized
	}

	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	switch user.Role {
	case auth.RoleAdmin, auth.RoleSystem:
	case auth.RoleBuyer:
		if o.BuyerID != user.UserID {
			return order.ErrUnauthorized
		}
		if o.Status == order.StatusDisputed {
			return order.ErrUnauthorized
		}
	case auth.RoleFarmer:
		if !orderHasFarmer(o, user.UserID) {
			return order.ErrUnauthorized
		}
	default:
		return order.ErrUnauthorized
	}

	if !order.CanTransition(o.Status, order.StatusCancelled) {
		return &order.InvalidTransitionError{From: o.Status, To: order.StatusCancelled}
	}

	h := &order.StatusHistory{
		OrderID:    orderID,
		PrevStatus: o.Status,
		NewStatus:  order.StatusCancelled,
		Note:       reason,
		ActorID:    user.UserID,
		ActorRole:  user.Role,
	}

	refundQueued, err := s.repo.RefundTx(ctx, o, h, reason)
	if errors.Is(err, order.ErrStatusConflict) {
		current, getErr := s.orders.GetOrder(ctx, orderID)
		if getErr != nil {
			return err
		}
		return &order.InvalidTransitionError{From: current.Status, To: order.StatusCancelled}
	}
	if err != nil {
		return err
	}

	logger.FromCtx(ctx).Info("order cancelled",
		zap.Int64("order_id", orderID),
		zap.String("from", string(h.PrevStatus)),
		zap.Bool("refund_queued", refundQueued),
	)
	return nil
}

func (s *service) GetTransaction(ctx context.Context, orderID int64) (*Transaction, error) {
	return s.repo.GetByOrder(ctx, orderID)
}

func orderHasFarmer(o *order.Order, farmerID int64) bool {
	for _, item := range o.Items {
		if item.FarmerID == farmerID {
			return true
		}
	}
	return false
}
