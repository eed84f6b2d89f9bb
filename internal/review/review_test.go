package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"florahub-be/internal/auth"
	"florahub-be/internal/escrow"
	"florahub-be/internal/gateway"
	"florahub-be/internal/order"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) CreateOrderTx(ctx context.Context, o *order.Order) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MockOrderRepository) GetOrder(ctx context.Context, orderID int64) (*order.Order, error) {
	args := m.Called(ctx, orderID)
	if o, ok := args.Get(0).(*order.Order); ok {
		return o, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderRepository) TransitionTx(ctx context.Context, h *order.StatusHistory) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

func (m *MockOrderRepository) GetHistory(ctx context.Context, orderID int64) ([]order.StatusHistory, error) {
	args := m.Called(ctx, orderID)
	if h, ok := args.Get(0).([]order.StatusHistory); ok {
		return h, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderRepository) ListAutoCompletable(ctx context.Context, deliveredBefore time.Time, limit int) ([]int64, error) {
	args := m.Called(ctx, deliveredBefore, limit)
	if ids, ok := args.Get(0).([]int64); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockEscrowService struct {
	mock.Mock
}

func (m *MockEscrowService) ApplyPaymentEvent(ctx context.Context, ev gateway.Event, payload json.RawMessage) (bool, error) {
	args := m.Called(ctx, ev, payload)
	return args.Bool(0), args.Error(1)
}

func (m *MockEscrowService) Deliver(ctx context.Context, orderID int64, note string) error {
	args := m.Called(ctx, orderID, note)
	return args.Error(0)
}

func (m *MockEscrowService) Complete(ctx context.Context, orderID int64, note string) error {
	args := m.Called(ctx, orderID, note)
	return args.Error(0)
}

func (m *MockEscrowService) Cancel(ctx context.Context, orderID int64, reason string) error {
	args := m.Called(ctx, orderID, reason)
	return args.Error(0)
}

func (m *MockEscrowService) GetTransaction(ctx context.Context, orderID int64) (*escrow.Transaction, error) {
	args := m.Called(ctx, orderID)
	if t, ok := args.Get(0).(*escrow.Transaction); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func deliveredOrder() *order.Order {
	return &order.Order{
		ID:          1001,
		BuyerID:     7,
		TotalAmount: 300000,
		Status:      order.StatusDelivered,
		Items: []order.OrderItem{
			{FarmerID: 5, Subtotal: 300000},
		},
	}
}

func buyerCtx() context.Context {
	return auth.SetUserContext(context.Background(), 7, "buyer@example.com", auth.RoleBuyer)
}

func TestService_Create(t *testing.T) {
	t.Run("ReviewCompletesDeliveredOrder", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		orders := new(MockOrderRepository)
		esc := new(MockEscrowService)
		svc := NewService(db, orders, esc)

		ctx := buyerCtx()
		orders.On("GetOrder", ctx, int64(1001)).Return(deliveredOrder(), nil)
		dbmock.ExpectQuery(`INSERT INTO reviews`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
		esc.On("Complete", ctx, int64(1001), "review submitted with rating 5").Return(nil)

		r, err := svc.Create(ctx, 1001, 5, "beautiful tulips", []string{"photo1.jpg"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), r.ID)
		esc.AssertExpectations(t)
	})

	t.Run("CompletedOrderSkipsCompletion", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		orders := new(MockOrderRepository)
		esc := new(MockEscrowService)
		svc := NewService(db, orders, esc)

		o := deliveredOrder()
		o.Status = order.StatusCompleted
		ctx := buyerCtx()
		orders.On("GetOrder", ctx, int64(1001)).Return(o, nil)
		dbmock.ExpectQuery(`INSERT INTO reviews`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))

		_, err = svc.Create(ctx, 1001, 4, "", nil)
		require.NoError(t, err)
		esc.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("DuplicateReview", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		orders := new(MockOrderRepository)
		esc := new(MockEscrowService)
		svc := NewService(db, orders, esc)

		ctx := buyerCtx()
		orders.On("GetOrder", ctx, int64(1001)).Return(deliveredOrder(), nil)
		dbmock.ExpectQuery(`INSERT INTO reviews`).
			WillReturnError(sql.ErrNoRows)

		_, err = svc.Create(ctx, 1001, 5, "", nil)
		assert.ErrorIs(t, err, ErrReviewExists)
		esc.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("InvalidRating", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		svc := NewService(db, new(MockOrderRepository), new(MockEscrowService))

		_, err = svc.Create(buyerCtx(), 1001, 6, "", nil)
		assert.ErrorIs(t, err, ErrInvalidRating)
		_, err = svc.Create(buyerCtx(), 1001, 0, "", nil)
		assert.ErrorIs(t, err, ErrInvalidRating)
	})

	t.Run("NotBuyersOrder", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		orders := new(MockOrderRepository)
		svc := NewService(db, orders, new(MockEscrowService))

		ctx := auth.SetUserContext(context.Background(), 999, "other@example.com", auth.RoleBuyer)
		orders.On("GetOrder", ctx, int64(1001)).Return(deliveredOrder(), nil)

		_, err = svc.Create(ctx, 1001, 5, "", nil)
		assert.ErrorIs(t, err, order.ErrUnauthorized)
	})

	t.Run("NotYetDelivered", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		orders := new(MockOrderRepository)
		svc := NewService(db, orders, new(MockEscrowService))

		o := deliveredOrder()
		o.Status = order.StatusShipped
		ctx := buyerCtx()
		orders.On("GetOrder", ctx, int64(1001)).Return(o, nil)

		_, err = svc.Create(ctx, 1001, 5, "", nil)
		assert.ErrorIs(t, err, ErrNotReviewable)
	})
}
