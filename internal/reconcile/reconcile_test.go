package reconcile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"florahub-be/internal/escrow"
	"florahub-be/internal/gateway"
	"florahub-be/internal/order"
	"florahub-be/internal/wallet"

	"github.com/stretchr/testify/mock"
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

type MockWalletRepository struct {
	mock.Mock
}

func (m *MockWalletRepository) Credit(ctx context.Context, ex wallet.Execer, farmerID, amount int64, description string, orderID int64) error {
	args := m.Called(ctx, ex, farmerID, amount, description, orderID)
	return args.Error(0)
}

func (m *MockWalletRepository) Debit(ctx context.Context, ex wallet.Execer, farmerID, amount int64, description string, orderID int64) error {
	args := m.Called(ctx, ex, farmerID, amount, description, orderID)
	return args.Error(0)
}

func (m *MockWalletRepository) GetWallet(ctx context.Context, farmerID int64) (*wallet.FarmerWallet, error) {
	args := m.Called(ctx, farmerID)
	if w, ok := args.Get(0).(*wallet.FarmerWallet); ok {
		return w, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockWalletRepository) ListTransactions(ctx context.Context, farmerID int64, limit int) ([]wallet.Transaction, error) {
	args := m.Called(ctx, farmerID, limit)
	if txs, ok := args.Get(0).([]wallet.Transaction); ok {
		return txs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockWalletRepository) ReplayBalance(ctx context.Context, farmerID int64) (int64, error) {
	args := m.Called(ctx, farmerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockWalletRepository) ListFarmerIDs(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	if ids, ok := args.Get(0).([]int64); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestJob_RunAutoComplete(t *testing.T) {
	t.Run("CompletesEveryCandidate", func(t *testing.T) {
		orders := new(MockOrderRepository)
		esc := new(MockEscrowService)
		job := NewJob(orders, esc, new(MockWalletRepository), 7)

		orders.On("ListAutoCompletable", mock.Anything, mock.AnythingOfType("time.Time"), autoCompleteBatch).
			Return([]int64{1001, 1002}, nil)
		esc.On("Complete", mock.Anything, int64(1001), "auto-completed after dispute window").Return(nil)
		esc.On("Complete", mock.Anything, int64(1002), "auto-completed after dispute window").Return(nil)

		job.RunAutoComplete(context.Background())
		esc.AssertExpectations(t)
	})

	t.Run("SkipsOrdersThatMovedConcurrently", func(t *testing.T) {
		orders := new(MockOrderRepository)
		esc := new(MockEscrowService)
		job := NewJob(orders, esc, new(MockWalletRepository), 7)

		orders.On("ListAutoCompletable", mock.Anything, mock.AnythingOfType("time.Time"), autoCompleteBatch).
			Return([]int64{1001, 1002}, nil)
		esc.On("Complete", mock.Anything, int64(1001), mock.Anything).
			Return(&order.InvalidTransitionError{From: order.StatusDisputed, To: order.StatusCompleted})
		esc.On("Complete", mock.Anything, int64(1002), mock.Anything).Return(nil)

		job.RunAutoComplete(context.Background())
		esc.AssertExpectations(t)
	})
}

func TestJob_RunWalletAudit(t *testing.T) {
	orders := new(MockOrderRepository)
	wallets := new(MockWalletRepository)
	job := NewJob(orders, new(MockEscrowService), wallets, 7)

	ctx := context.Background()
	wallets.On("ListFarmerIDs", ctx).Return([]int64{5, 9}, nil)
	wallets.On("GetWallet", ctx, int64(5)).Return(&wallet.FarmerWallet{FarmerID: 5, Balance: 291000}, nil)
	wallets.On("ReplayBalance", ctx, int64(5)).Return(int64(291000), nil)
	// Farmer 9 drifted; the audit logs and keeps going.
	wallets.On("GetWallet", ctx, int64(9)).Return(&wallet.FarmerWallet{FarmerID: 9, Balance: 200000}, nil)
	wallets.On("ReplayBalance", ctx, int64(9)).Return(int64(194000), nil)

	job.RunWalletAudit(ctx)
	wallets.AssertExpectations(t)
}
