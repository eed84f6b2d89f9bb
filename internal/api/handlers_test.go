package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"florahub-be/internal/auth"
	"florahub-be/internal/escrow"
	"florahub-be/internal/gateway"
	"florahub-be/internal/order"
	"florahub-be/internal/review"
	"florahub-be/internal/user"
	"florahub-be/internal/wallet"
	"florahub-be/internal/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "api-test-secret"

type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Register(ctx context.Context, email, password, name string, role auth.Role) (*user.User, error) {
	args := m.Called(ctx, email, password, name, role)
	if u, ok := args.Get(0).(*user.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserService) Login(ctx context.Context, email, password string) (string, *user.User, error) {
	args := m.Called(ctx, email, password)
	if u, ok := args.Get(1).(*user.User); ok {
		return args.String(0), u, args.Error(2)
	}
	return args.String(0), nil, args.Error(2)
}

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) Checkout(ctx context.Context, input order.CheckoutInput) (*order.Order, *gateway.PaymentIntent, error) {
	args := m.Called(ctx, input)
	var o *order.Order
	var intent *gateway.PaymentIntent
	if v, ok := args.Get(0).(*order.Order); ok {
		o = v
	}
	if v, ok := args.Get(1).(*gateway.PaymentIntent); ok {
		intent = v
	}
	return o, intent, args.Error(2)
}

func (m *MockOrderService) GetOrder(ctx context.Context, orderID int64) (*order.Order, error) {
	args := m.Called(ctx, orderID)
	if o, ok := args.Get(0).(*order.Order); ok {
		return o, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderService) GetHistory(ctx context.Context, orderID int64) ([]order.StatusHistory, error) {
	args := m.Called(ctx, orderID)
	if h, ok := args.Get(0).([]order.StatusHistory); ok {
		return h, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderService) UpdateStatus(ctx context.Context, orderID int64, to order.OrderStatus, note string) error {
	args := m.Called(ctx, orderID, to, note)
	return args.Error(0)
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

type MockReviewService struct {
	mock.Mock
}

func (m *MockReviewService) Create(ctx context.Context, orderID int64, rating int, comment string, photos []string) (*review.Review, error) {
	args := m.Called(ctx, orderID, rating, comment, photos)
	if r, ok := args.Get(0).(*review.Review); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockReviewService) GetByOrder(ctx context.Context, orderID int64) (*review.Review, error) {
	args := m.Called(ctx, orderID)
	if r, ok := args.Get(0).(*review.Review); ok {
		return r, args.Error(1)
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

type testServer struct {
	users   *MockUserService
	orders  *MockOrderService
	escrow  *MockEscrowService
	reviews *MockReviewService
	wallets *MockWalletRepository
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		users:   new(MockUserService),
		orders:  new(MockOrderService),
		escrow:  new(MockEscrowService),
		reviews: new(MockReviewService),
		wallets: new(MockWalletRepository),
	}
	h := NewHandler(s.users, s.orders, s.escrow, s.reviews, s.wallets)
	vnpay := gateway.NewVNPay("TESTTMN", "secret", "https://pay.example.com", "https://refund.example.com", "https://shop.example.com")
	payos := gateway.NewPayOS("client", "key", "checksum")
	s.router = NewRouter(h, webhook.NewHandler(vnpay, payos, s.escrow), testSecret)
	return s
}

func authedRequest(t *testing.T, method, target, body string, userID int64, role auth.Role) *http.Request {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	token, err := auth.GenerateToken(testSecret, userID, "user@example.com", role)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestRouter_RoleGating(t *testing.T) {
	t.Run("AnonymousCheckoutRejected", func(t *testing.T) {
		s := newTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("FarmerCheckoutForbidden", func(t *testing.T) {
		s := newTestServer(t)
		req := authedRequest(t, http.MethodPost, "/checkout", `{}`, 5, auth.RoleFarmer)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("BuyerCannotReadWallet", func(t *testing.T) {
		s := newTestServer(t)
		req := authedRequest(t, http.MethodGet, "/wallet", "", 7, auth.RoleBuyer)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestHandler_Checkout(t *testing.T) {
	s := newTestServer(t)

	s.orders.On("Checkout", mock.Anything, mock.MatchedBy(func(in order.CheckoutInput) bool {
		return in.Provider == gateway.ProviderVNPay && len(in.Items) == 1
	})).Return(
		&order.Order{ID: 1001, TotalAmount: 300000, Status: order.StatusPending},
		&gateway.PaymentIntent{Provider: gateway.ProviderVNPay, PaymentURL: "https://pay.example.com?x=1"},
		nil,
	)

	body := `{
		"items": [{"product_id": 3, "farmer_id": 5, "product_name": "Tulip bouquet", "quantity": 2, "unit_price": 150000}],
		"shipping_address": "12 Hang Gai, Hanoi",
		"provider": "vnpay"
	}`
	req := authedRequest(t, http.MethodPost, "/checkout", body, 7, auth.RoleBuyer)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1001), resp["order_id"])
	s.orders.AssertExpectations(t)
}

func TestHandler_CheckoutUnknownProvider(t *testing.T) {
	s := newTestServer(t)
	req := authedRequest(t, http.MethodPost, "/checkout", `{"provider":"paypal"}`, 7, auth.RoleBuyer)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_UpdateOrderStatusRouting(t *testing.T) {
	cases := []struct {
		name   string
		status string
		setup  func(s *testServer)
		verify func(t *testing.T, s *testServer)
	}{
		{
			name:   "DeliveredGoesThroughEscrow",
			status: "delivered",
			setup: func(s *testServer) {
				s.escrow.On("Deliver", mock.Anything, int64(1001), "dropped off").Return(nil)
			},
			verify: func(t *testing.T, s *testServer) {
				s.escrow.AssertExpectations(t)
				s.orders.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			},
		},
		{
			name:   "CompletedGoesThroughEscrow",
			status: "completed",
			setup: func(s *testServer) {
				s.escrow.On("Complete", mock.Anything, int64(1001), "dropped off").Return(nil)
			},
			verify: func(t *testing.T, s *testServer) { s.escrow.AssertExpectations(t) },
		},
		{
			name:   "CancelledGoesThroughEscrow",
			status: "cancelled",
			setup: func(s *testServer) {
				s.escrow.On("Cancel", mock.Anything, int64(1001), "dropped off").Return(nil)
			},
			verify: func(t *testing.T, s *testServer) { s.escrow.AssertExpectations(t) },
		},
		{
			name:   "ConfirmedGoesThroughOrderService",
			status: "confirmed",
			setup: func(s *testServer) {
				s.orders.On("UpdateStatus", mock.Anything, int64(1001), order.StatusConfirmed, "dropped off").Return(nil)
			},
			verify: func(t *testing.T, s *testServer) {
				s.orders.AssertExpectations(t)
				s.escrow.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t)
			tc.setup(s)

			body := `{"status":"` + tc.status + `","note":"dropped off"}`
			req := authedRequest(t, http.MethodPost, "/orders/1001/status", body, 5, auth.RoleFarmer)
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			tc.verify(t, s)
		})
	}
}

func TestHandler_UpdateOrderStatusConflict(t *testing.T) {
	s := newTestServer(t)
	s.escrow.On("Deliver", mock.Anything, int64(1001), "").
		Return(&order.InvalidTransitionError{From: order.StatusPending, To: order.StatusDelivered})

	req := authedRequest(t, http.MethodPost, "/orders/1001/status", `{"status":"delivered"}`, 5, auth.RoleFarmer)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_GetWallet(t *testing.T) {
	s := newTestServer(t)
	s.wallets.On("GetWallet", mock.Anything, int64(5)).
		Return(&wallet.FarmerWallet{FarmerID: 5, Balance: 291000, TotalEarned: 291000, UpdatedAt: time.Now()}, nil)

	req := authedRequest(t, http.MethodGet, "/wallet", "", 5, auth.RoleFarmer)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp wallet.FarmerWallet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(291000), resp.Balance)
}

func TestHandler_Login(t *testing.T) {
	t.Run("SetsCookieAndReturnsToken", func(t *testing.T) {
		s := newTestServer(t)
		s.users.On("Login", mock.Anything, "buyer@example.com", "password").
			Return("signed-token", &user.User{ID: 7, Email: "buyer@example.com", Role: auth.RoleBuyer}, nil)

		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"buyer@example.com","password":"password"}`))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, "access_token", cookies[0].Name)
		assert.Equal(t, "signed-token", cookies[0].Value)
	})

	t.Run("BadCredentials", func(t *testing.T) {
		s := newTestServer(t)
		s.users.On("Login", mock.Anything, "buyer@example.com", "wrong").
			Return("", nil, user.ErrInvalidCredentials)

		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"buyer@example.com","password":"wrong"}`))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandler_CreateReview(t *testing.T) {
	s := newTestServer(t)
	s.reviews.On("Create", mock.Anything, int64(1001), 5, "lovely roses", []string(nil)).
		Return(&review.Review{ID: 1, OrderID: 1001, Rating: 5}, nil)

	req := authedRequest(t, http.MethodPost, "/orders/1001/review", `{"rating":5,"comment":"lovely roses"}`, 7, auth.RoleBuyer)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	s.reviews.AssertExpectations(t)
}
