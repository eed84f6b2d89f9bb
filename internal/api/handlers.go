package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"florahub-be/internal/auth"
	"florahub-be/internal/escrow"
	"florahub-be/internal/gateway"
	"florahub-be/internal/logger"
	"florahub-be/internal/metrics"
	"florahub-be/internal/order"
	"florahub-be/internal/review"
	"florahub-be/internal/user"
	"florahub-be/internal/wallet"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Handler struct {
	users   user.Service
	orders  order.Service
	escrow  escrow.Service
	reviews review.Service
	wallets wallet.Repository
}

func NewHandler(
	users user.Service,
	orders order.Service,
	esc escrow.Service,
	reviews review.Service,
	wallets wallet.Repository,
) *Handler {
	return &Handler{
		users:   users,
		orders:  orders,
		escrow:  esc,
		reviews: reviews,
		wallets: wallets,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *order.InvalidTransitionError

	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	case errors.Is(err, review.ErrReviewNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, order.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.As(err, &invalid),
		errors.Is(err, order.ErrStatusConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, review.ErrInvalidRating),
		errors.Is(err, review.ErrNotReviewable):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, review.ErrReviewExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, user.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid email or password"})
	case errors.Is(err, user.ErrEmailExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		logger.FromCtx(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func orderIDFromPath(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email and password are required"})
		return
	}

	u, err := h.users.Register(r.Context(), req.Email, req.Password, req.Name, auth.Role(req.Role))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":    u.ID,
		"email": u.Email,
		"role":  u.Role,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	token, u, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user": map[string]interface{}{
			"id":    u.ID,
			"email": u.Email,
			"role":  u.Role,
		},
	})
}

type checkoutItemRequest struct {
	ProductID   int64  `json:"product_id"`
	FarmerID    int64  `json:"farmer_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
}

type checkoutRequest struct {
	Items           []checkoutItemRequest `json:"items"`
	ShippingAddress string                `json:"shipping_address"`
	Provider        string                `json:"provider"`
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	provider := gateway.Provider(strings.ToUpper(req.Provider))
	if provider != gateway.ProviderVNPay && provider != gateway.ProviderPayOS {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported payment provider"})
		return
	}

	input := order.CheckoutInput{
		ShippingAddress: req.ShippingAddress,
		Provider:        provider,
		ClientIP:        clientIP(r),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, order.CheckoutItemInput{
			ProductID:   item.ProductID,
			FarmerID:    item.FarmerID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	o, intent, err := h.orders.Checkout(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"order_id":     o.ID,
		"total_amount": o.TotalAmount,
		"status":       o.Status,
		"payment": map[string]interface{}{
			"provider":    intent.Provider,
			"payment_url": intent.PaymentURL,
			"external_id": intent.ExternalID,
		},
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDFromPath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	o, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDFromPath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	history, err := h.orders.GetHistory(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) GetOrderTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDFromPath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	if _, err := h.orders.GetOrder(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	t, err := h.escrow.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type statusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// UpdateOrderStatus routes each transition to its owner: transitions
// that move money go through the escrow service, the rest through the
// order service.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDFromPath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	to := order.OrderStatus(req.Status)
	switch to {
	case order.StatusDelivered:
		err = h.escrow.Deliver(r.Context(), id, req.Note)
	case order.StatusCompleted:
		err = h.escrow.Complete(r.Context(), id, req.Note)
	case order.StatusCancelled:
		err = h.escrow.Cancel(r.Context(), id, req.Note)
	default:
		err = h.orders.UpdateStatus(r.Context(), id, to, req.Note)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

type reviewRequest struct {
	Rating  int      `json:"rating"`
	Comment string   `json:"comment"`
	Photos  []string `json:"photos"`
}

func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDFromPath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	rev, err := h.reviews.Create(r.Context(), id, req.Rating, req.Comment, req.Photos)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rev)
}

func (h *Handler) GetReview(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDFromPath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	rev, err := h.reviews.GetByOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	wlt, err := h.wallets.GetWallet(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wlt)
}

func (h *Handler) GetMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, metrics.Collect())
}

func (h *Handler) GetWalletTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	txs, err := h.wallets.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}
