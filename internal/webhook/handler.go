package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"florahub-be/internal/escrow"
	"florahub-be/internal/gateway"
	"florahub-be/internal/logger"
	"florahub-be/internal/metrics"
	"florahub-be/internal/order"

	"go.uber.org/zap"
)

// VNPay IPN acknowledgement codes. VNPay redelivers until it receives
// RspCode 00 or 02; every other code marks the delivery rejected.
const (
	vnpayAckOK           = "00"
	vnpayAckNotFound     = "01"
	vnpayAckConfirmed    = "02"
	vnpayAckBadAmount    = "04"
	vnpayAckBadChecksum  = "97"
	vnpayAckUnknownError = "99"
)

type Handler struct {
	vnpay  *gateway.VNPay
	payos  *gateway.PayOS
	escrow escrow.Service
}

func NewHandler(vnpay *gateway.VNPay, payos *gateway.PayOS, esc escrow.Service) *Handler {
	return &Handler{vnpay: vnpay, payos: payos, escrow: esc}
}

func vnpayAck(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"RspCode": code,
		"Message": message,
	})
}

// VNPayIPN handles the server-to-server payment notification. The
// signature is checked before any field is read; a tampered callback
// never reaches the order.
func (h *Handler) VNPayIPN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := r.URL.Query()
	log := logger.FromCtx(ctx).With(zap.String("handler", "VNPayIPN"))
	metrics.PaymentEventsReceived.Inc()

	if err := h.vnpay.VerifyCallback(params); err != nil {
		log.Warn("rejected VNPay callback with invalid checksum")
		metrics.PaymentEventsRejected.Inc()
		vnpayAck(w, vnpayAckBadChecksum, "Invalid Checksum")
		return
	}

	ev, err := h.vnpay.Normalize(params)
	if err != nil {
		log.Warn("malformed VNPay callback", zap.Error(err))
		metrics.PaymentEventsRejected.Inc()
		vnpayAck(w, vnpayAckUnknownError, "Invalid Params")
		return
	}

	payload, err := json.Marshal(params)
	if err != nil {
		vnpayAck(w, vnpayAckUnknownError, "Unknown Error")
		return
	}

	duplicate, err := h.escrow.ApplyPaymentEvent(ctx, *ev, payload)
	switch {
	case err == nil && duplicate:
		metrics.PaymentEventsDuplicate.Inc()
		vnpayAck(w, vnpayAckConfirmed, "Order already confirmed")
	case err == nil:
		vnpayAck(w, vnpayAckOK, "Confirm Success")
	case errors.Is(err, escrow.ErrAlreadySettled):
		metrics.PaymentEventsDuplicate.Inc()
		vnpayAck(w, vnpayAckConfirmed, "Order already confirmed")
	case errors.Is(err, escrow.ErrAmountMismatch):
		metrics.PaymentEventsRejected.Inc()
		vnpayAck(w, vnpayAckBadAmount, "Invalid Amount")
	case errors.Is(err, order.ErrOrderNotFound):
		metrics.PaymentEventsRejected.Inc()
		vnpayAck(w, vnpayAckNotFound, "Order not found")
	default:
		log.Error("failed to apply VNPay event",
			zap.String("event_id", ev.EventID),
			zap.Error(err),
		)
		vnpayAck(w, vnpayAckUnknownError, "Unknown Error")
	}
}

// PayOSWebhook handles PayOS payment notifications. PayOS retries on any
// non-2xx, so transient settlement failures answer 500 and permanent
// rejections answer 400.
func (h *Handler) PayOSWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromCtx(ctx).With(zap.String("handler", "PayOSWebhook"))
	metrics.PaymentEventsReceived.Inc()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	ev, err := h.payos.ParseWebhook(body)
	if err != nil {
		log.Warn("rejected PayOS webhook", zap.Error(err))
		metrics.PaymentEventsRejected.Inc()
		http.Error(w, "invalid webhook", http.StatusBadRequest)
		return
	}

	duplicate, err := h.escrow.ApplyPaymentEvent(ctx, *ev, body)
	switch {
	case err == nil && duplicate,
		errors.Is(err, escrow.ErrAlreadySettled):
		metrics.PaymentEventsDuplicate.Inc()
	case err == nil:
	case errors.Is(err, escrow.ErrAmountMismatch),
		errors.Is(err, order.ErrOrderNotFound):
		metrics.PaymentEventsRejected.Inc()
		log.Warn("rejected PayOS event",
			zap.String("event_id", ev.EventID),
			zap.Error(err),
		)
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	default:
		log.Error("failed to apply PayOS event",
			zap.String("event_id", ev.EventID),
			zap.Error(err),
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
