package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"florahub-be/internal/logger"

	"go.uber.org/zap"
)

const payosBaseURL = "https://api-merchant.payos.vn"

const payosSuccessCode = "00"

var payosCodeMessages = map[string]string{
	"00": "thanh cong",
	"01": "tham so khong hop le",
	"02": "giao dich that bai",
}

type payosWebhook struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

type payosWebhookData struct {
	OrderCode int64  `json:"orderCode"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
	Code      string `json:"code"`
	Desc      string `json:"desc"`
}

type PayOS struct {
	clientID    string
	apiKey      string
	checksumKey string
	httpClient  *http.Client
}

func NewPayOS(clientID, apiKey, checksumKey string) *PayOS {
	if checksumKey == "" {
		logger.L().Warn("PayOS checksum key is empty")
	}

	return &PayOS{
		clientID:    clientID,
		apiKey:      apiKey,
		checksumKey: checksumKey,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

// signData implements PayOS's canonical check: the data object's keys are
// sorted alphabetically, joined as key=value pairs with '&', and signed
// with HMAC-SHA256 using the checksum key.
func (p *PayOS) signData(data json.RawMessage) (string, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		switch v := fields[k].(type) {
		case nil:
			// null serializes to the empty string
		case string:
			sb.WriteString(v)
		case float64:
			sb.WriteString(trimFloat(v))
		case bool:
			fmt.Fprintf(&sb, "%t", v)
		default:
			raw, _ := json.Marshal(v)
			sb.Write(raw)
		}
	}

	mac := hmac.New(sha256.New, []byte(p.checksumKey))
	mac.Write([]byte(sb.String()))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// ParseWebhook verifies the webhook signature and normalizes the payload.
// Verification happens before any field is trusted; parse errors reject
// the delivery rather than assuming success.
func (p *PayOS) ParseWebhook(body []byte) (*Event, error) {
	var hook payosWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if hook.Signature == "" || len(hook.Data) == 0 {
		return nil, ErrInvalidSignature
	}

	want, err := p.signData(hook.Data)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal([]byte(strings.ToLower(hook.Signature)), []byte(want)) {
		return nil, ErrInvalidSignature
	}

	var data payosWebhookData
	if err := json.Unmarshal(hook.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if data.OrderCode == 0 {
		return nil, fmt.Errorf("%w: missing orderCode", ErrMalformedPayload)
	}

	outcome := OutcomeFailure
	if data.Code == payosSuccessCode {
		outcome = OutcomeSuccess
	}

	msg, ok := payosCodeMessages[data.Code]
	if !ok {
		msg = "unknown error"
	}

	return &Event{
		EventID:       fmt.Sprintf("payos:%d:%s", data.OrderCode, data.Reference),
		Provider:      ProviderPayOS,
		OrderID:       data.OrderCode,
		Amount:        data.Amount,
		ProviderTxnID: data.Reference,
		Outcome:       outcome,
		RawCode:       data.Code,
		Message:       msg,
	}, nil
}

// CreatePaymentLink opens a PayOS payment request for an order and
// returns the checkout URL the buyer is redirected to.
func (p *PayOS) CreatePaymentLink(ctx context.Context, orderID, amount int64, description, returnURL, cancelURL string) (*PaymentIntent, error) {
	log := logger.FromCtx(ctx).With(
		zap.Int64("order_id", orderID),
		zap.Int64("amount", amount),
	)

	signed := fmt.Sprintf("amount=%d&cancelUrl=%s&description=%s&orderCode=%d&returnUrl=%s",
		amount, cancelURL, description, orderID, returnURL)
	mac := hmac.New(sha256.New, []byte(p.checksumKey))
	mac.Write([]byte(signed))

	body := map[string]interface{}{
		"orderCode":   orderID,
		"amount":      amount,
		"description": description,
		"returnUrl":   returnURL,
		"cancelUrl":   cancelURL,
		"signature":   hex.EncodeToString(mac.Sum(nil)),
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payosBaseURL+"/v2/payment-requests", bytes.NewBuffer(jsonBody))
	if err != nil {
		log.Error("failed creating payment link request", zap.Error(err))
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-client-id", p.clientID)
	req.Header.Set("x-api-key", p.apiKey)

	log.Info("creating PayOS payment link")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.Error("PayOS request failed", zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read payos response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Error("PayOS returned non-success status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", respBytes),
		)
		return nil, fmt.Errorf("payos error: %s", string(respBytes))
	}

	var res struct {
		Code string `json:"code"`
		Desc string `json:"desc"`
		Data struct {
			CheckoutURL   string `json:"checkoutUrl"`
			PaymentLinkID string `json:"paymentLinkId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBytes, &res); err != nil {
		log.Error("failed decoding PayOS response", zap.Error(err))
		return nil, err
	}
	if res.Code != payosSuccessCode {
		return nil, fmt.Errorf("payos rejected payment link: code %s: %s", res.Code, res.Desc)
	}

	log.Info("PayOS payment link created",
		zap.String("payment_link_id", res.Data.PaymentLinkID),
	)

	return &PaymentIntent{
		Provider:   ProviderPayOS,
		PaymentURL: res.Data.CheckoutURL,
		ExternalID: res.Data.PaymentLinkID,
	}, nil
}
