package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"florahub-be/internal/logger"

	"go.uber.org/zap"
)

// vnpayResponseMessages maps vnp_ResponseCode values to human-readable
// failure reasons. "00" is the only success code.
var vnpayResponseMessages = map[string]string{
	"00": "giao dich thanh cong",
	"07": "giao dich bi nghi ngo gian lan",
	"09": "the chua dang ky internet banking",
	"10": "xac thuc sai qua 3 lan",
	"11": "het han cho thanh toan",
	"12": "tai khoan bi khoa",
	"13": "sai mat khau otp",
	"24": "khach hang huy giao dich",
	"51": "tai khoan khong du so du",
	"65": "vuot qua han muc giao dich trong ngay",
	"75": "ngan hang thanh toan dang bao tri",
	"79": "sai mat khau thanh toan qua so lan quy dinh",
	"99": "loi khong xac dinh",
}

const vnpaySuccessCode = "00"

type VNPay struct {
	tmnCode    string
	hashSecret string
	payURL     string
	refundURL  string
	returnURL  string
	httpClient *http.Client
}

func NewVNPay(tmnCode, hashSecret, payURL, refundURL, returnURL string) *VNPay {
	if hashSecret == "" {
		logger.L().Warn("VNPay hash secret is empty")
	}

	return &VNPay{
		tmnCode:    tmnCode,
		hashSecret: hashSecret,
		payURL:     payURL,
		refundURL:  refundURL,
		returnURL:  returnURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// signQuery computes the HMAC-SHA512 hex digest over the lexicographically
// sorted, URL-encoded params. vnp_SecureHash and vnp_SecureHashType are
// never part of the signed data.
func (v *VNPay) signQuery(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params.Get(k)))
	}

	mac := hmac.New(sha512.New, []byte(v.hashSecret))
	mac.Write([]byte(sb.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallback checks the vnp_SecureHash of an IPN callback. It fails
// closed: a missing or malformed hash is rejected, never assumed valid.
func (v *VNPay) VerifyCallback(params url.Values) error {
	got := params.Get("vnp_SecureHash")
	if got == "" {
		return ErrInvalidSignature
	}

	want := v.signQuery(params)
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return ErrInvalidSignature
	}
	return nil
}

// Normalize maps a verified IPN callback to the canonical event shape.
func (v *VNPay) Normalize(params url.Values) (*Event, error) {
	orderID, err := strconv.ParseInt(params.Get("vnp_TxnRef"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: vnp_TxnRef %q", ErrMalformedPayload, params.Get("vnp_TxnRef"))
	}

	// vnp_Amount is VND multiplied by 100.
	rawAmount, err := strconv.ParseInt(params.Get("vnp_Amount"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: vnp_Amount %q", ErrMalformedPayload, params.Get("vnp_Amount"))
	}

	code := params.Get("vnp_ResponseCode")
	txnNo := params.Get("vnp_TransactionNo")

	outcome := OutcomeFailure
	if code == vnpaySuccessCode {
		outcome = OutcomeSuccess
	}

	msg, ok := vnpayResponseMessages[code]
	if !ok {
		msg = "unknown error"
	}

	return &Event{
		EventID:       fmt.Sprintf("vnpay:%d:%s", orderID, txnNo),
		Provider:      ProviderVNPay,
		OrderID:       orderID,
		Amount:        rawAmount / 100,
		ProviderTxnID: txnNo,
		Outcome:       outcome,
		RawCode:       code,
		Message:       msg,
	}, nil
}

// BuildPaymentURL produces the signed redirect URL a buyer is sent to.
func (v *VNPay) BuildPaymentURL(orderID, amount int64, orderInfo, clientIP string, now time.Time) string {
	params := url.Values{}
	params.Set("vnp_Version", "2.1.0")
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", v.tmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(amount*100, 10))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", strconv.FormatInt(orderID, 10))
	params.Set("vnp_OrderInfo", orderInfo)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", "vn")
	params.Set("vnp_ReturnUrl", v.returnURL)
	params.Set("vnp_IpAddr", clientIP)
	params.Set("vnp_CreateDate", now.Format("20060102150405"))

	params.Set("vnp_SecureHash", v.signQuery(params))
	return v.payURL + "?" + params.Encode()
}

// Refund calls the VNPay merchant refund API. The caller owns retry
// policy; any non-"00" response code is returned as an error.
func (v *VNPay) Refund(ctx context.Context, req RefundRequest) error {
	log := logger.FromCtx(ctx).With(
		zap.Int64("order_id", req.OrderID),
		zap.Int64("amount", req.Amount),
		zap.String("provider_txn_id", req.ProviderTxnID),
	)

	now := time.Now()
	body := map[string]string{
		"vnp_RequestId":       req.RequestID,
		"vnp_Version":         "2.1.0",
		"vnp_Command":         "refund",
		"vnp_TmnCode":         v.tmnCode,
		"vnp_TransactionType": "02",
		"vnp_TxnRef":          strconv.FormatInt(req.OrderID, 10),
		"vnp_Amount":          strconv.FormatInt(req.Amount*100, 10),
		"vnp_TransactionNo":   req.ProviderTxnID,
		"vnp_OrderInfo":       req.Reason,
		"vnp_TransactionDate": now.Format("20060102150405"),
		"vnp_CreateDate":      now.Format("20060102150405"),
		"vnp_CreateBy":        "florahub",
		"vnp_IpAddr":          "127.0.0.1",
	}

	// Refund requests are signed over the pipe-joined field values in
	// the order VNPay documents.
	signed := strings.Join([]string{
		body["vnp_RequestId"], body["vnp_Version"], body["vnp_Command"],
		body["vnp_TmnCode"], body["vnp_TransactionType"], body["vnp_TxnRef"],
		body["vnp_Amount"], body["vnp_TransactionNo"], body["vnp_TransactionDate"],
		body["vnp_CreateBy"], body["vnp_CreateDate"], body["vnp_IpAddr"],
		body["vnp_OrderInfo"],
	}, "|")
	mac := hmac.New(sha512.New, []byte(v.hashSecret))
	mac.Write([]byte(signed))
	body["vnp_SecureHash"] = hex.EncodeToString(mac.Sum(nil))

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.refundURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		log.Error("failed creating refund request", zap.Error(err))
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Info("sending refund request to VNPay")

	resp, err := v.httpClient.Do(httpReq)
	if err != nil {
		log.Error("VNPay refund request failed", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read vnpay response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Error("VNPay refund returned non-success status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", respBytes),
		)
		return fmt.Errorf("vnpay refund error: %s", string(respBytes))
	}

	var res struct {
		ResponseCode string `json:"vnp_ResponseCode"`
		Message      string `json:"vnp_Message"`
	}
	if err := json.Unmarshal(respBytes, &res); err != nil {
		return fmt.Errorf("failed decoding vnpay refund response: %w", err)
	}

	if res.ResponseCode != vnpaySuccessCode {
		log.Error("VNPay rejected refund",
			zap.String("code", res.ResponseCode),
			zap.String("message", res.Message),
		)
		return fmt.Errorf("vnpay refund rejected: code %s: %s", res.ResponseCode, res.Message)
	}

	log.Info("VNPay refund accepted")
	return nil
}
