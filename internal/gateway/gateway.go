package gateway

import (
	"context"
	"errors"
)

type Provider string

const (
	ProviderVNPay Provider = "VNPAY"
	ProviderPayOS Provider = "PAYOS"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is the normalized form of a provider callback or webhook.
// Adapters are pure: verification and normalization never touch state.
type Event struct {
	// EventID uniquely identifies the delivery for idempotency claims.
	EventID       string
	Provider      Provider
	OrderID       int64
	Amount        int64
	ProviderTxnID string
	Outcome       Outcome
	RawCode       string
	Message       string
}

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMalformedPayload = errors.New("malformed provider payload")
)

// PaymentIntent is what checkout hands back to the buyer.
type PaymentIntent struct {
	Provider   Provider
	PaymentURL string
	ExternalID string
}

type RefundRequest struct {
	// RequestID must be stable across retries of the same refund so the
	// provider can deduplicate; derive it from the refund job, never
	// generate it per attempt.
	RequestID     string
	OrderID       int64
	Amount        int64
	ProviderTxnID string
	Reason        string
}

// RefundClient issues a refund against the provider. Callers are expected
// to retry with backoff; a nil error means the provider accepted the
// refund instruction.
type RefundClient interface {
	Refund(ctx context.Context, req RefundRequest) error
}
