package gateway

import (
	"context"
	"fmt"
	"time"
)

// IntentCreator opens a provider payment for an order.
type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, orderID, amount int64, orderInfo, clientIP string, provider Provider) (*PaymentIntent, error)
}

// Payments routes payment intents to the configured provider adapters.
type Payments struct {
	vnpay     *VNPay
	payos     *PayOS
	returnURL string
	cancelURL string
}

func NewPayments(vnpay *VNPay, payos *PayOS, returnURL, cancelURL string) *Payments {
	return &Payments{
		vnpay:     vnpay,
		payos:     payos,
		returnURL: returnURL,
		cancelURL: cancelURL,
	}
}

func (p *Payments) CreatePaymentIntent(
	ctx context.Context,
	orderID, amount int64,
	orderInfo, clientIP string,
	provider Provider,
) (*PaymentIntent, error) {

	switch provider {
	case ProviderVNPay:
		// VNPay pay URLs are signed locally; no provider round trip.
		url := p.vnpay.BuildPaymentURL(orderID, amount, orderInfo, clientIP, time.Now())
		return &PaymentIntent{
			Provider:   ProviderVNPay,
			PaymentURL: url,
			ExternalID: fmt.Sprintf("%d", orderID),
		}, nil
	case ProviderPayOS:
		return p.payos.CreatePaymentLink(ctx, orderID, amount, orderInfo, p.returnURL, p.cancelURL)
	default:
		return nil, fmt.Errorf("unsupported payment provider: %s", provider)
	}
}
