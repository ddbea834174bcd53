package clients

import (
	"context"
	"net/url"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/util"
)

// PaymentClient captures and refunds payments through a remote payment processor
type PaymentClient struct {
	http *httpClient
}

// NewPaymentClient creates a client for the payment role at baseURL
func NewPaymentClient(baseURL string, timeout time.Duration) *PaymentClient {
	return &PaymentClient{http: newHTTPClient(baseURL, "payment", timeout)}
}

// CreatePayment captures req's amount for its order
func (c *PaymentClient) CreatePayment(ctx context.Context, req *service.CreatePaymentRequest) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentClient.CreatePayment")
	defer span.End()

	var payment models.Payment
	if err := c.http.do(ctx, "POST", "/api/payments", req, &payment); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return &payment, nil
}

// RefundPayment refunds a completed payment
func (c *PaymentClient) RefundPayment(ctx context.Context, paymentID string, req *service.RefundRequest) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentClient.RefundPayment")
	defer span.End()

	var payment models.Payment
	path := "/api/payments/" + url.PathEscape(paymentID) + "/refund"
	if err := c.http.do(ctx, "POST", path, req, &payment); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return &payment, nil
}
