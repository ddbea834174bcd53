package clients

import (
	"context"
	"net/url"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/util"
)

type reserveRequest struct {
	OrderID string         `json:"orderId"`
	Items   map[string]int `json:"items"`
}

type releaseRequest struct {
	Reason string `json:"reason,omitempty"`
}

// InventoryClient drives a remote inventory ledger
type InventoryClient struct {
	http *httpClient
}

// NewInventoryClient creates a client for the inventory role at baseURL
func NewInventoryClient(baseURL string, timeout time.Duration) *InventoryClient {
	return &InventoryClient{http: newHTTPClient(baseURL, "inventory", timeout)}
}

// Reserve reserves all items for orderID or none. A refusal carries the
// failing lines as []service.ReserveFailure details.
func (c *InventoryClient) Reserve(ctx context.Context, orderID string, items map[string]int) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Reserve")
	defer span.End()

	var res models.Reservation
	if err := c.http.do(ctx, "POST", "/api/inventory/reserve", &reserveRequest{OrderID: orderID, Items: items}, &res); err != nil {
		var failures []service.ReserveFailure
		if remote, ok := remoteDetails(err, &failures); ok {
			remote.Details = failures
		}
		util.RecordError(span, err)
		return nil, err
	}
	return &res, nil
}

// Confirm confirms a pending reservation
func (c *InventoryClient) Confirm(ctx context.Context, reservationID string) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Confirm")
	defer span.End()

	var res models.Reservation
	path := "/api/inventory/reservation/" + url.PathEscape(reservationID) + "/confirm"
	if err := c.http.do(ctx, "POST", path, nil, &res); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return &res, nil
}

// Release returns a pending reservation's stock
func (c *InventoryClient) Release(ctx context.Context, reservationID, reason string) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Release")
	defer span.End()

	var res models.Reservation
	path := "/api/inventory/reservation/" + url.PathEscape(reservationID) + "/release"
	if err := c.http.do(ctx, "POST", path, &releaseRequest{Reason: reason}, &res); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return &res, nil
}

// GetReservation fetches a reservation's current state
func (c *InventoryClient) GetReservation(ctx context.Context, reservationID string) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "InventoryClient.GetReservation")
	defer span.End()

	var res models.Reservation
	path := "/api/inventory/reservation/" + url.PathEscape(reservationID)
	if err := c.http.do(ctx, "GET", path, nil, &res); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return &res, nil
}
