package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reasons reported for a rejected reservation line
const (
	ReserveFailureNotFound     = "not_found"
	ReserveFailureInsufficient = "insufficient"
)

// ReserveFailure describes one line that blocked a reservation
type ReserveFailure struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Reason    string `json:"reason"`
}

// CreateStockRequest represents a request to create a stock record
type CreateStockRequest struct {
	Quantity int    `json:"quantity"`
	Location string `json:"location"`
}

// UpdateStockRequest represents a partial stock update
type UpdateStockRequest struct {
	Quantity     *int    `json:"quantity,omitempty"`
	Location     *string `json:"location,omitempty"`
	Discontinued *bool   `json:"discontinued,omitempty"`
}

// InventoryLedger keeps stock records and reservations in memory.
//
// stockMu guards stock, reservationMu guards reservations. Code that needs
// both takes stockMu first.
type InventoryLedger struct {
	stockMu sync.Mutex
	stock   map[string]*models.StockRecord

	reservationMu sync.Mutex
	reservations  map[string]*models.Reservation

	ttl    time.Duration
	now    func() time.Time
	events EventPublisher
	logger *zap.Logger
}

// NewInventoryLedger creates an empty ledger. A ttl of zero disables reservation expiry.
func NewInventoryLedger(events EventPublisher, ttl time.Duration) *InventoryLedger {
	return &InventoryLedger{
		stock:        make(map[string]*models.StockRecord),
		reservations: make(map[string]*models.Reservation),
		ttl:          ttl,
		now:          time.Now,
		events:       events,
		logger:       util.GetLogger(),
	}
}

// GetStock returns the stock record for a product
func (l *InventoryLedger) GetStock(ctx context.Context, productID string) (*models.StockRecord, error) {
	_, span := util.StartSpan(ctx, "InventoryLedger.GetStock")
	defer span.End()

	l.stockMu.Lock()
	defer l.stockMu.Unlock()

	rec, ok := l.stock[productID]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeInventoryNotFound, "inventory not found for product %s", productID)
	}
	out := *rec
	return &out, nil
}

// ListStock returns all stock records ordered by product id
func (l *InventoryLedger) ListStock(ctx context.Context) []models.StockRecord {
	_, span := util.StartSpan(ctx, "InventoryLedger.ListStock")
	defer span.End()

	l.stockMu.Lock()
	defer l.stockMu.Unlock()

	out := make([]models.StockRecord, 0, len(l.stock))
	for _, rec := range l.stock {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// CreateStock registers a product with an initial quantity
func (l *InventoryLedger) CreateStock(ctx context.Context, productID string, req *CreateStockRequest) (*models.StockRecord, error) {
	_, span := util.StartSpan(ctx, "InventoryLedger.CreateStock")
	defer span.End()

	if productID == "" {
		return nil, apperr.InvalidRequest("product id is required")
	}
	if req.Quantity < 0 {
		return nil, apperr.InvalidRequest("quantity must not be negative")
	}

	l.stockMu.Lock()
	defer l.stockMu.Unlock()

	if _, exists := l.stock[productID]; exists {
		return nil, apperr.New(apperr.KindAlreadyExists, apperr.CodeInventoryAlreadyExists,
			"inventory already exists for product %s", productID)
	}

	now := l.now()
	rec := &models.StockRecord{
		ProductID: productID,
		Quantity:  req.Quantity,
		Location:  req.Location,
		CreatedAt: now,
	}
	rec.Recompute(now)
	l.stock[productID] = rec

	l.logger.Info("Stock record created",
		zap.String("product_id", productID),
		zap.Int("quantity", req.Quantity))

	out := *rec
	return &out, nil
}

// UpdateStock applies the fields present in req. Quantity may not drop below
// what is currently reserved.
func (l *InventoryLedger) UpdateStock(ctx context.Context, productID string, req *UpdateStockRequest) (*models.StockRecord, error) {
	_, span := util.StartSpan(ctx, "InventoryLedger.UpdateStock")
	defer span.End()

	l.stockMu.Lock()
	defer l.stockMu.Unlock()

	rec, ok := l.stock[productID]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeInventoryNotFound, "inventory not found for product %s", productID)
	}

	if req.Quantity != nil {
		if *req.Quantity < 0 {
			return nil, apperr.InvalidRequest("quantity must not be negative")
		}
		if *req.Quantity < rec.Reserved {
			return nil, apperr.New(apperr.KindInvalidRequest, apperr.CodeQuantityBelowReserved,
				"quantity %d is below reserved %d", *req.Quantity, rec.Reserved)
		}
		rec.Quantity = *req.Quantity
	}
	if req.Location != nil {
		rec.Location = *req.Location
	}
	if req.Discontinued != nil {
		rec.Discontinued = *req.Discontinued
	}
	rec.Recompute(l.now())

	out := *rec
	return &out, nil
}

// Reserve atomically reserves every line of items for orderID. Either all
// lines are reserved or none are.
func (l *InventoryLedger) Reserve(ctx context.Context, orderID string, items map[string]int) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if orderID == "" {
		return nil, apperr.InvalidRequest("order id is required")
	}
	if len(items) == 0 {
		return nil, apperr.InvalidRequest("at least one item is required")
	}
	for productID, qty := range items {
		if qty <= 0 {
			return nil, apperr.InvalidRequest("quantity for product %s must be positive", productID)
		}
	}

	res, failures := l.reserve(orderID, items)
	if len(failures) > 0 {
		err := reserveError(failures)
		util.ReservationsFailedTotal.WithLabelValues(err.Code).Inc()
		util.RecordError(span, err)
		l.logger.Warn("Reservation rejected",
			zap.String("order_id", orderID),
			zap.Any("failures", failures))
		return nil, err
	}

	util.ReservationsCreatedTotal.Inc()
	l.logger.Info("Reservation created",
		zap.String("reservation_id", res.ID),
		zap.String("order_id", orderID),
		zap.Int("lines", len(items)))

	l.publish(ctx, models.EventTypeReservationCreated, res)
	return res, nil
}

func (l *InventoryLedger) reserve(orderID string, items map[string]int) (*models.Reservation, []ReserveFailure) {
	l.stockMu.Lock()
	defer l.stockMu.Unlock()

	var failures []ReserveFailure
	for productID, qty := range items {
		rec, ok := l.stock[productID]
		switch {
		case !ok:
			failures = append(failures, ReserveFailure{
				ProductID: productID,
				Requested: qty,
				Reason:    ReserveFailureNotFound,
			})
		case rec.Available < qty:
			failures = append(failures, ReserveFailure{
				ProductID: productID,
				Requested: qty,
				Available: rec.Available,
				Reason:    ReserveFailureInsufficient,
			})
		}
	}
	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].ProductID < failures[j].ProductID })
		return nil, failures
	}

	now := l.now()
	lines := make(map[string]int, len(items))
	for productID, qty := range items {
		rec := l.stock[productID]
		rec.Reserved += qty
		rec.Recompute(now)
		lines[productID] = qty
	}

	res := &models.Reservation{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Items:     lines,
		Status:    models.ReservationStatusPending,
		CreatedAt: now,
	}
	if l.ttl > 0 {
		expiresAt := now.Add(l.ttl)
		res.ExpiresAt = &expiresAt
	}

	l.reservationMu.Lock()
	l.reservations[res.ID] = res
	out := res.Clone()
	l.reservationMu.Unlock()

	return &out, nil
}

func reserveError(failures []ReserveFailure) *apperr.Error {
	for _, f := range failures {
		if f.Reason == ReserveFailureNotFound {
			return apperr.New(apperr.KindInsufficientResource, apperr.CodeProductNotStocked,
				"product %s has no inventory", f.ProductID).WithDetails(failures)
		}
	}
	return apperr.New(apperr.KindInsufficientResource, apperr.CodeInsufficientInventory,
		"insufficient inventory for %d item(s)", len(failures)).WithDetails(failures)
}

// Confirm marks a pending reservation as confirmed. Confirming a confirmed
// reservation is a no-op.
func (l *InventoryLedger) Confirm(ctx context.Context, reservationID string) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Confirm")
	defer span.End()

	l.reservationMu.Lock()
	res, ok := l.reservations[reservationID]
	if !ok {
		l.reservationMu.Unlock()
		return nil, apperr.NotFound(apperr.CodeReservationNotFound, "reservation %s not found", reservationID)
	}

	changed := false
	switch res.Status {
	case models.ReservationStatusConfirmed:
	case models.ReservationStatusPending:
		res.Status = models.ReservationStatusConfirmed
		res.ExpiresAt = nil
		changed = true
	default:
		status := res.Status
		l.reservationMu.Unlock()
		err := apperr.InvalidState(apperr.CodeInvalidReservationState,
			"reservation %s cannot be confirmed: status=%s", reservationID, status)
		util.RecordError(span, err)
		return nil, err
	}
	out := res.Clone()
	l.reservationMu.Unlock()

	if changed {
		util.ReservationsConfirmedTotal.Inc()
		l.logger.Info("Reservation confirmed", zap.String("reservation_id", reservationID))
		l.publish(ctx, models.EventTypeReservationConfirmed, &out)
	}
	return &out, nil
}

// Release returns the reserved quantities of a pending reservation to stock.
// Releasing a released reservation is a no-op and credits nothing.
func (l *InventoryLedger) Release(ctx context.Context, reservationID, reason string) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Release")
	defer span.End()

	if reason == "" {
		reason = models.ReleaseReasonCancelled
	}

	l.stockMu.Lock()
	l.reservationMu.Lock()

	res, ok := l.reservations[reservationID]
	if !ok {
		l.reservationMu.Unlock()
		l.stockMu.Unlock()
		return nil, apperr.NotFound(apperr.CodeReservationNotFound, "reservation %s not found", reservationID)
	}

	changed := false
	switch res.Status {
	case models.ReservationStatusReleased:
	case models.ReservationStatusPending:
		l.releaseLocked(res, reason, l.now())
		changed = true
	default:
		status := res.Status
		l.reservationMu.Unlock()
		l.stockMu.Unlock()
		err := apperr.InvalidState(apperr.CodeInvalidReservationState,
			"reservation %s cannot be released: status=%s", reservationID, status)
		util.RecordError(span, err)
		return nil, err
	}
	out := res.Clone()

	l.reservationMu.Unlock()
	l.stockMu.Unlock()

	if changed {
		util.ReservationsReleasedTotal.WithLabelValues(reason).Inc()
		l.logger.Info("Reservation released",
			zap.String("reservation_id", reservationID),
			zap.String("reason", reason))
		l.publish(ctx, models.EventTypeReservationReleased, &out)
	}
	return &out, nil
}

// ReleaseExpired releases every pending reservation whose expiry is not after now
func (l *InventoryLedger) ReleaseExpired(ctx context.Context, now time.Time) []models.Reservation {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.ReleaseExpired")
	defer span.End()

	l.stockMu.Lock()
	l.reservationMu.Lock()

	var expired []models.Reservation
	for _, res := range l.reservations {
		if res.Status != models.ReservationStatusPending || res.ExpiresAt == nil || res.ExpiresAt.After(now) {
			continue
		}
		l.releaseLocked(res, models.ReleaseReasonExpired, now)
		expired = append(expired, res.Clone())
	}

	l.reservationMu.Unlock()
	l.stockMu.Unlock()

	sort.Slice(expired, func(i, j int) bool { return expired[i].CreatedAt.Before(expired[j].CreatedAt) })
	for i := range expired {
		util.ReservationsReleasedTotal.WithLabelValues(models.ReleaseReasonExpired).Inc()
		l.logger.Info("Reservation expired",
			zap.String("reservation_id", expired[i].ID),
			zap.String("order_id", expired[i].OrderID))
		l.publish(ctx, models.EventTypeReservationExpired, &expired[i])
	}
	return expired
}

// releaseLocked credits the reserved lines back. Caller holds both locks.
func (l *InventoryLedger) releaseLocked(res *models.Reservation, reason string, now time.Time) {
	for productID, qty := range res.Items {
		if rec, ok := l.stock[productID]; ok {
			rec.Reserved -= qty
			rec.Recompute(now)
		}
	}
	res.Status = models.ReservationStatusReleased
	res.ReleaseReason = reason
	res.ReleasedAt = &now
	res.ExpiresAt = nil
}

// GetReservation returns a reservation by id
func (l *InventoryLedger) GetReservation(ctx context.Context, reservationID string) (*models.Reservation, error) {
	_, span := util.StartSpan(ctx, "InventoryLedger.GetReservation")
	defer span.End()

	l.reservationMu.Lock()
	defer l.reservationMu.Unlock()

	res, ok := l.reservations[reservationID]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeReservationNotFound, "reservation %s not found", reservationID)
	}
	out := res.Clone()
	return &out, nil
}

// ListReservations returns reservations, optionally filtered by order, oldest first
func (l *InventoryLedger) ListReservations(ctx context.Context, orderID string) []models.Reservation {
	_, span := util.StartSpan(ctx, "InventoryLedger.ListReservations")
	defer span.End()

	l.reservationMu.Lock()
	defer l.reservationMu.Unlock()

	out := make([]models.Reservation, 0)
	for _, res := range l.reservations {
		if orderID != "" && res.OrderID != orderID {
			continue
		}
		out = append(out, res.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (l *InventoryLedger) publish(ctx context.Context, eventType string, res *models.Reservation) {
	if l.events == nil {
		return
	}
	event := &models.ReservationEvent{
		BaseEvent:     models.NewBaseEvent(eventType),
		ReservationID: res.ID,
		OrderID:       res.OrderID,
		Items:         res.Items,
		Reason:        res.ReleaseReason,
	}
	if err := l.events.Publish(ctx, res.OrderID, event); err != nil {
		l.logger.Error("Failed to publish reservation event",
			zap.String("event_type", eventType),
			zap.String("reservation_id", res.ID),
			zap.Error(err))
	}
}
