package api

import (
	"net/http"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/service"

	"github.com/gin-gonic/gin"
)

// OrderHandler exposes the order orchestrator
type OrderHandler struct {
	orders *service.OrderService
	saga   *service.SagaOrchestrator
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orders *service.OrderService, saga *service.SagaOrchestrator) *OrderHandler {
	return &OrderHandler{orders: orders, saga: saga}
}

type updateStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

// RegisterRoutes mounts the order routes
func (h *OrderHandler) RegisterRoutes(r gin.IRouter) {
	o := r.Group("/orders")
	{
		o.POST("", h.createOrder)
		o.GET("/compensations", h.listCompensations)
		o.GET("/user/:userId", h.getOrdersByUser)
		o.GET("/:id", h.getOrder)
		o.PUT("/:id/status", h.updateStatus)
		o.POST("/:id/payment", h.processPayment)
	}
}

// createOrder handles order creation
func (h *OrderHandler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		// an unknown product is a bad request, not a missing order
		if apperr.Is(err, apperr.KindNotFound) {
			respondErrorStatus(c, http.StatusBadRequest, err)
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

func (h *OrderHandler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) getOrdersByUser(c *gin.Context) {
	orders, err := h.orders.GetOrdersByUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *OrderHandler) updateStatus(c *gin.Context) {
	var req updateStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) processPayment(c *gin.Context) {
	order, err := h.orders.ProcessPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// listCompensations shows the reservation confirms and releases still owed to inventory
func (h *OrderHandler) listCompensations(c *gin.Context) {
	actions, err := h.saga.PendingActions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, actions)
}
