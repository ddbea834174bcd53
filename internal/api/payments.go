package api

import (
	"net/http"

	"order-fulfillment/internal/service"

	"github.com/gin-gonic/gin"
)

// PaymentHandler exposes the payment processor
type PaymentHandler struct {
	payments *service.PaymentService
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// RegisterRoutes mounts the payment routes
func (h *PaymentHandler) RegisterRoutes(r gin.IRouter) {
	p := r.Group("/payments")
	{
		p.POST("", h.createPayment)
		p.GET("/order/:orderId", h.getPaymentsByOrder)
		p.GET("/:id", h.getPayment)
		p.POST("/:id/refund", h.refundPayment)
	}
}

func (h *PaymentHandler) createPayment(c *gin.Context) {
	var req service.CreatePaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	payment, err := h.payments.CreatePayment(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func (h *PaymentHandler) getPayment(c *gin.Context) {
	payment, err := h.payments.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) getPaymentsByOrder(c *gin.Context) {
	c.JSON(http.StatusOK, h.payments.GetPaymentsByOrder(c.Request.Context(), c.Param("orderId")))
}

func (h *PaymentHandler) refundPayment(c *gin.Context) {
	var req service.RefundRequest
	if !bindJSON(c, &req) {
		return
	}

	payment, err := h.payments.RefundPayment(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}
