package api

import (
	"net/http"

	"order-fulfillment/internal/service"

	"github.com/gin-gonic/gin"
)

// InventoryHandler exposes the inventory ledger
type InventoryHandler struct {
	ledger *service.InventoryLedger
}

// NewInventoryHandler creates a new inventory handler
func NewInventoryHandler(ledger *service.InventoryLedger) *InventoryHandler {
	return &InventoryHandler{ledger: ledger}
}

type reserveRequest struct {
	OrderID string         `json:"orderId" binding:"required"`
	Items   map[string]int `json:"items"`
}

type releaseRequest struct {
	Reason string `json:"reason"`
}

// RegisterRoutes mounts the inventory routes
func (h *InventoryHandler) RegisterRoutes(r gin.IRouter) {
	inv := r.Group("/inventory")
	{
		inv.GET("", h.listStock)
		inv.POST("/reserve", h.reserve)
		inv.GET("/reservations", h.listReservations)
		inv.GET("/reservation/:id", h.getReservation)
		inv.POST("/reservation/:id/confirm", h.confirm)
		inv.POST("/reservation/:id/release", h.release)
		inv.GET("/:productId", h.getStock)
		inv.POST("/:productId", h.createStock)
		inv.PUT("/:productId", h.updateStock)
	}
}

func (h *InventoryHandler) listStock(c *gin.Context) {
	c.JSON(http.StatusOK, h.ledger.ListStock(c.Request.Context()))
}

func (h *InventoryHandler) getStock(c *gin.Context) {
	rec, err := h.ledger.GetStock(c.Request.Context(), c.Param("productId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *InventoryHandler) createStock(c *gin.Context) {
	var req service.CreateStockRequest
	if !bindJSON(c, &req) {
		return
	}

	rec, err := h.ledger.CreateStock(c.Request.Context(), c.Param("productId"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *InventoryHandler) updateStock(c *gin.Context) {
	var req service.UpdateStockRequest
	if !bindJSON(c, &req) {
		return
	}

	rec, err := h.ledger.UpdateStock(c.Request.Context(), c.Param("productId"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *InventoryHandler) reserve(c *gin.Context) {
	var req reserveRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.ledger.Reserve(c.Request.Context(), req.OrderID, req.Items)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *InventoryHandler) confirm(c *gin.Context) {
	res, err := h.ledger.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *InventoryHandler) release(c *gin.Context) {
	var req releaseRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	res, err := h.ledger.Release(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *InventoryHandler) getReservation(c *gin.Context) {
	res, err := h.ledger.GetReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *InventoryHandler) listReservations(c *gin.Context) {
	c.JSON(http.StatusOK, h.ledger.ListReservations(c.Request.Context(), c.Query("orderId")))
}
