package handler

import (
	"net/http"

	"flavorfleet/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AdminHandler struct {
	notifications *service.NotificationService
	orders        *service.OrderService
	log           *zap.Logger
}

func NewAdminHandler(notifications *service.NotificationService, orders *service.OrderService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{notifications: notifications, orders: orders, log: log}
}

// CreateCampaign handles POST /api/admin/notifications. Without scheduleDate it is sent at once.
func (h *AdminHandler) CreateCampaign(c *gin.Context) {
	var req service.CampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sn, err := h.notifications.CreateCampaign(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err, "could not create notification")
		return
	}
	c.JSON(http.StatusCreated, sn)
}

func (h *AdminHandler) History(c *gin.Context) {
	list, err := h.notifications.GetHistory(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err, "list failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

// UpdateOrderStatus handles PUT /api/admin/orders/:id with body {"status": "Shipped"}.
func (h *AdminHandler) UpdateOrderStatus(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := h.orders.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, h.log, err, "could not update order")
		return
	}
	c.JSON(http.StatusOK, o)
}
