package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"clubsite/internal/services"
	"clubsite/models"
	"clubsite/utils"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type AdminHandler struct {
	reports *services.ReportService
	shop    *services.ShopService
	redis   redis.Cmdable
}

func NewAdminHandler(reports *services.ReportService, shop *services.ShopService, redis redis.Cmdable) *AdminHandler {
	return &AdminHandler{
		reports: reports,
		shop:    shop,
		redis:   redis,
	}
}

// EventReport - sales, door and revenue figures of one event
func (h *AdminHandler) EventReport(e *core.RequestEvent) error {
	r, err := h.reports.EventReport(e.Request.Context(), e.Request.PathValue("eventId"), actor(e))
	if err != nil {
		return apiError("reports.EventReport()", err)
	}
	return e.JSON(http.StatusOK, r)
}

// OrdersReport - storefront orders by status
func (h *AdminHandler) OrdersReport(e *core.RequestEvent) error {
	r, err := h.reports.OrdersReport(e.Request.Context(), actor(e))
	if err != nil {
		return apiError("reports.OrdersReport()", err)
	}
	return e.JSON(http.StatusOK, r)
}

type OrderStatusReq struct {
	Status string `json:"status" validate:"required"`
}

// UpdateOrderStatus - move an order along its lifecycle
func (h *AdminHandler) UpdateOrderStatus(e *core.RequestEvent) error {
	a := actor(e)
	if a == nil {
		return apis.NewUnauthorizedError("Admin access required", nil)
	}
	var req OrderStatusReq
	if err := bind(e, &req); err != nil {
		return err
	}

	o, err := h.shop.AdvanceOrder(e.Request.Context(), e.Request.PathValue("orderId"), models.OrderStatus(req.Status), a)
	if err != nil {
		return apiError("shop.AdvanceOrder()", err)
	}
	return e.JSON(http.StatusOK, o)
}

// Health - liveness plus a Redis ping
func (h *AdminHandler) Health(e *core.RequestEvent) error {
	redisStatus := "ok"
	if err := utils.RedisHealthCheck(e.Request.Context(), h.redis); err != nil {
		slog.Warn("utils.RedisHealthCheck()", "error", err)
		redisStatus = "unavailable"
	}
	code := http.StatusOK
	if redisStatus != "ok" {
		code = http.StatusServiceUnavailable
	}
	return e.JSON(code, map[string]any{
		"status":    "ok",
		"redis":     redisStatus,
		"timestamp": time.Now().UTC(),
	})
}
