package api

import (
	"net/http"
	"strings"
	"time"

	"techstore/internal/apperr"
	"techstore/internal/models"
	"techstore/internal/service"

	"github.com/gin-gonic/gin"
)

const idempotencyHeader = "Idempotency-Key"

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}

	viewer := currentViewer(c)
	order, err := h.orders.CreateOrder(c.Request.Context(), viewer.UserID, &req, c.GetHeader(idempotencyHeader))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondMessage(c, http.StatusCreated, "order created", order)
}

func (h *Handler) myOrders(c *gin.Context) {
	orders, err := h.orders.ListMyOrders(c.Request.Context(), currentViewer(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondList(c, orders, listMeta{Count: len(orders), Total: int64(len(orders))})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"), currentViewer(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	order, err := h.orders.Cancel(c.Request.Context(), c.Param("id"), currentViewer(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "order cancelled", order)
}

func (h *Handler) listOrders(c *gin.Context) {
	page, err := intQuery(c, "page")
	if err != nil {
		h.respondError(c, err)
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		h.respondError(c, err)
		return
	}

	result, err := h.orders.ListOrders(c.Request.Context(), service.OrderQuery{
		Status: c.Query("status"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondList(c, result.Orders, listMeta{
		Count: len(result.Orders),
		Total: result.Total,
		Page:  result.Page,
		Pages: result.Pages,
	})
}

type statusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		h.respondError(c, apperr.Validation("status is required"))
		return
	}

	claims := currentClaims(c)
	note := req.Note
	if strings.TrimSpace(note) == "" {
		note = "Status changed by " + claims.Email
	}

	order, err := h.orders.ChangeStatus(c.Request.Context(), c.Param("id"), models.OrderStatus(req.Status), note, claims.Email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "order status updated", order)
}

func (h *Handler) orderStats(c *gin.Context) {
	from, err := dateQuery(c, "dateFrom", false)
	if err != nil {
		h.respondError(c, err)
		return
	}
	to, err := dateQuery(c, "dateTo", true)
	if err != nil {
		h.respondError(c, err)
		return
	}

	stats, err := h.orders.Stats(c.Request.Context(), from, to)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, stats)
}

// dateQuery parses a YYYY-MM-DD or RFC 3339 query value. A bare date used
// as an upper bound covers the whole day.
func dateQuery(c *gin.Context, name string, upper bool) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, apperr.Validation("%s must be a date (YYYY-MM-DD)", name)
	}
	if upper {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}
