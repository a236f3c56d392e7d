package api

import (
	"net/http"

	"techstore/internal/cart"
	"techstore/internal/service"

	"github.com/gin-gonic/gin"
)

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type promoRequest struct {
	Code string `json:"code"`
}

func (h *Handler) respondCart(c *gin.Context, snap cart.Snapshot, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, snap)
}

func (h *Handler) getCart(c *gin.Context) {
	snap, err := h.carts.Get(c.Request.Context(), currentViewer(c).UserID)
	h.respondCart(c, snap, err)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req cartItemRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	snap, err := h.carts.AddItem(c.Request.Context(), currentViewer(c).UserID, req.ProductID, req.Quantity)
	h.respondCart(c, snap, err)
}

func (h *Handler) setCartItem(c *gin.Context) {
	var req cartItemRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	snap, err := h.carts.SetQuantity(c.Request.Context(), currentViewer(c).UserID, c.Param("productId"), req.Quantity)
	h.respondCart(c, snap, err)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	snap, err := h.carts.RemoveItem(c.Request.Context(), currentViewer(c).UserID, c.Param("productId"))
	h.respondCart(c, snap, err)
}

func (h *Handler) clearCart(c *gin.Context) {
	snap, err := h.carts.Clear(c.Request.Context(), currentViewer(c).UserID)
	h.respondCart(c, snap, err)
}

func (h *Handler) applyPromo(c *gin.Context) {
	var req promoRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	snap, err := h.carts.ApplyPromo(c.Request.Context(), currentViewer(c).UserID, req.Code)
	h.respondCart(c, snap, err)
}

func (h *Handler) removePromo(c *gin.Context) {
	snap, err := h.carts.RemovePromo(c.Request.Context(), currentViewer(c).UserID)
	h.respondCart(c, snap, err)
}

func (h *Handler) checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	order, err := h.carts.Checkout(c.Request.Context(), currentViewer(c).UserID, &req, c.GetHeader(idempotencyHeader))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondMessage(c, http.StatusCreated, "order created", order)
}
