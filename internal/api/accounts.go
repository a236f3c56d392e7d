package api

import (
	"net/http"

	"techstore/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) register(c *gin.Context) {
	var req service.RegisterRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	session, err := h.auth.Register(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondMessage(c, http.StatusCreated, "user registered", session)
}

func (h *Handler) login(c *gin.Context) {
	var req service.LoginRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	session, err := h.auth.Login(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "login successful", session)
}

func (h *Handler) getProfile(c *gin.Context) {
	user, err := h.auth.Profile(c.Request.Context(), currentViewer(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, user.Public())
}

func (h *Handler) updateProfile(c *gin.Context) {
	var req service.UpdateProfileRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	user, err := h.auth.UpdateProfile(c.Request.Context(), currentViewer(c).UserID, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "profile updated", user.Public())
}
