package api

import (
	"strings"

	"techstore/internal/apperr"
	"techstore/internal/auth"
	"techstore/internal/service"

	"github.com/gin-gonic/gin"
)

const claimsKey = "auth_claims"

// authenticate requires a valid bearer token and stores its claims on the context.
func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			token = ""
		}

		claims, err := h.tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// requireRole lets through only callers holding one of roles. It must run
// after authenticate.
func (h *Handler) requireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := currentClaims(c)
		if claims == nil {
			h.respondError(c, apperr.Unauthorized("access token required"))
			return
		}
		if !auth.HasRole(claims.Role, roles...) {
			h.respondError(c, apperr.Forbidden("insufficient permissions"))
			return
		}
		c.Next()
	}
}

func currentClaims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

func currentViewer(c *gin.Context) service.Viewer {
	claims := currentClaims(c)
	if claims == nil {
		return service.Viewer{}
	}
	return service.Viewer{UserID: claims.UserID, Role: claims.Role}
}
