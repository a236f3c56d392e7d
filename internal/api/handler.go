package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"techstore/internal/auth"
	"techstore/internal/models"
	"techstore/internal/ratelimit"
	"techstore/internal/service"
	"techstore/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	Catalog *service.CatalogService
	Orders  *service.OrderService
	Auth    *service.AuthService
	Carts   *service.CartService
	Tokens  *auth.TokenManager

	// GeneralLimiter guards every /api route; AuthLimiter additionally
	// guards register and login.
	GeneralLimiter ratelimit.Limiter
	AuthLimiter    ratelimit.Limiter

	// Checks are pinged by the health and readiness endpoints.
	Checks map[string]Pinger

	// TrustedProxies may set X-Forwarded-For. Empty trusts no proxy, so
	// limiters key on the connection address.
	TrustedProxies []string

	Env     string
	Version string
}

// Handler contains HTTP handlers
type Handler struct {
	catalog    *service.CatalogService
	orders     *service.OrderService
	auth       *service.AuthService
	carts      *service.CartService
	tokens     *auth.TokenManager
	general    ratelimit.Limiter
	authLimit  ratelimit.Limiter
	checks     map[string]Pinger
	proxies    []string
	env        string
	version    string
	production bool
	started    time.Time
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		catalog:    deps.Catalog,
		orders:     deps.Orders,
		auth:       deps.Auth,
		carts:      deps.Carts,
		tokens:     deps.Tokens,
		general:    deps.GeneralLimiter,
		authLimit:  deps.AuthLimiter,
		checks:     deps.Checks,
		proxies:    deps.TrustedProxies,
		env:        deps.Env,
		version:    deps.Version,
		production: deps.Env == "production",
		started:    time.Now(),
		logger:     util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	if err := router.SetTrustedProxies(h.proxies); err != nil {
		h.logger.Error("Invalid trusted proxies, trusting none", zap.Strings("proxies", h.proxies), zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}

	router.Use(h.recovery())
	router.Use(requestID())
	router.Use(h.accessLog())
	router.Use(prometheusMiddleware())
	router.Use(h.securityHeaders())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.NoRoute(h.notFound)

	api := router.Group("/api")
	if h.general != nil {
		api.Use(h.rateLimit(h.general, "general"))
	}

	api.GET("/health", h.healthCheck)
	api.GET("/ready", h.readinessCheck)

	authed := h.authenticate()
	admin := h.requireRole(models.RoleAdmin)

	accounts := api.Group("/auth")
	{
		signIn := accounts.Group("")
		if h.authLimit != nil {
			signIn.Use(h.rateLimit(h.authLimit, "auth"))
		}
		signIn.POST("/register", h.register)
		signIn.POST("/login", h.login)
		accounts.GET("/profile", authed, h.getProfile)
		accounts.PUT("/profile", authed, h.updateProfile)
	}

	products := api.Group("/products")
	{
		products.GET("", h.listProducts)
		products.GET("/featured", h.featuredProducts)
		products.GET("/destacados", h.destacados)
		products.GET("/categories", h.categories)
		products.GET("/search", h.searchProducts)
		products.GET("/:id", h.getProduct)
		products.POST("", authed, admin, h.createProduct)
		products.PUT("/:id", authed, admin, h.updateProduct)
		products.DELETE("/:id", authed, admin, h.deleteProduct)
	}

	orders := api.Group("/orders", authed)
	{
		orders.POST("", h.createOrder)
		orders.GET("/my-orders", h.myOrders)
		orders.GET("/stats", admin, h.orderStats)
		orders.GET("/:id", h.getOrder)
		orders.POST("/cancel/:id", h.cancelOrder)
		orders.GET("", admin, h.listOrders)
		orders.PUT("/:id/status", admin, h.updateOrderStatus)
	}

	carts := api.Group("/cart", authed)
	{
		carts.GET("", h.getCart)
		carts.DELETE("", h.clearCart)
		carts.POST("/items", h.addCartItem)
		carts.PUT("/items/:productId", h.setCartItem)
		carts.DELETE("/items/:productId", h.removeCartItem)
		carts.POST("/promo", h.applyPromo)
		carts.DELETE("/promo", h.removePromo)
		carts.POST("/checkout", h.checkout)
	}
}

func (h *Handler) notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, envelope{
		Success:   false,
		Error:     fmt.Sprintf("route %s %s not found", c.Request.Method, c.Request.URL.Path),
		Path:      c.Request.URL.Path,
		Method:    c.Request.Method,
		Timestamp: timestamp(),
	})
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	uptime := time.Since(h.started)
	seconds := int64(uptime.Seconds())

	respond(c, http.StatusOK, gin.H{
		"service":  "TechStore Pro API",
		"version":  h.version,
		"env":      h.env,
		"services": h.ping(c.Request.Context()),
		"memory": gin.H{
			"used":  fmt.Sprintf("%.2f MB", float64(mem.HeapAlloc)/1024/1024),
			"total": fmt.Sprintf("%.2f MB", float64(mem.HeapSys)/1024/1024),
		},
		"uptime": gin.H{
			"seconds":   seconds,
			"formatted": fmt.Sprintf("%dm %ds", seconds/60, seconds%60),
		},
	})
}

// readinessCheck answers 503 while any backing service is unreachable.
func (h *Handler) readinessCheck(c *gin.Context) {
	statuses := h.ping(c.Request.Context())
	for _, st := range statuses {
		if st != "connected" {
			c.JSON(http.StatusServiceUnavailable, envelope{
				Success:   false,
				Error:     "service not ready",
				Data:      statuses,
				Timestamp: timestamp(),
			})
			return
		}
	}
	respond(c, http.StatusOK, statuses)
}

func (h *Handler) ping(ctx context.Context) map[string]string {
	out := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check.Ping(pctx)
		cancel()
		if err != nil {
			h.logger.Warn("Health check failed", zap.String("service", name), zap.Error(err))
			out[name] = "disconnected"
			continue
		}
		out[name] = "connected"
	}
	return out
}
