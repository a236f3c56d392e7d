package main

import (
	"net/http"
	"strings"

	"techstore/config"
	"techstore/internal/util"

	"github.com/rs/cors"
	"go.uber.org/zap"
)

// originAllowed accepts the configured origins, plus any local dev origin
// outside production.
func originAllowed(server config.ServerConfig) func(origin string) bool {
	allowed := make(map[string]bool, len(server.CORSAllowOrigins))
	for _, o := range server.CORSAllowOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(origin string) bool {
		if allowed[origin] {
			return true
		}
		if !server.Production() &&
			(strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1")) {
			return true
		}
		util.GetLogger().Warn("CORS origin rejected", zap.String("origin", origin))
		return false
	}
}

func withCORS(server config.ServerConfig, next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowOriginFunc: originAllowed(server),
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodDelete, http.MethodPatch, http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Content-Type", "Authorization", "X-Requested-With", "Accept",
			"Idempotency-Key", "X-Request-Id",
		},
		ExposedHeaders: []string{
			"X-Total-Count", "X-Page-Count", "X-Request-Id",
			"RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset",
		},
		AllowCredentials:     true,
		MaxAge:               86400,
		OptionsSuccessStatus: http.StatusOK,
	}).Handler(next)
}
