package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"techstore/config"

	"github.com/stretchr/testify/assert"
)

func TestOriginAllowed(t *testing.T) {
	origins := []string{"https://techstore-pro.vercel.app/"}

	dev := originAllowed(config.ServerConfig{Env: "development", CORSAllowOrigins: origins})
	assert.True(t, dev("https://techstore-pro.vercel.app"))
	assert.True(t, dev("http://localhost:5500"))
	assert.True(t, dev("http://127.0.0.1:8080"))
	assert.False(t, dev("https://evil.example.com"))

	prod := originAllowed(config.ServerConfig{Env: "production", CORSAllowOrigins: origins})
	assert.True(t, prod("https://techstore-pro.vercel.app"))
	assert.False(t, prod("http://localhost:5500"))
}

func TestWithCORSPreflight(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Total-Count", "3")
	})
	h := withCORS(config.ServerConfig{Env: "production", CORSAllowOrigins: []string{"https://www.techstore-pro.com"}}, next)

	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set("Origin", "https://www.techstore-pro.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization,content-type")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://www.techstore-pro.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.Header.Set("Origin", "https://www.techstore-pro.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-Total-Count")
}
