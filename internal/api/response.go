package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"techstore/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// envelope is the body of every API response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	*listMeta
	Error     string   `json:"error,omitempty"`
	Path      string   `json:"path,omitempty"`
	Method    string   `json:"method,omitempty"`
	ErrorID   string   `json:"errorId,omitempty"`
	Details   []string `json:"details,omitempty"`
	Stack     string   `json:"stack,omitempty"`
	Timestamp string   `json:"timestamp"`
}

type listMeta struct {
	Count int   `json:"count"`
	Total int64 `json:"total"`
	Page  int   `json:"page,omitempty"`
	Pages int   `json:"pages,omitempty"`
}

func timestamp() string {
	return time.Now().UTC().Format(timestampLayout)
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data, Timestamp: timestamp()})
}

func respondMessage(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{Success: true, Message: message, Data: data, Timestamp: timestamp()})
}

func respondList(c *gin.Context, data any, meta listMeta) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data, listMeta: &meta, Timestamp: timestamp()})
}

// respondError translates err into the error envelope and aborts the chain.
// Internal errors are logged in full and shown generically.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	body := envelope{
		Success:   false,
		Error:     apperr.PublicMessage(err),
		Path:      c.Request.URL.Path,
		Method:    c.Request.Method,
		Timestamp: timestamp(),
	}

	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", fields...)
	} else {
		h.logger.Debug("Request rejected", fields...)
	}

	if h.production {
		body.ErrorID = newErrorID()
	} else {
		body.Details = errorChain(err)
	}

	c.AbortWithStatusJSON(status, body)
}

// newErrorID returns a support reference of the form TS-<unixmillis>-<random>.
func newErrorID() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("TS-%d-%s", time.Now().UnixMilli(), random)
}

func errorChain(err error) []string {
	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, e.Error())
	}
	return chain
}

// bindJSON decodes the request body into dst, reporting malformed bodies
// as validation errors.
func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}
