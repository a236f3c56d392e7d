package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := map[string]struct {
		err  error
		want int
	}{
		"validation":         {err: Validation("bad field"), want: http.StatusBadRequest},
		"unauthorized":       {err: Unauthorized("no token"), want: http.StatusUnauthorized},
		"forbidden":          {err: Forbidden("not yours"), want: http.StatusForbidden},
		"not found":          {err: NotFound("order %s not found", "o1"), want: http.StatusNotFound},
		"conflict":           {err: Conflict("email taken"), want: http.StatusConflict},
		"insufficient stock": {err: InsufficientStock("only 1 left"), want: http.StatusBadRequest},
		"invalid transition": {err: InvalidTransition("shipped"), want: http.StatusBadRequest},
		"wrapped sentinel":   {err: fmt.Errorf("failed to load: %w", ErrNotFound), want: http.StatusNotFound},
		"wrapped app error":  {err: fmt.Errorf("create order: %w", Forbidden("nope")), want: http.StatusForbidden},
		"unknown":            {err: errors.New("connection reset"), want: http.StatusInternalServerError},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "order o1 not found", PublicMessage(fmt.Errorf("get: %w", NotFound("order %s not found", "o1"))))
	assert.Equal(t, "internal server error", PublicMessage(errors.New("dial tcp: refused")))
	assert.Equal(t, "failed: not found", PublicMessage(fmt.Errorf("failed: %w", ErrNotFound)))
}
