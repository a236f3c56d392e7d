package auth

import (
	"testing"
	"time"

	"techstore/internal/apperr"
	"techstore/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUser() *models.User {
	return &models.User{ID: "u-1", Email: "ana@example.com", Role: models.RoleCustomer}
}

func TestTokenRoundTrip(t *testing.T) {
	m, err := NewTokenManager("secret", time.Hour)
	require.NoError(t, err)

	token, exp, err := m.Issue(testUser())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, models.RoleCustomer, claims.Role)
}

func TestTokenRejected(t *testing.T) {
	m, err := NewTokenManager("secret", time.Hour)
	require.NoError(t, err)
	token, _, err := m.Issue(testUser())
	require.NoError(t, err)

	other, err := NewTokenManager("other-secret", time.Hour)
	require.NoError(t, err)

	expired, err := NewTokenManager("secret", time.Minute)
	require.NoError(t, err)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	oldToken, _, err := expired.Issue(testUser())
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]struct {
		mgr   *TokenManager
		token string
		msg   string
	}{
		"missing":      {mgr: m, token: "", msg: "access token required"},
		"garbage":      {mgr: m, token: "not-a-jwt", msg: "invalid token"},
		"wrong secret": {mgr: other, token: token, msg: "invalid token"},
		"expired":      {mgr: m, token: oldToken, msg: "token expired"},
		"alg none":     {mgr: m, token: unsigned, msg: "invalid token"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := tt.mgr.Parse(tt.token)
			assert.ErrorIs(t, err, apperr.ErrUnauthorized)
			assert.Equal(t, tt.msg, apperr.PublicMessage(err))
		})
	}
}

func TestNewTokenManagerValidation(t *testing.T) {
	_, err := NewTokenManager("", time.Hour)
	assert.Error(t, err)
	_, err = NewTokenManager("s", 0)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	ok, err := CheckPassword(hash, "hunter22")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CheckPassword(hash, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = CheckPassword("not-a-hash", "x")
	assert.Error(t, err)
}

func TestHasRole(t *testing.T) {
	assert.True(t, HasRole(models.RoleAdmin, models.RoleAdmin))
	assert.True(t, HasRole(models.RoleCustomer, models.RoleAdmin, models.RoleCustomer))
	assert.False(t, HasRole(models.RoleCustomer, models.RoleAdmin))
	assert.False(t, HasRole("", models.RoleAdmin))
}
