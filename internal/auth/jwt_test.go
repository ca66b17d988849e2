package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/loqalabs/loqa-oralhistory/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIssuer(t *testing.T, guarded bool) *Issuer {
	t.Helper()
	i, err := NewIssuer(config.AuthConfig{JWTSecret: "test-secret", TokenTTLMinutes: 60, RequireToken: guarded})
	require.NoError(t, err)
	return i
}

func TestIssueAndValidate(t *testing.T) {
	i := newIssuer(t, false)
	token, err := i.Issue("joao", "editor", "João Silva")
	require.NoError(t, err)

	claims, err := i.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "joao", claims.Username)
	assert.Equal(t, "editor", claims.Role)
	assert.Equal(t, "João Silva", claims.Name)
}

func TestValidateRejectsExpiredAndForeignTokens(t *testing.T) {
	i := newIssuer(t, false)
	i.clock = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := i.Issue("joao", "editor", "")
	require.NoError(t, err)
	i.clock = time.Now
	_, err = i.Validate(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewIssuer(config.AuthConfig{JWTSecret: "other"})
	require.NoError(t, err)
	foreign, err := other.Issue("joao", "admin", "")
	require.NoError(t, err)
	_, err = i.Validate(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = i.Validate("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRandomSecretWhenUnset(t *testing.T) {
	a, err := NewIssuer(config.AuthConfig{})
	require.NoError(t, err)
	b, err := NewIssuer(config.AuthConfig{})
	require.NoError(t, err)
	token, err := a.Issue("x", "admin", "")
	require.NoError(t, err)
	_, err = b.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func serve(t *testing.T, i *Issuer, adminOnly bool, header string) int {
	t.Helper()
	e := echo.New()
	e.GET("/guarded", func(c echo.Context) error {
		if i.Required() {
			if _, ok := FromContext(c); !ok {
				t.Error("claims missing from context")
			}
		}
		return c.NoContent(http.StatusOK)
	}, i.Middleware(adminOnly))

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func TestMiddleware(t *testing.T) {
	open := newIssuer(t, false)
	assert.Equal(t, http.StatusOK, serve(t, open, true, ""))

	guarded := newIssuer(t, true)
	admin, err := guarded.Issue("admin", RoleAdmin, "Administrador")
	require.NoError(t, err)
	editor, err := guarded.Issue("joao", "editor", "João")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, serve(t, guarded, false, ""))
	assert.Equal(t, http.StatusUnauthorized, serve(t, guarded, false, "Bearer nope"))
	assert.Equal(t, http.StatusOK, serve(t, guarded, false, "Bearer "+editor))
	assert.Equal(t, http.StatusForbidden, serve(t, guarded, true, "Bearer "+editor))
	assert.Equal(t, http.StatusOK, serve(t, guarded, true, "bearer "+admin))
}
