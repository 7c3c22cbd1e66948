package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/samgo/internal/config"
)

func newAuth(t *testing.T) *Authenticator {
	t.Helper()
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	return New(&config.AuthConfig{Enabled: true, Username: "admin", PasswordHash: hash, Tokens: []string{"tok-1", ""}})
}

func TestAuthenticate(t *testing.T) {
	a := newAuth(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := a.Authenticate(req)
	assert.ErrorIs(t, err, ErrNoCredentials)

	req.Header.Set("Authorization", "Bearer tok-1")
	res, err := a.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, MethodToken, res.Method)

	req.Header.Set("Authorization", "Bearer nope")
	_, err = a.Authenticate(req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("admin", "s3cret")
	res, err = a.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, Result{Success: true, Method: MethodBasic, Username: "admin"}, res)

	req.SetBasicAuth("admin", "wrong")
	_, err = a.Authenticate(req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	req.SetBasicAuth("root", "s3cret")
	_, err = a.Authenticate(req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestDisabledLetsEverythingThrough(t *testing.T) {
	for _, a := range []*Authenticator{New(nil), New(&config.AuthConfig{Tokens: []string{"x"}})} {
		assert.False(t, a.Enabled())
		res, err := a.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		assert.True(t, res.Success)
	}
}

func TestGinAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newAuth(t)
	g := gin.New()
	g.Use(a.GinAuth())
	g.GET("/status", func(c *gin.Context) {
		v, _ := c.Get(ResultKey)
		c.JSON(http.StatusOK, v)
	})

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "bearer tok-1")
	g.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"method":"bearer"`)
}
