package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func newTestEcho(mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.POST("/submit", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, mw...)
	return e
}

func post(e *echo.Echo, body string) int {
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:1234"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()
	e := newTestEcho(NewRateLimiter(1))

	// burst of two
	assert.Equal(t, http.StatusNoContent, post(e, ""))
	assert.Equal(t, http.StatusNoContent, post(e, ""))
	assert.Equal(t, http.StatusTooManyRequests, post(e, ""))
}

func TestRateLimiterDisabled(t *testing.T) {
	t.Parallel()
	e := newTestEcho(NewRateLimiter(0))
	for range 10 {
		assert.Equal(t, http.StatusNoContent, post(e, ""))
	}
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()
	e := newTestEcho(NewBodyLimit("1K"))
	assert.Equal(t, http.StatusNoContent, post(e, "small"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, post(e, strings.Repeat("x", 2048)))
}
