package log

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestRouter(buf *bytes.Buffer, level string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(NewWithWriter(Config{Level: level}, buf), "/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/work", func(c *gin.Context) {
		l := Ctx(c.Request.Context())
		l.Info().Msg("inside handler")
		c.Status(http.StatusOK)
	})
	return r
}

func TestGinMiddlewarePropagatesRequestID(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRouter(&buf, "info")

	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	req.Header.Set(headerRequestID, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-1", w.Header().Get(headerRequestID))
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
	assert.Contains(t, buf.String(), "inside handler")
	assert.Contains(t, buf.String(), "request completed")
}

func TestGinMiddlewareGeneratesRequestID(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRouter(&buf, "info")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/work", nil))

	assert.NotEmpty(t, w.Header().Get(headerRequestID))
}

func TestGinMiddlewareQuietPaths(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRouter(&buf, "info")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, buf.String(), "request completed")
}
