package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pawchat/pkg/logger"
)

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestIDMiddleware(), LoggingMiddleware(logger.Nop()), ErrorHandler(logger.Nop()))
	return engine
}

func TestRequestIDIsAssignedAndPropagated(t *testing.T) {
	engine := newEngine()
	var seen string
	engine.GET("/x", func(c *gin.Context) {
		seen, _ = c.Request.Context().Value(logger.RequestIdKey).(string)
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Len(t, seen, 32)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	engine := newEngine()
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}

func TestErrorHandlerRendersEnvelope(t *testing.T) {
	engine := newEngine()
	engine.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
	})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"boom","code":"INTERNAL_ERROR"}`, rec.Body.String())
}
