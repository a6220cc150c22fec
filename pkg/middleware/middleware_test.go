package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytindexer/internal/logger"
	apperrors "ytindexer/pkg/errors"
	"ytindexer/pkg/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter() *gin.Engine {
	router := gin.New()
	router.Use(RecoveryMiddleware(logger.NopLogger()))
	router.Use(LoggerMiddleware(logger.NopLogger()))
	router.Use(RequestIDMiddleware())
	router.GET("/echo", func(c *gin.Context) {
		c.String(http.StatusOK, logging.GetRequestID(c.Request.Context()))
	})
	router.GET("/panic", func(c *gin.Context) {
		panic("nil map write")
	})
	return router
}

func TestRequestIDMiddleware(t *testing.T) {
	router := newRouter()

	t.Run("assigns an id", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/echo", nil))

		require.Equal(t, http.StatusOK, w.Code)
		id := w.Header().Get(RequestIDHeader)
		assert.NotEmpty(t, id)
		assert.Equal(t, id, w.Body.String())
	})

	t.Run("keeps the caller's id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/echo", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
		assert.Equal(t, "req-42", w.Body.String())
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body.ErrorCode)
	assert.NotContains(t, w.Body.String(), "nil map write")
}
