package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mautops/workflow-gin/internal/api"
	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStatusOf 流程错误类别到 HTTP 状态码
func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{flowerr.NotFound(flowerr.MessageTaskNotFound), http.StatusNotFound},
		{flowerr.Suspended(), http.StatusConflict},
		{flowerr.ErrIllegalStatus, http.StatusConflict},
		{flowerr.ErrConflict, http.StatusConflict},
		{flowerr.ErrMisconfigured, http.StatusUnprocessableEntity},
		{flowerr.ErrNotMultiInstance, http.StatusUnprocessableEntity},
		{flowerr.ErrInvalidArgument, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, api.StatusOf(tt.err), tt.err.Error())
	}
}

// TestWriteError_HidesInternalErrors 未知错误不暴露原始信息
func TestWriteError_HidesInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(api.ErrorHandlerMiddleware())
	r.GET("/boom", func(c *gin.Context) {
		api.WriteError(c, errors.New("dial tcp 10.0.0.1:5432: connection refused"))
	})
	r.GET("/late", func(c *gin.Context) {
		_ = c.Error(flowerr.NotFound("instance not found"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal server error", body.Message)
	assert.Equal(t, string(flowerr.KindEngine), body.Kind)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/late", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "instance not found", body.Message)
}
