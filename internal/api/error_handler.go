package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/workflow-gin/internal/flowerr"
)

// APIError API 错误
type APIError struct {
	Code    int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	return e.Message
}

// ErrorHandlerMiddleware 错误处理中间件,处理 handler 通过 c.Error 登记的错误
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			Error(c, apiErr.Code, apiErr.Message, apiErr.Detail)
			return
		}
		WriteError(c, err)
	}
}

// WrapError 包装错误
func WrapError(err error, code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Detail:  err.Error(),
	}
}

// StatusOf 流程错误类型对应的 HTTP 状态码
func StatusOf(err error) int {
	switch flowerr.KindOf(err) {
	case flowerr.KindNotFound:
		return http.StatusNotFound
	case flowerr.KindSuspended, flowerr.KindIllegalStatus, flowerr.KindConflict:
		return http.StatusConflict
	case flowerr.KindMisconfigured, flowerr.KindNotMultiInstance:
		return http.StatusUnprocessableEntity
	case flowerr.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteError 按流程错误类型写出错误响应,未知错误不向调用方暴露细节
func WriteError(c *gin.Context, err error) {
	status := StatusOf(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(status, ErrorResponse{
			Code:    status,
			Kind:    string(flowerr.KindEngine),
			Message: "internal server error",
		})
		return
	}
	c.JSON(status, ErrorResponse{
		Code:    status,
		Kind:    string(flowerr.KindOf(err)),
		Message: flowerr.MessageOf(err),
	})
}
