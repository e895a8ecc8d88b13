package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tempinbox/backend/internal/service"
	"tempinbox/backend/internal/storage"
)

// errorResponse 错误响应，只包含面向用户的提示
type errorResponse struct {
	Error string `json:"error"`
}

// 通用错误消息
const (
	MsgEmailNotFound    = "email not found"
	MsgTryAgainLater    = "try again later"
	MsgInternalError    = "internal server error"
	MsgUsernameRejected = "username rejected"
)

// writeError 把服务层错误映射为 HTTP 状态码
//
// 存储故障的细节只写日志，响应体中只有通用提示。
func writeError(c *gin.Context, err error) {
	var rejected *service.RejectedError
	switch {
	case errors.As(err, &rejected):
		c.JSON(http.StatusForbidden, errorResponse{Error: rejected.Decision.Reason.Message()})
	case errors.Is(err, service.ErrUsernameRejected):
		c.JSON(http.StatusForbidden, errorResponse{Error: MsgUsernameRejected})
	case errors.Is(err, storage.ErrEmailNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: MsgEmailNotFound})
	case errors.Is(err, service.ErrStoreUnavailable):
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: MsgTryAgainLater})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: MsgInternalError})
	}
}
