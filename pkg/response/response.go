package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeNotFound     = 404
	CodeServerError  = 500
	CodeGatewayError = 502
)

// 业务错误码
const (
	CodeAmountMismatch      = 1001
	CodeSignatureMismatch   = 1002
	CodePaymentNotCaptured  = 1003
	CodeBalanceNotEnough    = 1004
	CodeRechargeClosed      = 1005
	CodeRechargeUnavailable = 1006
)

type Response struct {
	Success bool        `json:"success"`
	Code    int         `json:"code"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Code:    CodeSuccess,
		Data:    data,
	})
}

// Page 分页列表
func Page(c *gin.Context, list interface{}, total int64, page, pageSize int) {
	Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// Error 失败响应，HTTP 状态码和业务码分开传
func Error(c *gin.Context, status, code int, message string) {
	c.JSON(status, Response{
		Code:  code,
		Error: message,
	})
}

// Abort 用于中间件，终止后续 handler
func Abort(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:  code,
		Error: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeServerError, message)
}
