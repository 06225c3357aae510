package handler

import (
	"errors"
	"net/http"

	"walletrecharge/internal/service"
	"walletrecharge/pkg/logger"
	"walletrecharge/pkg/response"

	"github.com/gin-gonic/gin"
)

// writeError 按错误分类映射 HTTP 状态码
// 存储和网关错误不把内部信息透给客户端
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAuthentication):
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
	case errors.Is(err, service.ErrRequestClosed):
		response.Error(c, http.StatusBadRequest, response.CodeRechargeClosed, err.Error())
	case errors.Is(err, service.ErrAmountMismatch):
		response.Error(c, http.StatusBadRequest, response.CodeAmountMismatch, err.Error())
	case errors.Is(err, service.ErrSignatureMismatch):
		response.Error(c, http.StatusBadRequest, response.CodeSignatureMismatch, err.Error())
	case errors.Is(err, service.ErrPaymentNotCaptured):
		response.Error(c, http.StatusBadRequest, response.CodePaymentNotCaptured, err.Error())
	case errors.Is(err, service.ErrInsufficientBalance):
		response.Error(c, http.StatusBadRequest, response.CodeBalanceNotEnough, err.Error())
	case errors.Is(err, service.ErrValidation):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrGateway):
		logger.From(c.Request.Context()).Error("支付网关调用失败", "error", err)
		response.Error(c, http.StatusBadGateway, response.CodeGatewayError, service.ErrGateway.Error())
	default:
		logger.From(c.Request.Context()).Error("请求处理失败", "error", err)
		response.ServerError(c, service.ErrPersistence.Error())
	}
}

// writeWebhookError webhook 的状态码决定网关是否重试：
//   - 400 只用于验签失败和报文无法解析
//   - 404 充值单还没落库，让网关稍后重试
//   - 5xx 存储异常，让网关重试
//   - 其余业务结果已有定论（充值单已关闭、未扣款、金额不符、支付单已绑定等），返回 200，重试也不会改变结果
func writeWebhookError(c *gin.Context, err error) {
	log := logger.From(c.Request.Context())
	switch {
	case errors.Is(err, service.ErrSignatureMismatch):
		response.Error(c, http.StatusBadRequest, response.CodeSignatureMismatch, err.Error())
	case errors.Is(err, service.ErrMalformedEvent):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrPaymentNotCaptured),
		errors.Is(err, service.ErrAmountMismatch),
		errors.Is(err, service.ErrGateway):
		log.Warn("webhook 已处理，充值未成功", "error", err)
		response.Success(c, gin.H{"handled": true, "credited": false, "reason": err.Error()})
	default:
		log.Error("webhook 处理失败，等待网关重试", "error", err)
		response.Error(c, http.StatusInternalServerError, response.CodeRechargeUnavailable, service.ErrPersistence.Error())
	}
}
