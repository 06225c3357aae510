package service

import (
	"errors"
)

// 错误分类，handler 用 errors.Is 映射 HTTP 状态码
var (
	ErrAuthentication      = errors.New("未登录或身份不匹配")
	ErrValidation          = errors.New("参数错误")
	ErrNotFound            = errors.New("充值单不存在")
	ErrAmountMismatch      = errors.New("金额不一致")
	ErrSignatureMismatch   = errors.New("签名校验失败")
	ErrGateway             = errors.New("支付网关错误")
	ErrPersistence         = errors.New("存储异常")
	ErrPaymentNotCaptured  = errors.New("支付未成功")
	ErrInsufficientBalance = errors.New("余额不足")
)

// ErrRequestClosed 充值单已失败或已取消，属于参数类错误
var ErrRequestClosed = wrapKind(ErrValidation, "充值单已关闭")

// ErrMalformedEvent webhook 报文无法解析或缺少必要字段
var ErrMalformedEvent = wrapKind(ErrValidation, "webhook 报文格式错误")

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func wrapKind(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}
