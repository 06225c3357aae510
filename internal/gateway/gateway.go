// Package gateway 是外部支付网关的适配层。
//
// 网关客户端在启动时显式构造并注入到业务服务，没有全局单例；测试中替换为假实现。
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusCreated    = "created"
	PaymentStatusAuthorized = "authorized"
	PaymentStatusCaptured   = "captured"
	PaymentStatusFailed     = "failed"
	PaymentStatusRefunded   = "refunded"
)

// 下单时写入 notes 的键，网关在支付单上原样返回
const (
	NoteRechargeRequestID = "recharge_request_id"
	NoteOwnerID           = "owner_id"
)

var (
	// ErrUnavailable 网络错误、超时、网关 5xx，可以重试
	ErrUnavailable = errors.New("支付网关不可用")
	// ErrRejected 网关明确拒绝请求（4xx）
	ErrRejected = errors.New("支付网关拒绝请求")
)

// Client 支付网关
type Client interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
}

type CreateOrderRequest struct {
	AmountMinor int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Receipt     string            `json:"receipt,omitempty"`
	Notes       Notes             `json:"notes,omitempty"`
}

type Order struct {
	ID          string `json:"id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
}

type Payment struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	Notes       Notes  `json:"notes"`
}

// Notes 网关在没有 notes 时返回空数组 []，这里按空 map 处理
type Notes map[string]string

func (n *Notes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("[]")) || bytes.Equal(trimmed, []byte("null")) {
		*n = nil
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return err
	}
	*n = m
	return nil
}

func (p *Payment) Captured() bool {
	return p.Status == PaymentStatusCaptured
}

// Error 网关返回的业务错误
type Error struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway error: status=%d code=%s desc=%s", e.StatusCode, e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	if e.StatusCode >= 500 {
		return ErrUnavailable
	}
	return ErrRejected
}

var hundred = decimal.NewFromInt(100)

// ToMinorUnits 元 -> 分，金额最多两位小数
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).IntPart()
}

// FromMinorUnits 分 -> 元
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
