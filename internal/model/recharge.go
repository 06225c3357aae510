package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RechargeStatusPending          = "pending"
	RechargeStatusPaymentInitiated = "payment_initiated"
	RechargeStatusProcessing       = "processing"
	RechargeStatusCompleted        = "completed"
	RechargeStatusFailed           = "failed"
	RechargeStatusCancelled        = "cancelled"
)

// ValidStatusTransitions 充值单状态机
//
// 【状态单调】completed / failed / cancelled 没有出边，
// 任何调用顺序都不可能把已完成的充值单改回 pending 或 processing
var ValidStatusTransitions = map[string][]string{
	RechargeStatusPending:          {RechargeStatusPaymentInitiated, RechargeStatusProcessing, RechargeStatusCancelled},
	RechargeStatusPaymentInitiated: {RechargeStatusProcessing},
	RechargeStatusProcessing:       {RechargeStatusCompleted, RechargeStatusFailed},
}

// ClaimableStatuses 可以被认领（进入 processing）的状态
var ClaimableStatuses = []string{RechargeStatusPending, RechargeStatusPaymentInitiated}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsTerminal 终态之后充值单不可再变更
func IsTerminal(status string) bool {
	_, hasNext := ValidStatusTransitions[status]
	return !hasNext
}

// RechargeRequest 充值单
//
// GatewayOrderID / GatewayPaymentID 允许为 NULL，唯一索引只约束非空值：
// 一个网关支付单号最多绑定一个充值单
type RechargeRequest struct {
	ID               string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	OwnerID          string          `gorm:"type:varchar(64);index;not null" json:"owner_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status           string          `gorm:"type:varchar(20);index:idx_status_updated;not null" json:"status"`
	GatewayOrderID   *string         `gorm:"type:varchar(64);uniqueIndex" json:"gateway_order_id,omitempty"`
	GatewayPaymentID *string         `gorm:"type:varchar(64);uniqueIndex" json:"gateway_payment_id,omitempty"`
	GatewaySignature string          `gorm:"type:varchar(128)" json:"-"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime;index:idx_status_updated" json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

func (RechargeRequest) TableName() string {
	return "recharge_request"
}

// OrderID 返回网关订单号，未创建时为空串
func (r *RechargeRequest) OrderID() string {
	if r.GatewayOrderID == nil {
		return ""
	}
	return *r.GatewayOrderID
}

func (r *RechargeRequest) PaymentID() string {
	if r.GatewayPaymentID == nil {
		return ""
	}
	return *r.GatewayPaymentID
}
