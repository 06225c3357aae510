package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionTypeCredit = "credit"
	TransactionTypeDebit  = "debit"
)

const (
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

const (
	ReferenceTypeGatewayPayment = "gateway_payment"
	ReferenceTypeOrder          = "order"
)

// Transaction 账本流水
//
// 【重要】流水只追加，不修改，不删除
//
// (reference_type, reference_id) 在 completed 流水中唯一，这是防重复入账的幂等键。
// MySQL 没有部分索引，所以用 CompletedKey 表达：completed 流水写 "type:id"，
// 其他状态写 NULL，唯一索引只约束非 NULL 值
type Transaction struct {
	ID            string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	OwnerID       string          `gorm:"type:varchar(64);index;not null" json:"owner_id"`
	Type          string          `gorm:"type:varchar(10);not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	ReferenceType string          `gorm:"type:varchar(32);index:idx_reference;not null" json:"reference_type"`
	ReferenceID   string          `gorm:"type:varchar(64);index:idx_reference;not null" json:"reference_id"`
	Status        string          `gorm:"type:varchar(20);not null" json:"status"`
	CompletedKey  *string         `gorm:"type:varchar(128);uniqueIndex" json:"-"`
	Remark        string          `gorm:"type:varchar(256)" json:"remark,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "wallet_transaction"
}

// CompletedKeyFor 幂等键
func CompletedKeyFor(referenceType, referenceID string) string {
	return referenceType + ":" + referenceID
}

// SignedAmount 入账为正，出账为负
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TransactionTypeDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}
