package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet 钱包，每个 owner 一个
// 余额只能通过账本原子调整修改，不允许先读再写
type Wallet struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"-"`
	OwnerID   string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"owner_id"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallet"
}
