package service

import (
	"context"
	"time"

	"walletrecharge/internal/model"
	"walletrecharge/internal/repository"
)

// RechargeStore 充值单存储，repository.RechargeRepository 是 MySQL 实现
type RechargeStore interface {
	Create(ctx context.Context, req *model.RechargeRequest) error
	GetByID(ctx context.Context, id string) (*model.RechargeRequest, error)
	GetByGatewayOrderID(ctx context.Context, orderID string) (*model.RechargeRequest, error)
	ListByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]*model.RechargeRequest, int64, error)
	MarkPaymentInitiated(ctx context.Context, id, gatewayOrderID string) error
	Claim(ctx context.Context, id, paymentID, signature string) (bool, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string) error
}

// SweepStore 补偿任务额外需要的查询
type SweepStore interface {
	ListStuckProcessing(ctx context.Context, before time.Time, limit int) ([]*model.RechargeRequest, error)
}

// Ledger 钱包账本，repository.WalletRepository 是 MySQL 实现
type Ledger interface {
	Apply(ctx context.Context, adj *repository.Adjustment) (*repository.AdjustResult, error)
	FindCompleted(ctx context.Context, referenceType, referenceID string) (*model.Transaction, error)
	GetWallet(ctx context.Context, ownerID string) (*model.Wallet, error)
	ListTransactions(ctx context.Context, ownerID string, page, pageSize int) ([]*model.Transaction, int64, error)
}

var (
	_ RechargeStore = (*repository.RechargeRepository)(nil)
	_ SweepStore    = (*repository.RechargeRepository)(nil)
	_ Ledger        = (*repository.WalletRepository)(nil)
)
