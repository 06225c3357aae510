package repository

import (
	"context"
	"errors"
	"fmt"

	"walletrecharge/internal/model"
	"walletrecharge/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Adjustment 一次账本调整
type Adjustment struct {
	OwnerID       string
	Type          string // credit / debit
	Amount        decimal.Decimal
	ReferenceType string
	ReferenceID   string
	Remark        string
	// Event 只在真正入账时与流水一起写入 outbox
	Event *model.OutboxMessage
}

// AdjustResult Applied=false 表示该幂等键已有 completed 流水，本次没有改动余额
type AdjustResult struct {
	Transaction *model.Transaction
	Applied     bool
}

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// Apply 原子调整余额
//
// 【为什么要在一个事务里做"查重 + 加余额 + 写流水"？】
//
// 如果查重和加余额分两步：
//   路径A: 查询 reference 无流水 ->            加余额 -> 写流水
//   路径B:       查询 reference 无流水 -> 加余额 -> 写流水   重复入账！
//
// 事务内先对钱包行加 FOR UPDATE 锁，同一 owner 的调整串行执行，
// 查重结果在提交前不会失效。CompletedKey 唯一索引兜底。
func (r *WalletRepository) Apply(ctx context.Context, adj *Adjustment) (*AdjustResult, error) {
	if !adj.Amount.IsPositive() {
		return nil, fmt.Errorf("调整金额必须为正数: %s", adj.Amount)
	}

	var result *AdjustResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = r.apply(ctx, tx, adj)
		return err
	})
	if err != nil {
		if isDuplicateKey(err) {
			// 并发写入同一幂等键，另一方已经提交
			existing, findErr := r.FindCompleted(ctx, adj.ReferenceType, adj.ReferenceID)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				return &AdjustResult{Transaction: existing, Applied: false}, nil
			}
		}
		return nil, err
	}
	return result, nil
}

func (r *WalletRepository) apply(ctx context.Context, tx *gorm.DB, adj *Adjustment) (*AdjustResult, error) {
	if adj.Type == model.TransactionTypeCredit {
		// 懒创建钱包，余额从 0 开始，下面的增量就是首笔入账金额
		wallet := &model.Wallet{OwnerID: adj.OwnerID, Balance: decimal.Zero}
		err := tx.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "owner_id"}},
				DoNothing: true,
			}).
			Create(wallet).Error
		if err != nil {
			return nil, fmt.Errorf("创建钱包失败: %w", err)
		}
	}

	wallet, err := r.getForUpdate(ctx, tx, adj.OwnerID)
	if err != nil {
		return nil, err
	}

	existing, err := r.findCompleted(ctx, tx, adj.ReferenceType, adj.ReferenceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &AdjustResult{Transaction: existing, Applied: false}, nil
	}

	before := wallet.Balance
	var after decimal.Decimal
	var expr clause.Expr
	switch adj.Type {
	case model.TransactionTypeCredit:
		after = before.Add(adj.Amount)
		expr = gorm.Expr("balance + ?", adj.Amount)
	case model.TransactionTypeDebit:
		if before.LessThan(adj.Amount) {
			return nil, ErrInsufficientBalance
		}
		after = before.Sub(adj.Amount)
		expr = gorm.Expr("balance - ?", adj.Amount)
	default:
		return nil, fmt.Errorf("未知的流水类型: %s", adj.Type)
	}

	update := tx.WithContext(ctx).Model(&model.Wallet{}).Where("owner_id = ?", adj.OwnerID)
	if adj.Type == model.TransactionTypeDebit {
		update = update.Where("balance >= ?", adj.Amount)
	}
	res := update.Update("balance", expr)
	if res.Error != nil {
		return nil, fmt.Errorf("更新余额失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrInsufficientBalance
	}

	key := model.CompletedKeyFor(adj.ReferenceType, adj.ReferenceID)
	txn := &model.Transaction{
		ID:            idgen.GenerateTransactionNo(),
		OwnerID:       adj.OwnerID,
		Type:          adj.Type,
		Amount:        adj.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceType: adj.ReferenceType,
		ReferenceID:   adj.ReferenceID,
		Status:        model.TransactionStatusCompleted,
		CompletedKey:  &key,
		Remark:        adj.Remark,
	}
	if err := tx.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, fmt.Errorf("记录流水失败: %w", err)
	}

	if adj.Event != nil {
		if err := tx.WithContext(ctx).Create(adj.Event).Error; err != nil {
			return nil, fmt.Errorf("写入消息失败: %w", err)
		}
	}

	return &AdjustResult{Transaction: txn, Applied: true}, nil
}

func (r *WalletRepository) getForUpdate(ctx context.Context, tx *gorm.DB, ownerID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ?", ownerID).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// FindCompleted 查询幂等键对应的 completed 流水，不存在返回 nil, nil
func (r *WalletRepository) FindCompleted(ctx context.Context, referenceType, referenceID string) (*model.Transaction, error) {
	return r.findCompleted(ctx, r.db, referenceType, referenceID)
}

func (r *WalletRepository) findCompleted(ctx context.Context, tx *gorm.DB, referenceType, referenceID string) (*model.Transaction, error) {
	// 首次入账时查不到是常态，用 Find 而不是 First
	var list []*model.Transaction
	err := tx.WithContext(ctx).
		Where("completed_key = ?", model.CompletedKeyFor(referenceType, referenceID)).
		Limit(1).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (r *WalletRepository) GetWallet(ctx context.Context, ownerID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *WalletRepository) ListTransactions(ctx context.Context, ownerID string, page, pageSize int) ([]*model.Transaction, int64, error) {
	var (
		list  []*model.Transaction
		total int64
	)
	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("owner_id = ?", ownerID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&list).Error
	return list, total, err
}
