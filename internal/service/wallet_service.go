package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"walletrecharge/internal/model"
	"walletrecharge/internal/repository"

	"github.com/shopspring/decimal"
)

type WalletService struct {
	ledger Ledger
	logger *slog.Logger
}

func NewWalletService(ledger Ledger, logger *slog.Logger) *WalletService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WalletService{
		ledger: ledger,
		logger: logger.With("component", "WalletService"),
	}
}

// GetWallet 钱包不存在时返回零余额，不创建钱包
func (s *WalletService) GetWallet(ctx context.Context, ownerID string) (*model.Wallet, error) {
	if ownerID == "" {
		return nil, ErrAuthentication
	}
	wallet, err := s.ledger.GetWallet(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return &model.Wallet{OwnerID: ownerID, Balance: decimal.Zero}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return wallet, nil
}

func (s *WalletService) ListTransactions(ctx context.Context, ownerID string, page, pageSize int) ([]*model.Transaction, int64, error) {
	if ownerID == "" {
		return nil, 0, ErrAuthentication
	}
	page, pageSize = normalizePage(page, pageSize)
	list, total, err := s.ledger.ListTransactions(ctx, ownerID, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return list, total, nil
}

type DebitRequest struct {
	OwnerID       string
	Amount        decimal.Decimal
	ReferenceType string
	ReferenceID   string
	Remark        string
}

// Debit 订单扣款，和充值共用同一个账本原语，按 (reference_type, reference_id) 幂等
// 返回的 bool 表示本次是否真正扣款
func (s *WalletService) Debit(ctx context.Context, in *DebitRequest) (*model.Transaction, bool, error) {
	if in.OwnerID == "" {
		return nil, false, ErrAuthentication
	}
	if err := validateAmount(in.Amount); err != nil {
		return nil, false, err
	}
	if in.ReferenceID == "" {
		return nil, false, fmt.Errorf("%w: reference_id 不能为空", ErrValidation)
	}
	refType := in.ReferenceType
	if refType == "" {
		refType = model.ReferenceTypeOrder
	}

	res, err := s.ledger.Apply(ctx, &repository.Adjustment{
		OwnerID:       in.OwnerID,
		Type:          model.TransactionTypeDebit,
		Amount:        in.Amount,
		ReferenceType: refType,
		ReferenceID:   in.ReferenceID,
		Remark:        in.Remark,
	})
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) || errors.Is(err, repository.ErrWalletNotFound) {
			return nil, false, ErrInsufficientBalance
		}
		return nil, false, fmt.Errorf("%w: 扣款失败: %v", ErrPersistence, err)
	}

	if res.Applied {
		s.logger.Info("扣款成功", "owner_id", in.OwnerID, "amount", in.Amount.StringFixed(2),
			"reference_id", in.ReferenceID, "balance", res.Transaction.BalanceAfter.StringFixed(2))
	}
	return res.Transaction, res.Applied, nil
}
