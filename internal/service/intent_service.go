package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"walletrecharge/internal/gateway"
	"walletrecharge/internal/metrics"
	"walletrecharge/internal/model"
	"walletrecharge/internal/repository"
	"walletrecharge/pkg/idgen"

	"github.com/shopspring/decimal"
)

type IntentConfig struct {
	Currency          string
	GatewayKey        string
	GatewayTimeout    time.Duration
	MaxRechargeAmount decimal.Decimal
}

// IntentService 创建充值单并在网关下单
type IntentService struct {
	store   RechargeStore
	gateway gateway.Client
	cfg     IntentConfig
	logger  *slog.Logger
}

func NewIntentService(store RechargeStore, gw gateway.Client, cfg IntentConfig, logger *slog.Logger) *IntentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentService{
		store:   store,
		gateway: gw,
		cfg:     cfg,
		logger:  logger.With("component", "IntentService"),
	}
}

type IntentRequest struct {
	OwnerID           string
	Amount            decimal.Decimal
	RechargeRequestID string
}

type IntentResult struct {
	OrderID           string `json:"order_id"`
	AmountMinorUnits  int64  `json:"amount_minor_units"`
	Currency          string `json:"currency"`
	RechargeRequestID string `json:"recharge_request_id"`
	GatewayKey        string `json:"gateway_key"`
}

// CreateRequest 服务端创建充值单，金额在这里确定，之后不可修改
func (s *IntentService) CreateRequest(ctx context.Context, ownerID string, amount decimal.Decimal) (*model.RechargeRequest, error) {
	if ownerID == "" {
		return nil, ErrAuthentication
	}
	if err := s.validateAmount(amount); err != nil {
		return nil, err
	}

	req := &model.RechargeRequest{
		ID:      idgen.GenerateRechargeNo(),
		OwnerID: ownerID,
		Amount:  amount,
		Status:  model.RechargeStatusPending,
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: 创建充值单失败: %v", ErrPersistence, err)
	}

	s.logger.Info("充值单已创建", "recharge_request_id", req.ID, "owner_id", ownerID, "amount", amount.StringFixed(2))
	return req, nil
}

// CreateIntent 在网关创建订单
//
// 校验顺序固定，任何一步失败都不产生副作用：
//  1. 调用方已登录
//  2. 金额合法
//  3. 充值单属于调用方且处于 pending
//  4. 金额与充值单一致（防止客户端篡改金额）
func (s *IntentService) CreateIntent(ctx context.Context, in *IntentRequest) (*IntentResult, error) {
	if in.OwnerID == "" {
		return nil, ErrAuthentication
	}
	if err := s.validateAmount(in.Amount); err != nil {
		return nil, err
	}
	if in.RechargeRequestID == "" {
		return nil, fmt.Errorf("%w: recharge_request_id 不能为空", ErrValidation)
	}

	req, err := s.getOwned(ctx, in.OwnerID, in.RechargeRequestID)
	if err != nil {
		return nil, err
	}
	if req.Status != model.RechargeStatusPending {
		return nil, fmt.Errorf("%w: 充值单状态为 %s，不能发起支付", ErrValidation, req.Status)
	}
	if !req.Amount.Equal(in.Amount) {
		metrics.IntentTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
		s.logger.Warn("下单金额与充值单不一致",
			"recharge_request_id", req.ID, "stored", req.Amount.StringFixed(2), "supplied", in.Amount.String())
		return nil, fmt.Errorf("%w: 充值单金额 %s", ErrAmountMismatch, req.Amount.StringFixed(2))
	}

	amountMinor := gateway.ToMinorUnits(req.Amount)
	gwCtx, cancel := withTimeout(ctx, s.cfg.GatewayTimeout)
	order, err := s.gateway.CreateOrder(gwCtx, &gateway.CreateOrderRequest{
		AmountMinor: amountMinor,
		Currency:    s.cfg.Currency,
		Receipt:     req.ID,
		Notes: gateway.Notes{
			gateway.NoteRechargeRequestID: req.ID,
			gateway.NoteOwnerID:           req.OwnerID,
		},
	})
	cancel()
	if err != nil {
		// 充值单保持 pending，客户端可以重试
		metrics.IntentTotal.WithLabelValues(metrics.OutcomeError).Inc()
		s.logger.Error("网关下单失败", "recharge_request_id", req.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	if err := s.store.MarkPaymentInitiated(ctx, req.ID, order.ID); err != nil {
		// 网关侧订单已存在但本地没有记录，必须留痕
		metrics.IntentTotal.WithLabelValues(metrics.OutcomeError).Inc()
		s.logger.Error("网关订单已创建但保存失败",
			"recharge_request_id", req.ID, "gateway_order_id", order.ID, "error", err)
		if errors.Is(err, repository.ErrRechargeStatusConflict) {
			return nil, fmt.Errorf("%w: 充值单状态已变化", ErrValidation)
		}
		return nil, fmt.Errorf("%w: 保存网关订单号失败: %v", ErrPersistence, err)
	}

	metrics.IntentTotal.WithLabelValues(metrics.OutcomeCreated).Inc()
	s.logger.Info("网关订单已创建", "recharge_request_id", req.ID, "gateway_order_id", order.ID)

	return &IntentResult{
		OrderID:           order.ID,
		AmountMinorUnits:  amountMinor,
		Currency:          s.cfg.Currency,
		RechargeRequestID: req.ID,
		GatewayKey:        s.cfg.GatewayKey,
	}, nil
}

func (s *IntentService) GetRequest(ctx context.Context, ownerID, id string) (*model.RechargeRequest, error) {
	if ownerID == "" {
		return nil, ErrAuthentication
	}
	return s.getOwned(ctx, ownerID, id)
}

func (s *IntentService) ListRequests(ctx context.Context, ownerID string, page, pageSize int) ([]*model.RechargeRequest, int64, error) {
	if ownerID == "" {
		return nil, 0, ErrAuthentication
	}
	page, pageSize = normalizePage(page, pageSize)
	list, total, err := s.store.ListByOwner(ctx, ownerID, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return list, total, nil
}

// getOwned 别人的充值单按不存在处理，不暴露单号是否存在
func (s *IntentService) getOwned(ctx context.Context, ownerID, id string) (*model.RechargeRequest, error) {
	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrRechargeNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if req.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return req, nil
}

func (s *IntentService) validateAmount(amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if s.cfg.MaxRechargeAmount.IsPositive() && amount.GreaterThan(s.cfg.MaxRechargeAmount) {
		return fmt.Errorf("%w: 单笔充值不能超过 %s", ErrValidation, s.cfg.MaxRechargeAmount.StringFixed(2))
	}
	return nil
}

// validateAmount 金额必须为正且最多两位小数
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: 金额必须大于0", ErrValidation)
	}
	if !amount.Equal(amount.Truncate(2)) {
		return fmt.Errorf("%w: 金额最多两位小数", ErrValidation)
	}
	return nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
