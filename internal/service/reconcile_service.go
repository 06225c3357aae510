package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"walletrecharge/internal/gateway"
	"walletrecharge/internal/metrics"
	"walletrecharge/internal/model"
	"walletrecharge/internal/repository"
	"walletrecharge/internal/signature"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 充值对账
// ============================================================================
//
// 【两条入账路径】
//
//   1. 同步确认：用户在收银台付款后，前端立即调用 /verify
//   2. 异步回调：网关稍后推送 payment.captured webhook，可能重复推送
//
// 两条路径没有任何协调，可能同时到达、先后颠倒、或者重复到达，但同一笔支付只能入账一次。
//
// 【做法】认领 + 幂等键
//
//   - 认领：UPDATE ... SET status='processing' WHERE status IN ('pending','payment_initiated')，
//     RowsAffected == 1 的一方继续，另一方看到 processing/completed 直接返回成功
//   - 幂等键：账本流水以 gateway_payment_id 为幂等键，查重和加余额在同一个事务里完成
//
// 两条路径和补偿任务共用这里的同一份逻辑，不允许各写一套入账代码。
// ============================================================================

const EventPaymentCaptured = "payment.captured"

type ReconcileConfig struct {
	KeySecret      string
	WebhookSecret  string
	GatewayTimeout time.Duration
	LedgerTimeout  time.Duration
	// EventTopic 为空时不写充值完成事件
	EventTopic string
}

type ReconcileService struct {
	store   RechargeStore
	ledger  Ledger
	gateway gateway.Client
	cfg     ReconcileConfig
	logger  *slog.Logger
}

func NewReconcileService(store RechargeStore, ledger Ledger, gw gateway.Client, cfg ReconcileConfig, logger *slog.Logger) *ReconcileService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileService{
		store:   store,
		ledger:  ledger,
		gateway: gw,
		cfg:     cfg,
		logger:  logger.With("component", "ReconcileService"),
	}
}

type ConfirmRequest struct {
	OwnerID           string
	RechargeRequestID string
	GatewayOrderID    string
	GatewayPaymentID  string
	GatewaySignature  string
}

type Result struct {
	RechargeRequestID string          `json:"recharge_request_id"`
	OrderID           string          `json:"order_id"`
	PaymentID         string          `json:"payment_id"`
	Status            string          `json:"status"`
	NewBalance        decimal.Decimal `json:"new_balance"`
	// AlreadyProcessed 本次调用没有入账，之前的调用已经处理或正在处理
	AlreadyProcessed bool `json:"already_processed"`
}

type WebhookResult struct {
	Event   string
	Handled bool
	Result  *Result
}

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity gateway.Payment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// Confirm 同步确认入口
func (s *ReconcileService) Confirm(ctx context.Context, in *ConfirmRequest) (*Result, error) {
	if in.OwnerID == "" {
		return nil, ErrAuthentication
	}
	if in.RechargeRequestID == "" || in.GatewayOrderID == "" || in.GatewayPaymentID == "" || in.GatewaySignature == "" {
		return nil, fmt.Errorf("%w: recharge_request_id、gateway_order_id、gateway_payment_id、gateway_signature 均不能为空", ErrValidation)
	}

	// 先验签再读库，签名不对不碰任何状态
	if !signature.VerifyPayment(in.GatewayOrderID, in.GatewayPaymentID, in.GatewaySignature, s.cfg.KeySecret) {
		metrics.SignatureMismatchTotal.WithLabelValues(metrics.PathConfirm).Inc()
		metrics.ReconcileTotal.WithLabelValues(metrics.PathConfirm, metrics.OutcomeRejected).Inc()
		s.logger.Warn("同步确认签名校验失败",
			"owner_id", in.OwnerID, "recharge_request_id", in.RechargeRequestID,
			"gateway_order_id", in.GatewayOrderID, "gateway_payment_id", in.GatewayPaymentID)
		return nil, ErrSignatureMismatch
	}

	req, err := s.store.GetByID(ctx, in.RechargeRequestID)
	if err != nil {
		return nil, s.lookupError(metrics.PathConfirm, err)
	}
	if req.OwnerID != in.OwnerID {
		metrics.ReconcileTotal.WithLabelValues(metrics.PathConfirm, metrics.OutcomeRejected).Inc()
		return nil, ErrNotFound
	}
	if req.OrderID() != in.GatewayOrderID {
		metrics.ReconcileTotal.WithLabelValues(metrics.PathConfirm, metrics.OutcomeRejected).Inc()
		return nil, fmt.Errorf("%w: 网关订单号与充值单不匹配", ErrValidation)
	}

	return s.reconcile(ctx, metrics.PathConfirm, req, in.GatewayPaymentID, in.GatewaySignature)
}

// HandleWebhook 网关回调入口，body 必须是原始请求体
func (s *ReconcileService) HandleWebhook(ctx context.Context, body []byte, sig string) (*WebhookResult, error) {
	if !signature.Verify(body, sig, s.cfg.WebhookSecret) {
		metrics.SignatureMismatchTotal.WithLabelValues(metrics.PathWebhook).Inc()
		metrics.ReconcileTotal.WithLabelValues(metrics.PathWebhook, metrics.OutcomeRejected).Inc()
		s.logger.Warn("webhook 签名校验失败", "body_size", len(body))
		return nil, ErrSignatureMismatch
	}

	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if evt.Event != EventPaymentCaptured {
		metrics.ReconcileTotal.WithLabelValues(metrics.PathWebhook, metrics.OutcomeIgnored).Inc()
		s.logger.Debug("忽略 webhook 事件", "event", evt.Event)
		return &WebhookResult{Event: evt.Event}, nil
	}

	payment := evt.Payload.Payment.Entity
	if payment.ID == "" || payment.OrderID == "" {
		return nil, fmt.Errorf("%w: 缺少 payment id 或 order id", ErrMalformedEvent)
	}

	req, err := s.store.GetByGatewayOrderID(ctx, payment.OrderID)
	if errors.Is(err, repository.ErrRechargeNotFound) {
		req, err = s.bindOrder(ctx, &payment)
		if errors.Is(err, ErrValidation) {
			return nil, err
		}
	}
	if err != nil {
		return nil, s.lookupError(metrics.PathWebhook, err)
	}

	result, err := s.reconcile(ctx, metrics.PathWebhook, req, payment.ID, sig)
	return &WebhookResult{Event: evt.Event, Handled: true, Result: result}, err
}

// bindOrder 下单时网关订单号没有保存成功，按 notes 里的充值单号找回并补写订单号
//
// notes 是下单时写入的，webhook 已经验签，可以信任
func (s *ReconcileService) bindOrder(ctx context.Context, payment *gateway.Payment) (*model.RechargeRequest, error) {
	id := payment.Notes[gateway.NoteRechargeRequestID]
	if id == "" {
		return nil, repository.ErrRechargeNotFound
	}
	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if owner := payment.Notes[gateway.NoteOwnerID]; owner != "" && owner != req.OwnerID {
		return nil, repository.ErrRechargeNotFound
	}

	if req.OrderID() == "" && req.Status == model.RechargeStatusPending {
		err := s.store.MarkPaymentInitiated(ctx, id, payment.OrderID)
		if err != nil && !errors.Is(err, repository.ErrRechargeStatusConflict) {
			return nil, err
		}
		// 并发下可能被其他调用方改了状态，以库里为准
		if req, err = s.store.GetByID(ctx, id); err != nil {
			return nil, err
		}
	}
	if req.OrderID() == payment.OrderID {
		s.logger.Warn("按 notes 补写网关订单号", "recharge_request_id", id, "gateway_order_id", payment.OrderID)
		return req, nil
	}

	// 充值单已关闭或已绑定其他订单，需要人工处理
	s.logger.Error("支付单无法关联充值单",
		"recharge_request_id", id, "status", req.Status, "bound_order_id", req.OrderID(),
		"gateway_order_id", payment.OrderID, "gateway_payment_id", payment.ID)
	metrics.ReconcileTotal.WithLabelValues(metrics.PathWebhook, metrics.OutcomeRejected).Inc()
	if model.IsTerminal(req.Status) {
		return nil, fmt.Errorf("%w: 当前状态 %s", ErrRequestClosed, req.Status)
	}
	return nil, fmt.Errorf("%w: 充值单已绑定其他网关订单", ErrValidation)
}

// Resume 补偿入口：继续处理停留在 processing 的充值单
//
// 只重做查单、入账、完成三步，绝不重新认领。
// 和实时路径不同，网关暂时不可达时保持 processing，等下一轮补偿
func (s *ReconcileService) Resume(ctx context.Context, req *model.RechargeRequest) (*Result, error) {
	if req.Status != model.RechargeStatusProcessing {
		return nil, fmt.Errorf("%w: 充值单状态为 %s", ErrValidation, req.Status)
	}
	paymentID := req.PaymentID()
	if paymentID == "" {
		return nil, fmt.Errorf("%w: 充值单缺少支付单号", ErrValidation)
	}

	// 上一次可能已经入账，只是没来得及改状态
	existing, err := s.ledger.FindCompleted(ctx, model.ReferenceTypeGatewayPayment, paymentID)
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues(metrics.PathSweep, metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("%w: 查询流水失败: %v", ErrPersistence, err)
	}
	if existing != nil {
		if err := s.complete(ctx, req); err != nil {
			metrics.ReconcileTotal.WithLabelValues(metrics.PathSweep, metrics.OutcomeError).Inc()
			return nil, err
		}
		s.logger.Info("补偿完成：已入账但状态未更新", "recharge_request_id", req.ID, "gateway_payment_id", paymentID)
		metrics.ReconcileTotal.WithLabelValues(metrics.PathSweep, metrics.OutcomeAlreadyProcessed).Inc()
		return s.resultFor(ctx, req, model.RechargeStatusCompleted, true)
	}

	result, err := s.settle(ctx, req, false)
	s.observe(metrics.PathSweep, result, err)
	return result, err
}

func (s *ReconcileService) reconcile(ctx context.Context, path string, req *model.RechargeRequest, paymentID, sig string) (*Result, error) {
	claimed, err := s.store.Claim(ctx, req.ID, paymentID, sig)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentAlreadyBound) {
			metrics.ReconcileTotal.WithLabelValues(path, metrics.OutcomeRejected).Inc()
			s.logger.Warn("支付单已绑定其他充值单", "recharge_request_id", req.ID, "gateway_payment_id", paymentID)
			return nil, fmt.Errorf("%w: 支付单已绑定其他充值单", ErrValidation)
		}
		metrics.ReconcileTotal.WithLabelValues(path, metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("%w: 认领充值单失败: %v", ErrPersistence, err)
	}
	if !claimed {
		return s.alreadyClaimed(ctx, path, req.ID, paymentID)
	}

	s.logger.Info("充值单认领成功", "path", path, "recharge_request_id", req.ID, "gateway_payment_id", paymentID)

	req.Status = model.RechargeStatusProcessing
	req.GatewayPaymentID = &paymentID
	req.GatewaySignature = sig

	result, err := s.settle(ctx, req, true)
	s.observe(path, result, err)
	return result, err
}

// alreadyClaimed 认领失败，说明另一条路径先到了
func (s *ReconcileService) alreadyClaimed(ctx context.Context, path, id, paymentID string) (*Result, error) {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues(path, metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("%w: 查询充值单失败: %v", ErrPersistence, err)
	}

	switch current.Status {
	case model.RechargeStatusProcessing, model.RechargeStatusCompleted:
		if current.PaymentID() != paymentID {
			s.logger.Warn("充值单已被其他支付单认领",
				"recharge_request_id", id, "claimed_payment_id", current.PaymentID(), "gateway_payment_id", paymentID)
		}
		metrics.ReconcileTotal.WithLabelValues(path, metrics.OutcomeAlreadyProcessed).Inc()
		return s.resultFor(ctx, current, current.Status, true)
	case model.RechargeStatusFailed, model.RechargeStatusCancelled:
		metrics.ReconcileTotal.WithLabelValues(path, metrics.OutcomeRejected).Inc()
		return nil, fmt.Errorf("%w: 当前状态 %s", ErrRequestClosed, current.Status)
	default:
		metrics.ReconcileTotal.WithLabelValues(path, metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("%w: 认领冲突，请重试", ErrPersistence)
	}
}

// settle 查单 -> 入账 -> 完成
func (s *ReconcileService) settle(ctx context.Context, req *model.RechargeRequest, failOnGatewayError bool) (*Result, error) {
	paymentID := req.PaymentID()

	gwCtx, cancel := withTimeout(ctx, s.cfg.GatewayTimeout)
	payment, err := s.gateway.FetchPayment(gwCtx, paymentID)
	cancel()
	if err != nil {
		if !failOnGatewayError {
			s.logger.Warn("查询支付单失败，保持 processing", "recharge_request_id", req.ID, "error", err)
			return nil, fmt.Errorf("%w: %v", ErrGateway, err)
		}
		if ferr := s.fail(ctx, req, "查询支付单失败", err); ferr != nil {
			return nil, ferr
		}
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	if !payment.Captured() {
		if ferr := s.fail(ctx, req, "支付未成功", fmt.Errorf("gateway status %s", payment.Status)); ferr != nil {
			return nil, ferr
		}
		return nil, fmt.Errorf("%w: 网关状态 %s", ErrPaymentNotCaptured, payment.Status)
	}
	if payment.OrderID != req.OrderID() {
		if ferr := s.fail(ctx, req, "支付单不属于该订单", fmt.Errorf("payment order %s", payment.OrderID)); ferr != nil {
			return nil, ferr
		}
		return nil, fmt.Errorf("%w: 支付单不属于该订单", ErrValidation)
	}
	if payment.AmountMinor != gateway.ToMinorUnits(req.Amount) {
		if ferr := s.fail(ctx, req, "支付金额与充值单不一致", fmt.Errorf("paid %d", payment.AmountMinor)); ferr != nil {
			return nil, ferr
		}
		return nil, fmt.Errorf("%w: 实付 %s", ErrAmountMismatch, gateway.FromMinorUnits(payment.AmountMinor).StringFixed(2))
	}

	ledgerCtx, cancel := withTimeout(ctx, s.cfg.LedgerTimeout)
	adj, err := s.creditAdjustment(req)
	if err != nil {
		cancel()
		return nil, err
	}
	applied, err := s.ledger.Apply(ledgerCtx, adj)
	cancel()
	if err != nil {
		// 保持 processing，由补偿任务重试
		s.logger.Error("入账失败，等待补偿", "recharge_request_id", req.ID, "gateway_payment_id", paymentID, "error", err)
		return nil, fmt.Errorf("%w: 入账失败: %v", ErrPersistence, err)
	}

	if err := s.complete(ctx, req); err != nil {
		return nil, err
	}

	if !applied.Applied {
		s.logger.Info("支付单已入账，跳过重复入账", "recharge_request_id", req.ID, "gateway_payment_id", paymentID)
		return s.resultFor(ctx, req, model.RechargeStatusCompleted, true)
	}

	metrics.CreditedAmount.Add(req.Amount.InexactFloat64())
	s.logger.Info("充值入账成功",
		"recharge_request_id", req.ID, "owner_id", req.OwnerID, "amount", req.Amount.StringFixed(2),
		"gateway_payment_id", paymentID, "balance", applied.Transaction.BalanceAfter.StringFixed(2))

	return &Result{
		RechargeRequestID: req.ID,
		OrderID:           req.OrderID(),
		PaymentID:         paymentID,
		Status:            model.RechargeStatusCompleted,
		NewBalance:        applied.Transaction.BalanceAfter,
	}, nil
}

func (s *ReconcileService) creditAdjustment(req *model.RechargeRequest) (*repository.Adjustment, error) {
	adj := &repository.Adjustment{
		OwnerID:       req.OwnerID,
		Type:          model.TransactionTypeCredit,
		Amount:        req.Amount,
		ReferenceType: model.ReferenceTypeGatewayPayment,
		ReferenceID:   req.PaymentID(),
		Remark:        "钱包充值 " + req.ID,
	}
	if s.cfg.EventTopic == "" {
		return adj, nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"recharge_request_id": req.ID,
		"owner_id":            req.OwnerID,
		"amount":              req.Amount.StringFixed(2),
		"gateway_order_id":    req.OrderID(),
		"gateway_payment_id":  req.PaymentID(),
		"status":              model.RechargeStatusCompleted,
		"completed_at":        time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("序列化充值事件失败: %w", err)
	}
	adj.Event = &model.OutboxMessage{
		MessageKey: req.ID,
		Topic:      s.cfg.EventTopic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	return adj, nil
}

func (s *ReconcileService) complete(ctx context.Context, req *model.RechargeRequest) error {
	err := s.store.Complete(ctx, req.ID)
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrRechargeStatusConflict) {
		// 补偿任务和慢请求可能同时走到这里，对方已经完成即可
		current, getErr := s.store.GetByID(ctx, req.ID)
		if getErr == nil && current.Status == model.RechargeStatusCompleted {
			return nil
		}
	}
	s.logger.Error("已入账但更新充值单状态失败，等待补偿", "recharge_request_id", req.ID, "error", err)
	return fmt.Errorf("%w: 更新充值单状态失败: %v", ErrPersistence, err)
}

func (s *ReconcileService) fail(ctx context.Context, req *model.RechargeRequest, reason string, cause error) error {
	err := s.store.Fail(ctx, req.ID)
	if err == nil {
		s.logger.Warn("充值单标记为失败", "recharge_request_id", req.ID, "reason", reason, "cause", cause)
		return nil
	}
	if errors.Is(err, repository.ErrRechargeStatusConflict) {
		s.logger.Warn("充值单已不在 processing，跳过标记失败", "recharge_request_id", req.ID, "reason", reason)
		return nil
	}
	s.logger.Error("标记充值单失败状态出错", "recharge_request_id", req.ID, "reason", reason, "error", err)
	return fmt.Errorf("%w: 更新充值单状态失败: %v", ErrPersistence, err)
}

func (s *ReconcileService) resultFor(ctx context.Context, req *model.RechargeRequest, status string, already bool) (*Result, error) {
	balance := decimal.Zero
	wallet, err := s.ledger.GetWallet(ctx, req.OwnerID)
	switch {
	case err == nil:
		balance = wallet.Balance
	case errors.Is(err, repository.ErrWalletNotFound):
	default:
		return nil, fmt.Errorf("%w: 查询余额失败: %v", ErrPersistence, err)
	}
	return &Result{
		RechargeRequestID: req.ID,
		OrderID:           req.OrderID(),
		PaymentID:         req.PaymentID(),
		Status:            status,
		NewBalance:        balance,
		AlreadyProcessed:  already,
	}, nil
}

func (s *ReconcileService) lookupError(path string, err error) error {
	if errors.Is(err, repository.ErrRechargeNotFound) {
		metrics.ReconcileTotal.WithLabelValues(path, metrics.OutcomeRejected).Inc()
		return ErrNotFound
	}
	metrics.ReconcileTotal.WithLabelValues(path, metrics.OutcomeError).Inc()
	return fmt.Errorf("%w: 查询充值单失败: %v", ErrPersistence, err)
}

func (s *ReconcileService) observe(path string, result *Result, err error) {
	var outcome string
	switch {
	case err == nil && result.AlreadyProcessed:
		outcome = metrics.OutcomeAlreadyProcessed
	case err == nil:
		outcome = metrics.OutcomeCredited
	case errors.Is(err, ErrPersistence):
		outcome = metrics.OutcomeError
	default:
		outcome = metrics.OutcomeFailed
	}
	metrics.ReconcileTotal.WithLabelValues(path, outcome).Inc()
}
