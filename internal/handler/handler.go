package handler

import (
	"errors"
	"net/http"
	"strconv"

	"walletrecharge/internal/auth"
	"walletrecharge/internal/model"
	"walletrecharge/internal/service"
	"walletrecharge/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// maxWebhookBodyBytes webhook 在验签之前读取请求体，必须限制大小
const maxWebhookBodyBytes = 1 << 20

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	intentService    *service.IntentService
	reconcileService *service.ReconcileService
	walletService    *service.WalletService
	signatureHeader  string
}

// NewHandler 创建处理器实例，signatureHeader 为网关 webhook 签名所在的请求头
func NewHandler(intent *service.IntentService, reconcile *service.ReconcileService, wallet *service.WalletService, signatureHeader string) *Handler {
	if signatureHeader == "" {
		signatureHeader = "X-Razorpay-Signature"
	}
	return &Handler{
		intentService:    intent,
		reconcileService: reconcile,
		walletService:    wallet,
		signatureHeader:  signatureHeader,
	}
}

// ============================================================
// 充值单
// ============================================================

type CreateRechargeRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// CreateRechargeRequest 创建充值单
// POST /api/v1/wallet/recharge/request
func (h *Handler) CreateRechargeRequest(c *gin.Context) {
	var req CreateRechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	recharge, err := h.intentService.CreateRequest(c.Request.Context(), auth.OwnerFromGin(c), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, rechargeView(recharge))
}

// ListRechargeRequests 查询充值单列表
// GET /api/v1/wallet/recharge/requests?page=1&page_size=20
func (h *Handler) ListRechargeRequests(c *gin.Context) {
	page, pageSize := pageParams(c)

	list, total, err := h.intentService.ListRequests(c.Request.Context(), auth.OwnerFromGin(c), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]gin.H, 0, len(list))
	for _, r := range list {
		views = append(views, rechargeView(r))
	}
	response.Page(c, views, total, page, pageSize)
}

// GetRechargeRequest 查询充值单详情
// GET /api/v1/wallet/recharge/requests/:id
func (h *Handler) GetRechargeRequest(c *gin.Context) {
	recharge, err := h.intentService.GetRequest(c.Request.Context(), auth.OwnerFromGin(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, rechargeView(recharge))
}

// ============================================================
// 网关下单 / 同步确认 / webhook
// ============================================================

type CreateOrderRequest struct {
	Amount            decimal.Decimal `json:"amount"`
	RechargeRequestID string          `json:"recharge_request_id" binding:"required"`
}

// CreateOrder 在网关创建订单，返回前端拉起收银台需要的参数
// POST /api/v1/wallet/recharge/order
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.intentService.CreateIntent(c.Request.Context(), &service.IntentRequest{
		OwnerID:           auth.OwnerFromGin(c),
		Amount:            req.Amount,
		RechargeRequestID: req.RechargeRequestID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

type VerifyRequest struct {
	RechargeRequestID string `json:"recharge_request_id"`
	GatewayOrderID    string `json:"gateway_order_id"`
	GatewayPaymentID  string `json:"gateway_payment_id"`
	GatewaySignature  string `json:"gateway_signature"`
}

// Verify 支付完成后前端同步确认
// POST /api/v1/wallet/recharge/verify
//
// 【关键点】和 webhook 可能同时到达，重复确认返回成功，但只入账一次
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.reconcileService.Confirm(c.Request.Context(), &service.ConfirmRequest{
		OwnerID:           auth.OwnerFromGin(c),
		RechargeRequestID: req.RechargeRequestID,
		GatewayOrderID:    req.GatewayOrderID,
		GatewayPaymentID:  req.GatewayPaymentID,
		GatewaySignature:  req.GatewaySignature,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, resultView(result))
}

// Webhook 网关异步回调，不走 JWT，靠 webhook 密钥验签
// POST /api/v1/wallet/recharge/webhook
//
// 验签必须基于原始请求体，不能先反序列化再序列化
func (h *Handler) Webhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodeParamError, "请求体过大")
			return
		}
		response.ParamError(c, "读取请求体失败")
		return
	}

	result, err := h.reconcileService.HandleWebhook(c.Request.Context(), body, c.GetHeader(h.signatureHeader))
	if err != nil {
		writeWebhookError(c, err)
		return
	}

	data := gin.H{
		"event":   result.Event,
		"handled": result.Handled,
	}
	if result.Result != nil {
		data["recharge_request_id"] = result.Result.RechargeRequestID
		data["status"] = result.Result.Status
		data["already_processed"] = result.Result.AlreadyProcessed
	}
	response.Success(c, data)
}

// ============================================================
// 钱包
// ============================================================

// GetBalance 查询钱包余额
// GET /api/v1/wallet/balance
func (h *Handler) GetBalance(c *gin.Context) {
	ownerID := auth.OwnerFromGin(c)
	wallet, err := h.walletService.GetWallet(c.Request.Context(), ownerID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"owner_id": ownerID,
		"balance":  wallet.Balance.StringFixed(2),
	})
}

// ListTransactions 查询钱包流水
// GET /api/v1/wallet/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, pageSize := pageParams(c)

	list, total, err := h.walletService.ListTransactions(c.Request.Context(), auth.OwnerFromGin(c), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]gin.H, 0, len(list))
	for _, t := range list {
		views = append(views, gin.H{
			"id":             t.ID,
			"type":           t.Type,
			"amount":         t.Amount.StringFixed(2),
			"balance_before": t.BalanceBefore.StringFixed(2),
			"balance_after":  t.BalanceAfter.StringFixed(2),
			"reference_type": t.ReferenceType,
			"reference_id":   t.ReferenceID,
			"status":         t.Status,
			"remark":         t.Remark,
			"created_at":     t.CreatedAt,
		})
	}
	response.Page(c, views, total, page, pageSize)
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func rechargeView(r *model.RechargeRequest) gin.H {
	view := gin.H{
		"id":               r.ID,
		"amount":           r.Amount.StringFixed(2),
		"status":           r.Status,
		"gateway_order_id": r.OrderID(),
		"created_at":       r.CreatedAt,
		"updated_at":       r.UpdatedAt,
	}
	if r.GatewayPaymentID != nil {
		view["gateway_payment_id"] = r.PaymentID()
	}
	if r.CompletedAt != nil {
		view["completed_at"] = r.CompletedAt
	}
	return view
}

func resultView(r *service.Result) gin.H {
	return gin.H{
		"recharge_request_id": r.RechargeRequestID,
		"order_id":            r.OrderID,
		"payment_id":          r.PaymentID,
		"status":              r.Status,
		"new_balance":         r.NewBalance.StringFixed(2),
		"already_processed":   r.AlreadyProcessed,
	}
}
