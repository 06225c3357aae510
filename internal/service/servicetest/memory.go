// Package servicetest 提供内存版的充值单存储、账本和网关，供各包测试使用。
// 内存实现用一把互斥锁模拟数据库的 CAS 和事务原子性。
package servicetest

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"walletrecharge/internal/gateway"
	"walletrecharge/internal/model"
	"walletrecharge/internal/repository"
	"walletrecharge/pkg/idgen"

	"github.com/shopspring/decimal"
)

// RechargeStore 内存充值单存储
type RechargeStore struct {
	mu       sync.Mutex
	requests map[string]*model.RechargeRequest

	// 注入错误，非 nil 时对应方法直接返回该错误
	ClaimErr    error
	CompleteErr error
	InitiateErr error
}

func NewRechargeStore() *RechargeStore {
	return &RechargeStore{requests: make(map[string]*model.RechargeRequest)}
}

func clone(r *model.RechargeRequest) *model.RechargeRequest {
	c := *r
	if r.GatewayOrderID != nil {
		v := *r.GatewayOrderID
		c.GatewayOrderID = &v
	}
	if r.GatewayPaymentID != nil {
		v := *r.GatewayPaymentID
		c.GatewayPaymentID = &v
	}
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

func (s *RechargeStore) Create(_ context.Context, req *model.RechargeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	s.requests[req.ID] = clone(req)
	return nil
}

// Put 直接写入任意状态的充值单
func (s *RechargeStore) Put(req *model.RechargeRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = clone(req)
}

func (s *RechargeStore) GetByID(_ context.Context, id string) (*model.RechargeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, repository.ErrRechargeNotFound
	}
	return clone(r), nil
}

func (s *RechargeStore) GetByGatewayOrderID(_ context.Context, orderID string) (*model.RechargeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.OrderID() == orderID {
			return clone(r), nil
		}
	}
	return nil, repository.ErrRechargeNotFound
}

func (s *RechargeStore) ListByOwner(_ context.Context, ownerID string, page, pageSize int) ([]*model.RechargeRequest, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*model.RechargeRequest
	for _, r := range s.requests {
		if r.OwnerID == ownerID {
			all = append(all, clone(r))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, page, pageSize), int64(len(all)), nil
}

func (s *RechargeStore) MarkPaymentInitiated(_ context.Context, id, gatewayOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InitiateErr != nil {
		return s.InitiateErr
	}
	r, ok := s.requests[id]
	if !ok || r.Status != model.RechargeStatusPending || r.GatewayOrderID != nil {
		return repository.ErrRechargeStatusConflict
	}
	r.Status = model.RechargeStatusPaymentInitiated
	r.GatewayOrderID = &gatewayOrderID
	r.UpdatedAt = time.Now()
	return nil
}

func (s *RechargeStore) Claim(_ context.Context, id, paymentID, sig string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ClaimErr != nil {
		return false, s.ClaimErr
	}
	r, ok := s.requests[id]
	if !ok {
		return false, nil
	}
	if r.Status != model.RechargeStatusPending && r.Status != model.RechargeStatusPaymentInitiated {
		return false, nil
	}
	for otherID, other := range s.requests {
		if otherID != id && other.PaymentID() == paymentID {
			return false, repository.ErrPaymentAlreadyBound
		}
	}
	r.Status = model.RechargeStatusProcessing
	r.GatewayPaymentID = &paymentID
	r.GatewaySignature = sig
	r.UpdatedAt = time.Now()
	return true, nil
}

func (s *RechargeStore) Complete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CompleteErr != nil {
		return s.CompleteErr
	}
	now := time.Now()
	return s.transitionLocked(id, model.RechargeStatusProcessing, model.RechargeStatusCompleted, func(r *model.RechargeRequest) {
		r.CompletedAt = &now
	})
}

func (s *RechargeStore) Fail(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, model.RechargeStatusProcessing, model.RechargeStatusFailed, nil)
}

func (s *RechargeStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, model.RechargeStatusPending, model.RechargeStatusCancelled, nil)
}

func (s *RechargeStore) transitionLocked(id, from, to string, mutate func(*model.RechargeRequest)) error {
	if !model.CanTransitionTo(from, to) {
		return repository.ErrRechargeStatusConflict
	}
	r, ok := s.requests[id]
	if !ok || r.Status != from {
		return repository.ErrRechargeStatusConflict
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(r)
	}
	return nil
}

func (s *RechargeStore) ListStuckProcessing(_ context.Context, before time.Time, limit int) ([]*model.RechargeRequest, error) {
	return s.list(model.RechargeStatusProcessing, limit, func(r *model.RechargeRequest) bool {
		return r.UpdatedAt.Before(before)
	}), nil
}

func (s *RechargeStore) ListExpiredPending(_ context.Context, before time.Time, limit int) ([]*model.RechargeRequest, error) {
	return s.list(model.RechargeStatusPending, limit, func(r *model.RechargeRequest) bool {
		return r.CreatedAt.Before(before)
	}), nil
}

func (s *RechargeStore) list(status string, limit int, match func(*model.RechargeRequest) bool) []*model.RechargeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.RechargeRequest
	for _, r := range s.requests {
		if r.Status == status && match(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Backdate 把充值单的时间往前调，模拟超时
func (s *RechargeStore) Backdate(id string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.requests[id]; ok {
		r.CreatedAt = r.CreatedAt.Add(-d)
		r.UpdatedAt = r.UpdatedAt.Add(-d)
	}
}

// Ledger 内存账本，Apply 整体持锁，等价于数据库事务
type Ledger struct {
	mu           sync.Mutex
	wallets      map[string]*model.Wallet
	transactions []*model.Transaction
	Events       []*model.OutboxMessage

	// ApplyErr 非 nil 时 Apply 返回该错误且不做任何修改
	ApplyErr error
}

func NewLedger() *Ledger {
	return &Ledger{wallets: make(map[string]*model.Wallet)}
}

func (l *Ledger) Apply(_ context.Context, adj *repository.Adjustment) (*repository.AdjustResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ApplyErr != nil {
		return nil, l.ApplyErr
	}

	key := model.CompletedKeyFor(adj.ReferenceType, adj.ReferenceID)
	for _, t := range l.transactions {
		if t.CompletedKey != nil && *t.CompletedKey == key {
			c := *t
			return &repository.AdjustResult{Transaction: &c, Applied: false}, nil
		}
	}

	w, ok := l.wallets[adj.OwnerID]
	if !ok {
		if adj.Type == model.TransactionTypeDebit {
			return nil, repository.ErrWalletNotFound
		}
		w = &model.Wallet{OwnerID: adj.OwnerID, Balance: decimal.Zero}
	}

	before := w.Balance
	var after decimal.Decimal
	switch adj.Type {
	case model.TransactionTypeCredit:
		after = before.Add(adj.Amount)
	case model.TransactionTypeDebit:
		if before.LessThan(adj.Amount) {
			return nil, repository.ErrInsufficientBalance
		}
		after = before.Sub(adj.Amount)
	}

	w.Balance = after
	w.UpdatedAt = time.Now()
	l.wallets[adj.OwnerID] = w

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
		CreatedAt:     time.Now(),
	}
	l.transactions = append(l.transactions, txn)
	if adj.Event != nil {
		l.Events = append(l.Events, adj.Event)
	}
	c := *txn
	return &repository.AdjustResult{Transaction: &c, Applied: true}, nil
}

func (l *Ledger) FindCompleted(_ context.Context, referenceType, referenceID string) (*model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := model.CompletedKeyFor(referenceType, referenceID)
	for _, t := range l.transactions {
		if t.CompletedKey != nil && *t.CompletedKey == key {
			c := *t
			return &c, nil
		}
	}
	return nil, nil
}

func (l *Ledger) GetWallet(_ context.Context, ownerID string) (*model.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[ownerID]
	if !ok {
		return nil, repository.ErrWalletNotFound
	}
	c := *w
	return &c, nil
}

func (l *Ledger) ListTransactions(_ context.Context, ownerID string, page, pageSize int) ([]*model.Transaction, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var all []*model.Transaction
	for i := len(l.transactions) - 1; i >= 0; i-- {
		if t := l.transactions[i]; t.OwnerID == ownerID {
			c := *t
			all = append(all, &c)
		}
	}
	return paginate(all, page, pageSize), int64(len(all)), nil
}

// CompletedCount 某个幂等键下 completed 流水的条数
func (l *Ledger) CompletedCount(referenceType, referenceID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, t := range l.transactions {
		if t.Status == model.TransactionStatusCompleted && t.ReferenceType == referenceType && t.ReferenceID == referenceID {
			n++
		}
	}
	return n
}

// Balance 钱包余额，钱包不存在返回 0
func (l *Ledger) Balance(ownerID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.wallets[ownerID]; ok {
		return w.Balance
	}
	return decimal.Zero
}

// SumCompleted 按流水重新计算的余额，用于校验余额 == 流水之和
func (l *Ledger) SumCompleted(ownerID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	sum := decimal.Zero
	for _, t := range l.transactions {
		if t.OwnerID == ownerID && t.Status == model.TransactionStatusCompleted {
			sum = sum.Add(t.SignedAmount())
		}
	}
	return sum
}

// Gateway 假网关，支付单状态由测试预先设置
type Gateway struct {
	mu       sync.Mutex
	payments map[string]*gateway.Payment
	orders   []*gateway.CreateOrderRequest
	seq      int

	CreateOrderErr  error
	FetchPaymentErr error
	// FetchDelay 模拟网关慢响应，放大并发窗口
	FetchDelay time.Duration
}

func NewGateway() *Gateway {
	return &Gateway{payments: make(map[string]*gateway.Payment)}
}

func (g *Gateway) SetPayment(p *gateway.Payment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := *p
	g.payments[p.ID] = &c
}

func (g *Gateway) CreateOrder(ctx context.Context, req *gateway.CreateOrderRequest) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := *req
	g.orders = append(g.orders, &c)
	if g.CreateOrderErr != nil {
		return nil, g.CreateOrderErr
	}
	g.seq++
	return &gateway.Order{
		ID:          "order_" + strconv.Itoa(g.seq),
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Status:      "created",
	}, nil
}

func (g *Gateway) FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	if g.FetchDelay > 0 {
		select {
		case <-time.After(g.FetchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FetchPaymentErr != nil {
		return nil, g.FetchPaymentErr
	}
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, &gateway.Error{StatusCode: 400, Code: "BAD_REQUEST_ERROR", Description: "payment not found"}
	}
	c := *p
	return &c, nil
}

// CreateOrderCalls 网关下单次数（包括失败的调用）
func (g *Gateway) CreateOrderCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orders)
}

func paginate[T any](all []T, page, pageSize int) []T {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if pageSize <= 0 || start >= len(all) {
		return nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
