package job

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"walletrecharge/internal/gateway"
	"walletrecharge/internal/model"
	"walletrecharge/internal/repository"
	"walletrecharge/internal/service"
	"walletrecharge/internal/service/servicetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLock struct {
	mu       sync.Mutex
	held     bool
	err      error
	unlocked int
}

func (l *fakeLock) TryLock(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLock) Unlock(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.unlocked++
	return nil
}

func TestRunExclusive(t *testing.T) {
	ran := 0
	fn := func(context.Context) { ran++ }

	runExclusive(context.Background(), nil, discard(), fn)
	assert.Equal(t, 1, ran)

	l := &fakeLock{}
	runExclusive(context.Background(), l, discard(), fn)
	assert.Equal(t, 2, ran)
	assert.Equal(t, 1, l.unlocked)

	// 其他实例持有锁
	l.held = true
	runExclusive(context.Background(), l, discard(), fn)
	assert.Equal(t, 2, ran)

	l = &fakeLock{err: errors.New("redis down")}
	runExclusive(context.Background(), l, discard(), fn)
	assert.Equal(t, 2, ran)
}

type sweepFixture struct {
	store     *servicetest.RechargeStore
	ledger    *servicetest.Ledger
	gw        *servicetest.Gateway
	reconcile *service.ReconcileService
}

func newSweepFixture() *sweepFixture {
	f := &sweepFixture{
		store:  servicetest.NewRechargeStore(),
		ledger: servicetest.NewLedger(),
		gw:     servicetest.NewGateway(),
	}
	f.reconcile = service.NewReconcileService(f.store, f.ledger, f.gw, service.ReconcileConfig{
		KeySecret:      "key-secret",
		WebhookSecret:  "hook-secret",
		GatewayTimeout: time.Second,
		LedgerTimeout:  time.Second,
	}, discard())
	return f
}

func (f *sweepFixture) putProcessing(id, owner, amount string) {
	orderID := "order_" + id
	paymentID := "pay_" + id
	f.store.Put(&model.RechargeRequest{
		ID:               id,
		OwnerID:          owner,
		Amount:           decimal.RequireFromString(amount),
		Status:           model.RechargeStatusProcessing,
		GatewayOrderID:   &orderID,
		GatewayPaymentID: &paymentID,
		GatewaySignature: "sig",
		CreatedAt:        time.Now().Add(-time.Hour),
		UpdatedAt:        time.Now().Add(-time.Hour),
	})
	f.gw.SetPayment(&gateway.Payment{
		ID:          paymentID,
		OrderID:     orderID,
		AmountMinor: gateway.ToMinorUnits(decimal.RequireFromString(amount)),
		Status:      gateway.PaymentStatusCaptured,
	})
}

func creditFor(owner, amount, paymentID string) *repository.Adjustment {
	return &repository.Adjustment{
		OwnerID:       owner,
		Type:          model.TransactionTypeCredit,
		Amount:        decimal.RequireFromString(amount),
		ReferenceType: model.ReferenceTypeGatewayPayment,
		ReferenceID:   paymentID,
	}
}

func (f *sweepFixture) status(t *testing.T, id string) string {
	t.Helper()
	req, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return req.Status
}

func TestSweeperResumesStuckRequests(t *testing.T) {
	f := newSweepFixture()
	f.putProcessing("RCH-1", "merchant-1", "100.00")
	f.putProcessing("RCH-2", "merchant-2", "50.00")

	// RCH-2 之前已经入账，只是状态没改
	_, err := f.ledger.Apply(context.Background(), creditFor("merchant-2", "50.00", "pay_RCH-2"))
	require.NoError(t, err)

	sweeper := NewRechargeSweeper(f.store, f.reconcile, nil, 5*time.Minute, discard())
	assert.Equal(t, 2, sweeper.RunOnce(context.Background()))

	assert.Equal(t, model.RechargeStatusCompleted, f.status(t, "RCH-1"))
	assert.Equal(t, model.RechargeStatusCompleted, f.status(t, "RCH-2"))
	assert.True(t, decimal.RequireFromString("100.00").Equal(f.ledger.Balance("merchant-1")))
	assert.True(t, decimal.RequireFromString("50.00").Equal(f.ledger.Balance("merchant-2")))
	assert.Equal(t, 1, f.ledger.CompletedCount(model.ReferenceTypeGatewayPayment, "pay_RCH-2"))

	// 再跑一轮没有可处理的
	assert.Equal(t, 0, sweeper.RunOnce(context.Background()))
}

func TestSweeperSkipsFreshRequestsAndKeepsOnGatewayOutage(t *testing.T) {
	f := newSweepFixture()
	f.putProcessing("RCH-1", "merchant-1", "100.00")
	f.putProcessing("RCH-fresh", "merchant-1", "10.00")
	f.store.Backdate("RCH-fresh", -time.Hour) // 刚认领

	f.gw.FetchPaymentErr = gateway.ErrUnavailable
	sweeper := NewRechargeSweeper(f.store, f.reconcile, nil, 5*time.Minute, discard())
	assert.Equal(t, 0, sweeper.RunOnce(context.Background()))
	assert.Equal(t, model.RechargeStatusProcessing, f.status(t, "RCH-1"))
	assert.Equal(t, model.RechargeStatusProcessing, f.status(t, "RCH-fresh"))

	f.gw.FetchPaymentErr = nil
	assert.Equal(t, 1, sweeper.RunOnce(context.Background()))
	assert.Equal(t, model.RechargeStatusCompleted, f.status(t, "RCH-1"))
	assert.Equal(t, model.RechargeStatusProcessing, f.status(t, "RCH-fresh"))
}

func TestTimeoutJobCancelsOnlyPending(t *testing.T) {
	store := servicetest.NewRechargeStore()
	orderID := "order_1"
	now := time.Now()
	store.Put(&model.RechargeRequest{ID: "RCH-old", OwnerID: "m", Amount: decimal.NewFromInt(1), Status: model.RechargeStatusPending, CreatedAt: now.Add(-time.Hour)})
	store.Put(&model.RechargeRequest{ID: "RCH-new", OwnerID: "m", Amount: decimal.NewFromInt(1), Status: model.RechargeStatusPending, CreatedAt: now})
	store.Put(&model.RechargeRequest{ID: "RCH-paying", OwnerID: "m", Amount: decimal.NewFromInt(1), Status: model.RechargeStatusPaymentInitiated, GatewayOrderID: &orderID, CreatedAt: now.Add(-time.Hour)})

	j := NewRechargeTimeoutJob(store, nil, 30*time.Minute, discard())
	assert.Equal(t, 1, j.RunOnce(context.Background()))

	for id, want := range map[string]string{
		"RCH-old":    model.RechargeStatusCancelled,
		"RCH-new":    model.RechargeStatusPending,
		"RCH-paying": model.RechargeStatusPaymentInitiated,
	} {
		req, err := store.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, req.Status, id)
	}
}

type memOutbox struct {
	messages map[int64]*model.OutboxMessage
}

func newMemOutbox(msgs ...*model.OutboxMessage) *memOutbox {
	o := &memOutbox{messages: make(map[int64]*model.OutboxMessage)}
	for _, m := range msgs {
		o.messages[m.ID] = m
	}
	return o
}

func (o *memOutbox) GetPendingMessages(_ context.Context, limit int) ([]*model.OutboxMessage, error) {
	var out []*model.OutboxMessage
	for id := int64(1); id <= int64(len(o.messages)) && len(out) < limit; id++ {
		if m, ok := o.messages[id]; ok && m.Status == model.OutboxStatusPending {
			c := *m
			out = append(out, &c)
		}
	}
	return out, nil
}

func (o *memOutbox) MarkAsSent(_ context.Context, id int64) error {
	o.messages[id].Status = model.OutboxStatusSent
	return nil
}

func (o *memOutbox) IncrementRetryCount(_ context.Context, id int64) error {
	o.messages[id].RetryCount++
	return nil
}

func (o *memOutbox) MarkAsFailed(_ context.Context, id int64) error {
	o.messages[id].Status = model.OutboxStatusFailed
	o.messages[id].RetryCount++
	return nil
}

type fakePublisher struct {
	err  error
	sent []string
}

func (p *fakePublisher) Publish(topic, key, _ string) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, topic+"/"+key)
	return nil
}

func TestOutboxSenderDelivers(t *testing.T) {
	store := newMemOutbox(
		&model.OutboxMessage{ID: 1, Topic: "wallet.recharge.completed", MessageKey: "RCH-1", Payload: "{}", Status: model.OutboxStatusPending},
		&model.OutboxMessage{ID: 2, Topic: "wallet.recharge.completed", MessageKey: "RCH-2", Payload: "{}", Status: model.OutboxStatusSent},
	)
	pub := &fakePublisher{}
	s := NewOutboxSender(store, pub, nil, 3, discard())

	assert.Equal(t, 1, s.RunOnce(context.Background()))
	assert.Equal(t, []string{"wallet.recharge.completed/RCH-1"}, pub.sent)
	assert.Equal(t, model.OutboxStatusSent, store.messages[1].Status)
}

func TestOutboxSenderRetriesThenFails(t *testing.T) {
	store := newMemOutbox(&model.OutboxMessage{ID: 1, Topic: "t", MessageKey: "RCH-1", Status: model.OutboxStatusPending})
	pub := &fakePublisher{err: errors.New("broker unavailable")}
	s := NewOutboxSender(store, pub, nil, 3, discard())

	for i := 0; i < 2; i++ {
		assert.Equal(t, 0, s.RunOnce(context.Background()))
		assert.Equal(t, model.OutboxStatusPending, store.messages[1].Status)
	}
	assert.Equal(t, 2, store.messages[1].RetryCount)

	assert.Equal(t, 0, s.RunOnce(context.Background()))
	assert.Equal(t, model.OutboxStatusFailed, store.messages[1].Status)
	assert.Equal(t, 3, store.messages[1].RetryCount)

	// 失败的消息不再投递
	pub.err = nil
	assert.Equal(t, 0, s.RunOnce(context.Background()))
	assert.Empty(t, pub.sent)
}
