package service_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"walletrecharge/internal/gateway"
	"walletrecharge/internal/model"
	"walletrecharge/internal/service"
	"walletrecharge/internal/signature"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExactlyOnceUnderConcurrentConfirmAndWebhook(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")
	f.setPayment("pay_1", "order_1", "500.00", gateway.PaymentStatusCaptured)
	f.gw.FetchDelay = 5 * time.Millisecond

	const calls = 32
	body, hookSig := webhookPayload(t, service.EventPaymentCaptured, "order_1", "pay_1", "500.00")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited int
		errs     []error
	)
	start := make(chan struct{})
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start

			var (
				res *service.Result
				err error
			)
			if i%2 == 0 {
				res, err = f.reconcile.Confirm(context.Background(), confirmRequest("RCH-1", "order_1", "pay_1"))
			} else {
				var wr *service.WebhookResult
				wr, err = f.reconcile.HandleWebhook(context.Background(), body, hookSig)
				if wr != nil {
					res = wr.Result
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if !res.AlreadyProcessed {
				credited++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, credited, "exactly one call performs the credit")
	assert.True(t, dec("500.00").Equal(f.ledger.Balance(ownerID)), "balance %s", f.ledger.Balance(ownerID))
	assert.Equal(t, 1, f.ledger.CompletedCount(model.ReferenceTypeGatewayPayment, "pay_1"))
	assert.True(t, f.ledger.Balance(ownerID).Equal(f.ledger.SumCompleted(ownerID)))
	assert.Equal(t, model.RechargeStatusCompleted, f.status(t, "RCH-1"))
	assert.Len(t, f.ledger.Events, 1)
}

func TestConfirmReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")
	f.setPayment("pay_1", "order_1", "500.00", gateway.PaymentStatusCaptured)

	first, err := f.reconcile.Confirm(context.Background(), confirmRequest("RCH-1", "order_1", "pay_1"))
	require.NoError(t, err)
	assert.False(t, first.AlreadyProcessed)
	assert.True(t, dec("500.00").Equal(first.NewBalance))
	assert.Equal(t, "pay_1", first.PaymentID)
	assert.Equal(t, "order_1", first.OrderID)

	second, err := f.reconcile.Confirm(context.Background(), confirmRequest("RCH-1", "order_1", "pay_1"))
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)
	assert.True(t, dec("500.00").Equal(second.NewBalance))

	assert.True(t, dec("500.00").Equal(f.ledger.Balance(ownerID)))
	assert.Equal(t, 1, f.ledger.CompletedCount(model.ReferenceTypeGatewayPayment, "pay_1"))

	req, err := f.store.GetByID(context.Background(), "RCH-1")
	require.NoError(t, err)
	assert.NotNil(t, req.CompletedAt)
	assert.Equal(t, "pay_1", req.PaymentID())
	assert.NotEmpty(t, req.GatewaySignature)
}

func TestConfirmRejectsSignatureOverAnotherPayment(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")
	f.setPayment("pay_1", "order_1", "500.00", gateway.PaymentStatusCaptured)

	in := confirmRequest("RCH-1", "order_1", "pay_1")
	in.GatewaySignature = signature.Sign(signature.PaymentMessage("order_1", "pay_other"), keySecret)

	_, err := f.reconcile.Confirm(context.Background(), in)
	require.ErrorIs(t, err, service.ErrSignatureMismatch)

	req, err := f.store.GetByID(context.Background(), "RCH-1")
	require.NoError(t, err)
	assert.Equal(t, model.RechargeStatusPaymentInitiated, req.Status)
	assert.Nil(t, req.GatewayPaymentID)
	assert.Empty(t, req.GatewaySignature)
	assert.True(t, f.ledger.Balance(ownerID).IsZero())
	assert.Equal(t, 0, f.ledger.CompletedCount(model.ReferenceTypeGatewayPayment, "pay_1"))
}

func TestNonCapturedPaymentFailsRequest(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")
	f.setPayment("pay_1", "order_1", "500.00", gateway.PaymentStatusFailed)

	_, err := f.reconcile.Confirm(context.Background(), confirmRequest("RCH-1", "order_1", "pay_1"))
	require.ErrorIs(t, err, service.ErrPaymentNotCaptured)

	assert.Equal(t, model.RechargeStatusFailed, f.status(t, "RCH-1"))
	assert.True(t, f.ledger.Balance(ownerID).IsZero())

	// 失败是终态，后续回调不能再入账
	f.setPayment("pay_1", "order_1", "500.00", gateway.PaymentStatusCaptured)
	body, sig := webhookPayload(t, service.EventPaymentCaptured, "order_1", "pay_1", "500.00")
	_, err = f.reconcile.HandleWebhook(context.Background(), body, sig)
	require.ErrorIs(t, err, service.ErrRequestClosed)
	assert.ErrorIs(t, err, service.ErrValidation)
	assert.True(t, f.ledger.Balance(ownerID).IsZero())
}

func TestGatewayFetchFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")
	f.gw.FetchPaymentErr = fmt.Errorf("%w: connection reset", gateway.ErrUnavailable)

	_, err := f.reconcile.Confirm(context.Background(), confirmRequest("RCH-1", "order_1", "pay_1"))
	require.ErrorIs(t, err, service.ErrGateway)
	assert.Equal(t, model.RechargeStatusFailed, f.status(t, "RCH-1"))
	assert.True(t, f.ledger.Balance(ownerID).IsZero())
}

func TestPaidAmountMismatchMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")
	f.setPayment("pay_1", "order_1", "5.00", gateway.PaymentStatusCaptured)

	_, err := f.reconcile.Confirm(context.Background(), confirmRequest("RCH-1", "order_1", "pay_1"))
	require.ErrorIs(t, err, service.ErrAmountMismatch)
	assert.Equal(t, model.RechargeStatusFailed, f.status(t, "RCH-1"))
	assert.True(t, f.ledger.Balance(ownerID).IsZero())
}

func TestPaymentForAnotherOrderMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")
	f.setPayment("pay_1", "order_other", "500.00", gateway.PaymentStatusCaptured)

	_, err := f.reconcile.Confirm(context.Background(), confirmRequest("RCH-1", "order_1", "pay_1"))
	require.ErrorIs(t, err, service.ErrValidation)
	assert.Equal(t, model.RechargeStatusFailed, f.status(t, "RCH-1"))
}

func TestConfirmScopedToOwnerAndOrder(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")

	in := confirmRequest("RCH-1", "order_1", "pay_1")
	in.OwnerID = "someone-else"
	_, err := f.reconcile.Confirm(context.Background(), in)
	require.ErrorIs(t, err, service.ErrNotFound)

	_, err = f.reconcile.Confirm(context.Background(), confirmRequest("RCH-1", "order_2", "pay_1"))
	require.ErrorIs(t, err, service.ErrValidation)

	_, err = f.reconcile.Confirm(context.Background(), confirmRequest("RCH-missing", "order_1", "pay_1"))
	require.ErrorIs(t, err, service.ErrNotFound)

	in = confirmRequest("RCH-1", "order_1", "pay_1")
	in.OwnerID = ""
	_, err = f.reconcile.Confirm(context.Background(), in)
	require.ErrorIs(t, err, service.ErrAuthentication)

	assert.Equal(t, model.RechargeStatusPaymentInitiated, f.status(t, "RCH-1"))
}

func TestPaymentCannotCompleteTwoRequests(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")
	f.seedInitiated("RCH-2", "500.00", "order_2")
	f.setPayment("pay_1", "order_1", "500.00", gateway.PaymentStatusCaptured)

	_, err := f.reconcile.Confirm(context.Background(), confirmRequest("RCH-1", "order_1", "pay_1"))
	require.NoError(t, err)

	_, err = f.reconcile.Confirm(context.Background(), confirmRequest("RCH-2", "order_2", "pay_1"))
	require.ErrorIs(t, err, service.ErrValidation)
	assert.Equal(t, model.RechargeStatusPaymentInitiated, f.status(t, "RCH-2"))
	assert.True(t, dec("500.00").Equal(f.ledger.Balance(ownerID)))
}

func TestLazyWalletCreation(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")
	f.setPayment("pay_1", "order_1", "500.00", gateway.PaymentStatusCaptured)

	_, err := f.wallet.GetWallet(context.Background(), ownerID)
	require.NoError(t, err)
	_, err = f.ledger.GetWallet(context.Background(), ownerID)
	require.Error(t, err, "reading the balance must not create a wallet")

	res, err := f.reconcile.Confirm(context.Background(), confirmRequest("RCH-1", "order_1", "pay_1"))
	require.NoError(t, err)
	assert.True(t, dec("500.00").Equal(res.NewBalance))

	w, err := f.ledger.GetWallet(context.Background(), ownerID)
	require.NoError(t, err)
	assert.True(t, dec("500.00").Equal(w.Balance))

	txns, total, err := f.wallet.ListTransactions(context.Background(), ownerID, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.True(t, txns[0].BalanceBefore.IsZero())
	assert.True(t, dec("500.00").Equal(txns[0].BalanceAfter))
	assert.Equal(t, model.TransactionTypeCredit, txns[0].Type)
	assert.Equal(t, "pay_1", txns[0].ReferenceID)
}

func TestWebhookCreditsAndIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")
	f.setPayment("pay_1", "order_1", "500.00", gateway.PaymentStatusCaptured)

	body, sig := webhookPayload(t, "payment.failed", "order_1", "pay_1", "500.00")
	wr, err := f.reconcile.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.False(t, wr.Handled)
	assert.Equal(t, model.RechargeStatusPaymentInitiated, f.status(t, "RCH-1"))

	body, sig = webhookPayload(t, service.EventPaymentCaptured, "order_1", "pay_1", "500.00")
	wr, err = f.reconcile.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, wr.Handled)
	assert.False(t, wr.Result.AlreadyProcessed)

	// 网关重试同一个事件
	wr, err = f.reconcile.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, wr.Result.AlreadyProcessed)
	assert.True(t, dec("500.00").Equal(f.ledger.Balance(ownerID)))
}

func TestWebhookRejectsBadSignatureWithoutTouchingState(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")
	f.setPayment("pay_1", "order_1", "500.00", gateway.PaymentStatusCaptured)

	body, _ := webhookPayload(t, service.EventPaymentCaptured, "order_1", "pay_1", "500.00")
	// 用同步确认的密钥签名，webhook 必须拒绝
	_, err := f.reconcile.HandleWebhook(context.Background(), body, signature.Sign(body, keySecret))
	require.ErrorIs(t, err, service.ErrSignatureMismatch)

	assert.Equal(t, model.RechargeStatusPaymentInitiated, f.status(t, "RCH-1"))
	assert.True(t, f.ledger.Balance(ownerID).IsZero())
}

func TestWebhookUnknownOrderAndMalformedBody(t *testing.T) {
	f := newFixture(t)

	body, sig := webhookPayload(t, service.EventPaymentCaptured, "order_unknown", "pay_1", "500.00")
	_, err := f.reconcile.HandleWebhook(context.Background(), body, sig)
	require.ErrorIs(t, err, service.ErrNotFound)

	garbage := []byte("not json")
	_, err = f.reconcile.HandleWebhook(context.Background(), garbage, signature.Sign(garbage, hookSecret))
	require.ErrorIs(t, err, service.ErrMalformedEvent)
	require.ErrorIs(t, err, service.ErrValidation)

	missing, sig := webhookPayload(t, service.EventPaymentCaptured, "", "pay_1", "500.00")
	_, err = f.reconcile.HandleWebhook(context.Background(), missing, sig)
	require.ErrorIs(t, err, service.ErrMalformedEvent)
}

func TestWebhookBindsOrderLostAfterCreateIntent(t *testing.T) {
	f := newFixture(t)
	f.seedPending("RCH-1", "1000.00")

	// 网关已下单，本地保存订单号失败
	f.store.InitiateErr = errors.New("too many connections")
	_, err := f.intent.CreateIntent(context.Background(), &service.IntentRequest{
		OwnerID:           ownerID,
		Amount:            dec("1000.00"),
		RechargeRequestID: "RCH-1",
	})
	require.ErrorIs(t, err, service.ErrPersistence)
	require.Equal(t, model.RechargeStatusPending, f.status(t, "RCH-1"))
	f.store.InitiateErr = nil

	f.setPayment("pay_1", "order_1", "1000.00", gateway.PaymentStatusCaptured)
	body, sig := webhookPayloadWithNotes(t, service.EventPaymentCaptured, "order_1", "pay_1", "1000.00",
		map[string]string{gateway.NoteRechargeRequestID: "RCH-1", gateway.NoteOwnerID: ownerID})

	res, err := f.reconcile.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	require.True(t, res.Handled)
	assert.Equal(t, model.RechargeStatusCompleted, res.Result.Status)
	assert.True(t, dec("1000.00").Equal(f.ledger.Balance(ownerID)))

	req, err := f.store.GetByID(context.Background(), "RCH-1")
	require.NoError(t, err)
	assert.Equal(t, "order_1", req.OrderID())

	// 重复推送走正常的订单号查找
	res, err = f.reconcile.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, res.Result.AlreadyProcessed)
	assert.True(t, dec("1000.00").Equal(f.ledger.Balance(ownerID)))
}

func TestWebhookNotesFallbackGuards(t *testing.T) {
	f := newFixture(t)
	f.setPayment("pay_9", "order_9", "10.00", gateway.PaymentStatusCaptured)
	deliver := func(notes map[string]string) error {
		body, sig := webhookPayloadWithNotes(t, service.EventPaymentCaptured, "order_9", "pay_9", "10.00", notes)
		_, err := f.reconcile.HandleWebhook(context.Background(), body, sig)
		return err
	}

	// 其他用户的充值单
	f.seedPending("RCH-1", "10.00")
	err := deliver(map[string]string{gateway.NoteRechargeRequestID: "RCH-1", gateway.NoteOwnerID: "someone-else"})
	require.ErrorIs(t, err, service.ErrNotFound)
	assert.Equal(t, model.RechargeStatusPending, f.status(t, "RCH-1"))

	// 超时取消的充值单不会被重新打开
	f.store.Put(&model.RechargeRequest{
		ID: "RCH-2", OwnerID: ownerID, Amount: dec("10.00"), Status: model.RechargeStatusCancelled,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	})
	err = deliver(map[string]string{gateway.NoteRechargeRequestID: "RCH-2"})
	require.ErrorIs(t, err, service.ErrRequestClosed)
	assert.Equal(t, model.RechargeStatusCancelled, f.status(t, "RCH-2"))

	// 已绑定其他网关订单
	f.seedInitiated("RCH-3", "10.00", "order_other")
	err = deliver(map[string]string{gateway.NoteRechargeRequestID: "RCH-3"})
	require.ErrorIs(t, err, service.ErrValidation)
	assert.NotErrorIs(t, err, service.ErrRequestClosed)
	assert.Equal(t, model.RechargeStatusPaymentInitiated, f.status(t, "RCH-3"))

	assert.True(t, f.ledger.Balance(ownerID).IsZero())
}

func TestResumeAfterLedgerFailure(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")
	f.setPayment("pay_1", "order_1", "500.00", gateway.PaymentStatusCaptured)
	f.ledger.ApplyErr = errors.New("lock wait timeout exceeded")

	_, err := f.reconcile.Confirm(context.Background(), confirmRequest("RCH-1", "order_1", "pay_1"))
	require.ErrorIs(t, err, service.ErrPersistence)
	assert.Equal(t, model.RechargeStatusProcessing, f.status(t, "RCH-1"))

	// 重复调用不会再次认领
	res, err := f.reconcile.Confirm(context.Background(), confirmRequest("RCH-1", "order_1", "pay_1"))
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.Equal(t, model.RechargeStatusProcessing, res.Status)
	assert.True(t, f.ledger.Balance(ownerID).IsZero())

	f.ledger.ApplyErr = nil
	req, err := f.store.GetByID(context.Background(), "RCH-1")
	require.NoError(t, err)

	res, err = f.reconcile.Resume(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.AlreadyProcessed)
	assert.True(t, dec("500.00").Equal(res.NewBalance))
	assert.Equal(t, model.RechargeStatusCompleted, f.status(t, "RCH-1"))
}

func TestResumeAfterCompletionFailureDoesNotCreditTwice(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")
	f.setPayment("pay_1", "order_1", "500.00", gateway.PaymentStatusCaptured)
	f.store.CompleteErr = errors.New("server has gone away")

	_, err := f.reconcile.Confirm(context.Background(), confirmRequest("RCH-1", "order_1", "pay_1"))
	require.ErrorIs(t, err, service.ErrPersistence)
	assert.Equal(t, model.RechargeStatusProcessing, f.status(t, "RCH-1"))
	assert.True(t, dec("500.00").Equal(f.ledger.Balance(ownerID)))

	f.store.CompleteErr = nil
	// 补偿时网关不可达也不影响：流水已经存在，直接完成
	f.gw.FetchPaymentErr = gateway.ErrUnavailable
	req, err := f.store.GetByID(context.Background(), "RCH-1")
	require.NoError(t, err)

	res, err := f.reconcile.Resume(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.Equal(t, model.RechargeStatusCompleted, f.status(t, "RCH-1"))
	assert.True(t, dec("500.00").Equal(f.ledger.Balance(ownerID)))
	assert.Equal(t, 1, f.ledger.CompletedCount(model.ReferenceTypeGatewayPayment, "pay_1"))
}

func TestResumeKeepsProcessingWhenGatewayUnavailable(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")
	f.setPayment("pay_1", "order_1", "500.00", gateway.PaymentStatusCaptured)
	f.ledger.ApplyErr = errors.New("deadlock")

	_, err := f.reconcile.Confirm(context.Background(), confirmRequest("RCH-1", "order_1", "pay_1"))
	require.ErrorIs(t, err, service.ErrPersistence)

	f.ledger.ApplyErr = nil
	f.gw.FetchPaymentErr = gateway.ErrUnavailable
	req, err := f.store.GetByID(context.Background(), "RCH-1")
	require.NoError(t, err)

	_, err = f.reconcile.Resume(context.Background(), req)
	require.ErrorIs(t, err, service.ErrGateway)
	assert.Equal(t, model.RechargeStatusProcessing, f.status(t, "RCH-1"))
}

func TestResumeRejectsRequestsNotProcessing(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")
	req, err := f.store.GetByID(context.Background(), "RCH-1")
	require.NoError(t, err)

	_, err = f.reconcile.Resume(context.Background(), req)
	require.ErrorIs(t, err, service.ErrValidation)
	assert.Equal(t, model.RechargeStatusPaymentInitiated, f.status(t, "RCH-1"))
}

func TestCompletionEventWrittenWithCredit(t *testing.T) {
	f := newFixture(t)
	f.seedInitiated("RCH-1", "500.00", "order_1")
	f.setPayment("pay_1", "order_1", "500.00", gateway.PaymentStatusCaptured)

	_, err := f.reconcile.Confirm(context.Background(), confirmRequest("RCH-1", "order_1", "pay_1"))
	require.NoError(t, err)

	require.Len(t, f.ledger.Events, 1)
	evt := f.ledger.Events[0]
	assert.Equal(t, eventTopic, evt.Topic)
	assert.Equal(t, "RCH-1", evt.MessageKey)
	assert.Contains(t, evt.Payload, `"gateway_payment_id":"pay_1"`)
	assert.Contains(t, evt.Payload, `"amount":"500.00"`)
}

// 随机顺序执行各种调用，状态只能前进，completed 之后不再变化，余额最多入账一次
func TestStatusIsMonotonicUnderRandomOrderings(t *testing.T) {
	rank := map[string]int{
		model.RechargeStatusPending:          0,
		model.RechargeStatusPaymentInitiated: 1,
		model.RechargeStatusProcessing:       2,
		model.RechargeStatusCompleted:        3,
		model.RechargeStatusFailed:           3,
		model.RechargeStatusCancelled:        3,
	}

	for seed := int64(0); seed < 200; seed++ {
		rng := rand.New(rand.NewSource(seed))
		f := newFixture(t)
		f.seedPending("RCH-1", "500.00")
		ctx := context.Background()

		ops := []func(){
			func() {
				_ = f.store.MarkPaymentInitiated(ctx, "RCH-1", "order_1")
			},
			func() {
				_, _ = f.reconcile.Confirm(ctx, confirmRequest("RCH-1", "order_1", "pay_1"))
			},
			func() {
				body, sig := webhookPayload(t, service.EventPaymentCaptured, "order_1", "pay_1", "500.00")
				_, _ = f.reconcile.HandleWebhook(ctx, body, sig)
			},
			func() {
				if req, err := f.store.GetByID(ctx, "RCH-1"); err == nil {
					_, _ = f.reconcile.Resume(ctx, req)
				}
			},
			func() { _ = f.store.Fail(ctx, "RCH-1") },
			func() { _ = f.store.Cancel(ctx, "RCH-1") },
			func() { _, _ = f.store.Claim(ctx, "RCH-1", "pay_other", "sig") },
			func() {
				status := gateway.PaymentStatusCaptured
				if rng.Intn(4) == 0 {
					status = gateway.PaymentStatusFailed
				}
				f.setPayment("pay_1", "order_1", "500.00", status)
			},
			func() {
				if rng.Intn(2) == 0 {
					f.ledger.ApplyErr = errors.New("transient")
				} else {
					f.ledger.ApplyErr = nil
				}
			},
		}

		prev := model.RechargeStatusPending
		for step := 0; step < 30; step++ {
			ops[rng.Intn(len(ops))]()

			cur := f.status(t, "RCH-1")
			require.GreaterOrEqual(t, rank[cur], rank[prev], "seed %d step %d: %s -> %s", seed, step, prev, cur)
			if model.IsTerminal(prev) {
				require.Equal(t, prev, cur, "seed %d step %d: terminal status changed", seed, step)
			}
			prev = cur

			bal := f.ledger.Balance(ownerID)
			require.True(t, bal.LessThanOrEqual(dec("500.00")), "seed %d: balance %s", seed, bal)
			require.LessOrEqual(t, f.ledger.CompletedCount(model.ReferenceTypeGatewayPayment, "pay_1"), 1)
			require.True(t, bal.Equal(f.ledger.SumCompleted(ownerID)))
			if cur == model.RechargeStatusCompleted {
				require.True(t, bal.Equal(decimal.RequireFromString("500.00")), "seed %d: completed without credit", seed)
			}
		}
	}
}
