package service_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"walletrecharge/internal/gateway"
	"walletrecharge/internal/model"
	"walletrecharge/internal/service"
	"walletrecharge/internal/service/servicetest"
	"walletrecharge/internal/signature"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	keySecret  = "key-secret"
	hookSecret = "hook-secret"
	ownerID    = "merchant-1"
	eventTopic = "wallet.recharge.completed"
)

type fixture struct {
	store     *servicetest.RechargeStore
	ledger    *servicetest.Ledger
	gw        *servicetest.Gateway
	reconcile *service.ReconcileService
	intent    *service.IntentService
	wallet    *service.WalletService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  servicetest.NewRechargeStore(),
		ledger: servicetest.NewLedger(),
		gw:     servicetest.NewGateway(),
	}
	logger := discardLogger()
	f.reconcile = service.NewReconcileService(f.store, f.ledger, f.gw, service.ReconcileConfig{
		KeySecret:      keySecret,
		WebhookSecret:  hookSecret,
		GatewayTimeout: time.Second,
		LedgerTimeout:  time.Second,
		EventTopic:     eventTopic,
	}, logger)
	f.intent = service.NewIntentService(f.store, f.gw, service.IntentConfig{
		Currency:          "INR",
		GatewayKey:        "rzp_test_key",
		GatewayTimeout:    time.Second,
		MaxRechargeAmount: decimal.NewFromInt(500000),
	}, logger)
	f.wallet = service.NewWalletService(f.ledger, logger)
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func strPtr(s string) *string { return &s }

// seedInitiated 写入一个已在网关下单的充值单
func (f *fixture) seedInitiated(id, amount, orderID string) {
	f.store.Put(&model.RechargeRequest{
		ID:             id,
		OwnerID:        ownerID,
		Amount:         dec(amount),
		Status:         model.RechargeStatusPaymentInitiated,
		GatewayOrderID: strPtr(orderID),
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	})
}

func (f *fixture) seedPending(id, amount string) {
	f.store.Put(&model.RechargeRequest{
		ID:        id,
		OwnerID:   ownerID,
		Amount:    dec(amount),
		Status:    model.RechargeStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
}

func (f *fixture) setPayment(paymentID, orderID, amount, status string) {
	f.gw.SetPayment(&gateway.Payment{
		ID:          paymentID,
		OrderID:     orderID,
		AmountMinor: gateway.ToMinorUnits(dec(amount)),
		Currency:    "INR",
		Status:      status,
	})
}

func (f *fixture) status(t *testing.T, id string) string {
	t.Helper()
	req, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return req.Status
}

func confirmRequest(id, orderID, paymentID string) *service.ConfirmRequest {
	return &service.ConfirmRequest{
		OwnerID:           ownerID,
		RechargeRequestID: id,
		GatewayOrderID:    orderID,
		GatewayPaymentID:  paymentID,
		GatewaySignature:  signature.Sign(signature.PaymentMessage(orderID, paymentID), keySecret),
	}
}

func webhookPayload(t *testing.T, event, orderID, paymentID, amount string) ([]byte, string) {
	t.Helper()
	return webhookPayloadWithNotes(t, event, orderID, paymentID, amount, nil)
}

// webhookPayloadWithNotes notes 为下单时写入的附加信息，网关原样带回
func webhookPayloadWithNotes(t *testing.T, event, orderID, paymentID, amount string, notes map[string]string) ([]byte, string) {
	t.Helper()
	entity := map[string]interface{}{
		"id":       paymentID,
		"order_id": orderID,
		"amount":   gateway.ToMinorUnits(dec(amount)),
		"currency": "INR",
		"status":   "captured",
		"notes":    []string{},
	}
	if notes != nil {
		entity["notes"] = notes
	}
	body, err := json.Marshal(map[string]interface{}{
		"entity": "event",
		"event":  event,
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{
				"entity": entity,
			},
		},
	})
	require.NoError(t, err)
	return body, signature.Sign(body, hookSecret)
}
