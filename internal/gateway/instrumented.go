package gateway

import (
	"context"

	"walletrecharge/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// Instrumented 给网关调用加上耗时统计
func Instrumented(c Client) Client {
	return &instrumented{next: c}
}

type instrumented struct {
	next Client
}

func (i *instrumented) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*Order, error) {
	timer := prometheus.NewTimer(metrics.GatewayLatency.WithLabelValues("create_order"))
	defer timer.ObserveDuration()
	return i.next.CreateOrder(ctx, req)
}

func (i *instrumented) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	timer := prometheus.NewTimer(metrics.GatewayLatency.WithLabelValues("fetch_payment"))
	defer timer.ObserveDuration()
	return i.next.FetchPayment(ctx, paymentID)
}
