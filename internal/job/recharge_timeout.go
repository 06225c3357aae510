package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"walletrecharge/internal/model"
	"walletrecharge/internal/repository"
)

// PendingStore 超时取消任务需要的存储操作
type PendingStore interface {
	ListExpiredPending(ctx context.Context, before time.Time, limit int) ([]*model.RechargeRequest, error)
	Cancel(ctx context.Context, id string) error
}

// RechargeTimeoutJob 取消长时间未发起支付的充值单
//
// 只处理 pending，已经在网关下单（payment_initiated）的单子用户可能正在付款，不能取消
type RechargeTimeoutJob struct {
	store     PendingStore
	lock      Locker
	logger    *slog.Logger
	stopCh    chan struct{}
	interval  time.Duration
	timeout   time.Duration
	batchSize int
}

func NewRechargeTimeoutJob(store PendingStore, lock Locker, timeout time.Duration, logger *slog.Logger) *RechargeTimeoutJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RechargeTimeoutJob{
		store:     store,
		lock:      lock,
		logger:    logger.With("component", "RechargeTimeoutJob"),
		stopCh:    make(chan struct{}),
		interval:  time.Minute,
		timeout:   timeout,
		batchSize: 100,
	}
}

func (j *RechargeTimeoutJob) Start(ctx context.Context) {
	j.logger.Info("充值单超时任务启动", "timeout", j.timeout.String())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info("任务停止")
			return
		case <-ticker.C:
			runExclusive(ctx, j.lock, j.logger, func(ctx context.Context) {
				j.RunOnce(ctx)
			})
		}
	}
}

func (j *RechargeTimeoutJob) Stop() {
	close(j.stopCh)
}

// RunOnce 返回本轮取消的数量
func (j *RechargeTimeoutJob) RunOnce(ctx context.Context) int {
	requests, err := j.store.ListExpiredPending(ctx, time.Now().Add(-j.timeout), j.batchSize)
	if err != nil {
		j.logger.Error("查询超时充值单失败", "error", err)
		return 0
	}
	if len(requests) == 0 {
		return 0
	}

	cancelled := 0
	for _, req := range requests {
		if err := j.store.Cancel(ctx, req.ID); err != nil {
			if errors.Is(err, repository.ErrRechargeStatusConflict) {
				// 查询之后被发起了支付
				continue
			}
			j.logger.Error("取消充值单失败", "recharge_request_id", req.ID, "error", err)
			continue
		}
		cancelled++
		j.logger.Info("充值单超时取消", "recharge_request_id", req.ID, "owner_id", req.OwnerID, "amount", req.Amount.StringFixed(2))
	}

	j.logger.Info("本次取消超时充值单", "count", cancelled)
	return cancelled
}
