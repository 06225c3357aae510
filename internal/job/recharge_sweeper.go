package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"walletrecharge/internal/metrics"
	"walletrecharge/internal/model"
	"walletrecharge/internal/service"
)

// Resumer 继续处理停留在 processing 的充值单，service.ReconcileService 实现
type Resumer interface {
	Resume(ctx context.Context, req *model.RechargeRequest) (*service.Result, error)
}

// RechargeSweeper 补偿任务
//
// 【场景】认领成功后进程崩溃、入账超时、或者入账成功但改状态失败，充值单会一直停在 processing。
// 这里定期捞出超过阈值的 processing 单，交给对账引擎继续处理：
//   - 已有入账流水：直接改成 completed
//   - 没有流水：重新查单、入账
//   - 网关暂时不可达：保持 processing，下一轮再试
type RechargeSweeper struct {
	store     service.SweepStore
	resumer   Resumer
	lock      Locker
	logger    *slog.Logger
	stopCh    chan struct{}
	interval  time.Duration
	threshold time.Duration
	batchSize int
}

func NewRechargeSweeper(store service.SweepStore, resumer Resumer, lock Locker, threshold time.Duration, logger *slog.Logger) *RechargeSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &RechargeSweeper{
		store:     store,
		resumer:   resumer,
		lock:      lock,
		logger:    logger.With("component", "RechargeSweeper"),
		stopCh:    make(chan struct{}),
		interval:  30 * time.Second,
		threshold: threshold,
		batchSize: 50,
	}
}

func (j *RechargeSweeper) Start(ctx context.Context) {
	j.logger.Info("补偿任务启动", "threshold", j.threshold.String())

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

func (j *RechargeSweeper) Stop() {
	close(j.stopCh)
}

// RunOnce 处理一批，返回本轮补偿完成的数量
func (j *RechargeSweeper) RunOnce(ctx context.Context) int {
	before := time.Now().Add(-j.threshold)
	requests, err := j.store.ListStuckProcessing(ctx, before, j.batchSize)
	if err != nil {
		j.logger.Error("查询 processing 充值单失败", "error", err)
		return 0
	}
	if len(requests) == 0 {
		return 0
	}

	j.logger.Info("发现需要补偿的充值单", "count", len(requests))

	completed := 0
	for _, req := range requests {
		if ctx.Err() != nil {
			break
		}
		metrics.SweepResumedTotal.Inc()

		result, err := j.resumer.Resume(ctx, req)
		switch {
		case err == nil:
			completed++
			j.logger.Info("补偿成功", "recharge_request_id", req.ID, "already_processed", result.AlreadyProcessed)
		case errors.Is(err, service.ErrGateway), errors.Is(err, service.ErrPersistence):
			j.logger.Warn("补偿未完成，下一轮重试", "recharge_request_id", req.ID, "error", err)
		default:
			j.logger.Warn("补偿结束，充值未成功", "recharge_request_id", req.ID, "error", err)
		}
	}
	return completed
}
