package job

import (
	"context"
	"log/slog"
	"time"

	"walletrecharge/internal/infrastructure/lock"
	"walletrecharge/internal/infrastructure/mq"
	"walletrecharge/internal/model"
	"walletrecharge/internal/repository"
)

// OutboxStore 本地消息表，repository.OutboxRepository 实现
type OutboxStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkAsSent(ctx context.Context, id int64) error
	IncrementRetryCount(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64) error
}

// Publisher 消息投递，mq.Publisher 实现
type Publisher interface {
	Publish(topic, key, value string) error
}

var (
	_ OutboxStore  = (*repository.OutboxRepository)(nil)
	_ Publisher    = (*mq.Publisher)(nil)
	_ Locker       = (*lock.DistributedLock)(nil)
	_ PendingStore = (*repository.RechargeRepository)(nil)
)

// OutboxSender 把入账事务里写入的充值完成事件投递到 Kafka
// 至少投递一次，消费方按 message key（充值单号）去重
type OutboxSender struct {
	store         OutboxStore
	publisher     Publisher
	lock          Locker
	logger        *slog.Logger
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
	maxRetryCount int
}

func NewOutboxSender(store OutboxStore, publisher Publisher, lock Locker, maxRetryCount int, logger *slog.Logger) *OutboxSender {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetryCount <= 0 {
		maxRetryCount = 5
	}
	return &OutboxSender{
		store:         store,
		publisher:     publisher,
		lock:          lock,
		logger:        logger.With("component", "OutboxSender"),
		stopCh:        make(chan struct{}),
		interval:      time.Second,
		batchSize:     100,
		maxRetryCount: maxRetryCount,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.logger.Info("任务停止")
			return
		case <-ticker.C:
			runExclusive(ctx, s.lock, s.logger, func(ctx context.Context) {
				s.RunOnce(ctx)
			})
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// RunOnce 投递一批待发送消息，返回成功条数
func (s *OutboxSender) RunOnce(ctx context.Context) int {
	messages, err := s.store.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("查询消息失败", "error", err)
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.store.MarkAsSent(ctx, msg.ID); updateErr != nil {
			// 下一轮会重复投递，消费方去重
			s.logger.Error("更新消息状态失败", "id", msg.ID, "error", updateErr)
		} else {
			s.logger.Debug("消息发送成功", "id", msg.ID, "topic", msg.Topic, "key", msg.MessageKey)
		}
		return true
	}

	s.logger.Warn("消息发送失败", "id", msg.ID, "retry_count", msg.RetryCount, "error", err)

	if msg.RetryCount+1 >= s.maxRetryCount {
		if err := s.store.MarkAsFailed(ctx, msg.ID); err != nil {
			s.logger.Error("标记消息失败状态失败", "id", msg.ID, "error", err)
		} else {
			s.logger.Error("消息超过最大重试次数，标记为失败", "id", msg.ID, "key", msg.MessageKey)
		}
		return false
	}

	if err := s.store.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.logger.Error("增加重试次数失败", "id", msg.ID, "error", err)
	}
	return false
}
