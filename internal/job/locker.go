package job

import (
	"context"
	"log/slog"
)

// Locker 多实例部署时保证同一时刻只有一个实例执行任务，lock.DistributedLock 是 Redis 实现
// 为 nil 时不加锁（单实例、测试）
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// runExclusive 拿到锁才执行 fn，拿不到说明别的实例在跑，本轮跳过
func runExclusive(ctx context.Context, l Locker, logger *slog.Logger, fn func(context.Context)) {
	if l == nil {
		fn(ctx)
		return
	}

	ok, err := l.TryLock(ctx)
	if err != nil {
		logger.Warn("获取任务锁失败，本轮跳过", "error", err)
		return
	}
	if !ok {
		return
	}
	defer func() {
		if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("释放任务锁失败", "error", err)
		}
	}()

	fn(ctx)
}
