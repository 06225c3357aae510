package lock

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 后台任务锁
// ============================================================================
//
// 多实例部署时，补偿、超时取消、消息投递这几个定时任务只需要一个实例在跑。
// 入账正确性不依赖这把锁（靠数据库 CAS 和账本幂等键），锁只是减少重复劳动。
//
// 加锁：SET key value NX EX ttl
//   - NX 保证互斥，EX 防止持有者崩溃后死锁
//   - value 标识持有者，释放时校验，避免删掉别人的锁
//
// 释放：Lua 脚本把"检查 + 删除"做成原子操作
//
// ============================================================================

var ErrLockNotHeld = errors.New("锁已过期或被其他实例持有")

const keyPrefix = "wallet-recharge:job:"

// 检查 value 匹配才删除
var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock Redis 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// NewJobLock 按任务名加锁，value 是实例标识，日志里可以看出是哪台机器在跑
func NewJobLock(client *redis.Client, job string, ttl time.Duration) *DistributedLock {
	host, _ := os.Hostname()
	return NewDistributedLock(client, keyPrefix+job, host+"/"+uuid.NewString(), ttl)
}

// TryLock 非阻塞获取锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Unlock 释放锁，锁已不属于自己时返回 ErrLockNotHeld
func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (l *DistributedLock) Key() string {
	return l.key
}
