package idgen

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 充值单号、流水号要求全局唯一、趋势递增，并且不暴露业务量。
//
// 【雪花算法结构】64位
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//
// 生成逻辑由 bwmarrin/snowflake 实现，它基于单调时钟计时，系统时钟回拨不会产生重复ID。
// 这里只负责节点初始化和业务前缀。
// ============================================================================

// epoch 起始时间戳（2024-01-01 00:00:00 UTC）
const epoch = int64(1704067200000)

var (
	mu   sync.Mutex
	node *snowflake.Node
)

func init() {
	// 必须在创建节点之前设置
	snowflake.Epoch = epoch
}

// Init 初始化默认节点，多实例部署时每个实例的 workerID 必须不同（0-1023）
func Init(workerID int64) error {
	n, err := snowflake.NewNode(workerID)
	if err != nil {
		return fmt.Errorf("初始化雪花节点失败: %w", err)
	}
	mu.Lock()
	node = n
	mu.Unlock()
	return nil
}

func defaultNode() *snowflake.Node {
	mu.Lock()
	defer mu.Unlock()
	if node == nil {
		// 未初始化时使用 workerID = 1，1 一定在合法范围内
		node, _ = snowflake.NewNode(1)
	}
	return node
}

// NextID 生成下一个ID
func NextID() int64 {
	return defaultNode().Generate().Int64()
}

// GenerateRechargeNo 生成充值单号
// 格式：RCH + 完整雪花ID
func GenerateRechargeNo() string {
	return "RCH" + strconv.FormatInt(NextID(), 10)
}

// GenerateTransactionNo 生成流水号
func GenerateTransactionNo() string {
	return "TXN" + strconv.FormatInt(NextID(), 10)
}
