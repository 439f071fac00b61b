// Package snowflake 提供基于雪花算法的修订号生成器
//
// 当修订实体不使用数据库自增主键时（use_revision_entity_with_native_id=false），
// 修订号由本包生成。生成的号码在同一进程内严格单调递增，
// 满足“修订号随提交顺序递增”的要求。
package snowflake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"revaudit/errors"
)

const (
	// 起始时间戳 (2023-01-01 00:00:00 UTC)
	epoch int64 = 1672531200000

	workerIDBits     = 5
	datacenterIDBits = 5
	sequenceBits     = 12

	maxWorkerID     = -1 ^ (-1 << workerIDBits)     // 31
	maxDatacenterID = -1 ^ (-1 << datacenterIDBits) // 31
	maxSequence     = -1 ^ (-1 << sequenceBits)     // 4095

	workerIDShift      = sequenceBits
	datacenterIDShift  = sequenceBits + workerIDBits
	timestampLeftShift = sequenceBits + workerIDBits + datacenterIDBits
)

// Components 修订号拆解后的各部分
type Components struct {
	Timestamp    time.Time
	DatacenterID int64
	WorkerID     int64
	Sequence     int64
}

// Option 生成器选项
type Option func(*Generator)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// Generator 雪花修订号生成器
type Generator struct {
	mu            sync.Mutex
	datacenterID  int64
	workerID      int64
	sequence      int64
	lastTimestamp int64
	now           func() time.Time
}

// NewGenerator 创建生成器，datacenterID 与 workerID 取值范围均为 [0, 31]
func NewGenerator(datacenterID, workerID int64, opts ...Option) (*Generator, error) {
	if datacenterID < 0 || datacenterID > maxDatacenterID {
		return nil, errors.NewErrorf(errors.ErrCodeInvalidInput,
			"datacenter ID 超出范围 [0, %d]: %d", maxDatacenterID, datacenterID)
	}
	if workerID < 0 || workerID > maxWorkerID {
		return nil, errors.NewErrorf(errors.ErrCodeInvalidInput,
			"worker ID 超出范围 [0, %d]: %d", maxWorkerID, workerID)
	}

	g := &Generator{
		datacenterID:  datacenterID,
		workerID:      workerID,
		lastTimestamp: -1,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Generator) millis() int64 {
	return g.now().UnixMilli()
}

// NextID 生成下一个修订号；时钟回拨时拒绝生成
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.millis()
	if now < g.lastTimestamp {
		return 0, errors.NewErrorf(errors.ErrCodeInternal,
			"时钟回拨 %dms，拒绝生成修订号", g.lastTimestamp-now)
	}

	if now == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= g.lastTimestamp {
				now = g.millis()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = now

	return ((now - epoch) << timestampLeftShift) |
		(g.datacenterID << datacenterIDShift) |
		(g.workerID << workerIDShift) |
		g.sequence, nil
}

// Next 实现修订号来源接口
func (g *Generator) Next(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return g.NextID()
}

// Parse 拆解修订号
func Parse(id int64) Components {
	return Components{
		Timestamp:    time.UnixMilli((id >> timestampLeftShift) + epoch).UTC(),
		DatacenterID: (id >> datacenterIDShift) & maxDatacenterID,
		WorkerID:     (id >> workerIDShift) & maxWorkerID,
		Sequence:     id & maxSequence,
	}
}

// String 便于日志输出
func (c Components) String() string {
	return fmt.Sprintf("ts=%s dc=%d worker=%d seq=%d",
		c.Timestamp.Format(time.RFC3339Nano), c.DatacenterID, c.WorkerID, c.Sequence)
}
