package snowflake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revaudit/errors"
)

// TestNewGenerator 测试生成器创建
func TestNewGenerator(t *testing.T) {
	tests := []struct {
		name         string
		datacenterID int64
		workerID     int64
		expectError  bool
	}{
		{"有效的datacenterID和workerID", 1, 1, false},
		{"datacenterID超出范围-负数", -1, 1, true},
		{"datacenterID超出范围-超过最大值", 32, 1, true},
		{"workerID超出范围-负数", 1, -1, true},
		{"workerID超出范围-超过最大值", 1, 32, true},
		{"边界值-最大", 31, 31, false},
		{"边界值-最小", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, err := NewGenerator(tt.datacenterID, tt.workerID)
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.datacenterID, gen.datacenterID)
			assert.Equal(t, tt.workerID, gen.workerID)
		})
	}
}

// TestNextID_Monotonic 修订号严格递增
func TestNextID_Monotonic(t *testing.T) {
	gen, err := NewGenerator(1, 2)
	require.NoError(t, err)

	prev := int64(-1)
	for i := 0; i < 5000; i++ {
		id, err := gen.NextID()
		require.NoError(t, err)
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestNextID_ConcurrentUnique(t *testing.T) {
	gen, err := NewGenerator(0, 0)
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		ids = make(map[int64]struct{})
		wg  sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id, err := gen.Next(context.Background())
				assert.NoError(t, err)
				mu.Lock()
				ids[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 4000)
}

func TestNextID_ClockBackwards(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	gen, err := NewGenerator(1, 1, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	_, err = gen.NextID()
	require.NoError(t, err)

	now = now.Add(-time.Second)
	_, err = gen.NextID()
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	gen, err := NewGenerator(3, 7, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	id, err := gen.NextID()
	require.NoError(t, err)

	c := Parse(id)
	assert.Equal(t, now, c.Timestamp)
	assert.Equal(t, int64(3), c.DatacenterID)
	assert.Equal(t, int64(7), c.WorkerID)
	assert.Equal(t, int64(0), c.Sequence)
	assert.Contains(t, c.String(), "worker=7")
}

func TestNext_CancelledContext(t *testing.T) {
	gen, err := NewGenerator(1, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = gen.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
