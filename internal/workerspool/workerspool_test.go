package workerspool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/support/xsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_MaxParallelism(t *testing.T) {
	pool := New().SetMaxParallelism(3)
	var running, maxRunning, count atomic.Int32
	tasks := make([]func(), 20)
	for ii := range tasks {
		tasks[ii] = func() {
			now := running.Add(1)
			for {
				seen := maxRunning.Load()
				if now <= seen || maxRunning.CompareAndSwap(seen, now) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
			count.Add(1)
		}
	}
	pool.RunAll(tasks...)
	assert.Equal(t, int32(20), count.Load())
	assert.LessOrEqual(t, maxRunning.Load(), int32(3))
	assert.Equal(t, int32(0), running.Load())
}

func TestPool_StartIfAvailable(t *testing.T) {
	pool := New().SetMaxParallelism(1)
	release := xsync.NewLatch()
	require.True(t, pool.StartIfAvailable(func() { release.Wait() }))
	assert.False(t, pool.StartIfAvailable(func() {}), "only one worker available")
	release.Trigger()
	pool.Wait()
	assert.True(t, pool.StartIfAvailable(func() {}))
	pool.Wait()
}

func TestPool_NoParallelism(t *testing.T) {
	pool := New().SetMaxParallelism(0)
	assert.False(t, pool.IsEnabled())
	var order []int
	pool.RunAll(func() { order = append(order, 1) }, func() { order = append(order, 2) })
	assert.Equal(t, []int{1, 2}, order, "tasks run inline, in order")
	assert.False(t, pool.StartIfAvailable(func() {}))

	unlimited := New().SetMaxParallelism(-1)
	assert.True(t, unlimited.IsUnlimited())
	var count atomic.Int32
	unlimited.RunAll(func() { count.Add(1) }, func() { count.Add(1) })
	assert.Equal(t, int32(2), count.Load())
}
