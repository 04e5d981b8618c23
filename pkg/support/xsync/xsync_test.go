package xsync

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	l := NewLatch()
	assert.False(t, l.Test())
	go l.Trigger()
	select {
	case <-l.WaitChan():
	case <-time.After(time.Second):
		t.Fatal("latch never triggered")
	}
	l.Trigger()
	l.Wait()
	assert.True(t, l.Test())
}

func TestDynamicWaitGroup(t *testing.T) {
	wg := NewDynamicWaitGroup()
	var count atomic.Int32
	wg.Add(1)
	go func() {
		defer wg.Done()
		// New work added while Wait may already be blocked.
		wg.Add(1)
		go func() {
			defer wg.Done()
			count.Add(1)
		}()
		count.Add(1)
	}()
	wg.Wait()
	assert.Equal(t, int32(2), count.Load())
	require.Panics(t, func() { wg.Done() })
}
