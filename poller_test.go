package shadowcascade

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollerStopsItself(t *testing.T) {
	var ticks []int
	p := startPoller(time.Millisecond, time.Millisecond, func(n int) bool {
		ticks = append(ticks, n)
		return n < 3
	})
	require.Eventually(t, p.finished, time.Second, time.Millisecond)
	assert.Equal(t, []int{1, 2, 3}, ticks)
	p.stop()
}

func TestPollerStopDuringDelay(t *testing.T) {
	var calls atomic.Int32
	p := startPoller(time.Hour, time.Millisecond, func(int) bool {
		calls.Add(1)
		return true
	})
	p.stop()
	assert.True(t, p.finished())
	assert.Zero(t, calls.Load())
}

func TestPollerStop(t *testing.T) {
	var calls atomic.Int32
	p := startPoller(0, time.Millisecond, func(int) bool {
		calls.Add(1)
		return true
	})
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	p.stop()
	n := calls.Load()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "no tick after stop returns")
}
