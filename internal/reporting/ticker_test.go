package reporting

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickerFiresUntilCancelled(t *testing.T) {
	var tk Ticker
	var n atomic.Int32

	tk.Start(2*time.Millisecond, func() { n.Add(1) })
	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, time.Millisecond)

	tk.Cancel()
	assert.False(t, tk.Running())
	time.Sleep(5 * time.Millisecond)
	stopped := n.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stopped, n.Load())

	tk.Cancel()
}

func TestTickerStartReplacesPrevious(t *testing.T) {
	var tk Ticker
	var first, second atomic.Int32

	tk.Start(2*time.Millisecond, func() { first.Add(1) })
	tk.Start(2*time.Millisecond, func() { second.Add(1) })
	defer tk.Cancel()

	require.Eventually(t, func() bool { return second.Load() >= 2 }, time.Second, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	frozen := first.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, frozen, first.Load())
	assert.True(t, tk.Running())
}
