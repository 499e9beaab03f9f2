package controller

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerCollapsesBurst(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { fired.Add(1) })
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Trigger()
		time.Sleep(time.Millisecond)
	}

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	// No second fire after the burst.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestDebouncerFiresPerBurst(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(10*time.Millisecond, func() { fired.Add(1) })
	defer d.Stop()

	d.Trigger()
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)

	d.Trigger()
	require.Eventually(t, func() bool { return fired.Load() == 2 }, time.Second, time.Millisecond)
}

func TestDebouncerStop(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(10*time.Millisecond, func() { fired.Add(1) })

	d.Trigger()
	d.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	// Stop on an idle debouncer is harmless.
	d.Stop()
}
