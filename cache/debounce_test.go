package cache

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	var runs atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { runs.Add(1) })

	// WHEN: triggered repeatedly inside the delay
	for i := 0; i < 10; i++ {
		d.Trigger()
		time.Sleep(2 * time.Millisecond)
	}
	assert.True(t, d.Pending())

	// THEN: exactly one run after the burst settles
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, d.Pending())
}

func TestDebouncer_StopCancels(t *testing.T) {
	var runs atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { runs.Add(1) })

	d.Trigger()
	d.Stop()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(0), runs.Load())
}

func TestDebouncer_FlushRunsImmediately(t *testing.T) {
	var runs atomic.Int32
	d := NewDebouncer(time.Hour, func() { runs.Add(1) })

	d.Flush()
	assert.Equal(t, int32(0), runs.Load(), "nothing pending")

	d.Trigger()
	d.Flush()
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, d.Pending())
}
