package retry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReschedulePolicy(t *testing.T) {
	p := ReschedulePolicy{MaxReschedules: 2, BaseDelay: 30 * time.Second, MaxDelay: time.Minute, Multiplier: 3}

	assert.True(t, p.Allows(0))
	assert.True(t, p.Allows(1))
	assert.False(t, p.Allows(2))

	assert.Equal(t, 30*time.Second, p.Delay(1))
	assert.Equal(t, time.Minute, p.Delay(2))
	assert.Equal(t, time.Minute, p.Delay(3))

	assert.False(t, ReschedulePolicy{}.Allows(0))
}

func TestTimerSchedulerRunsJob(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Close()

	fired := make(chan struct{})
	require.True(t, s.Schedule("artifact:1", time.Millisecond, func() { close(fired) }))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTimerSchedulerReplacesPendingKey(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Close()

	var first, second atomic.Int32
	s.Schedule("artifact:1", time.Hour, func() { first.Add(1) })
	s.Schedule("artifact:1", time.Millisecond, func() { second.Add(1) })

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestTimerSchedulerCloseCancelsPending(t *testing.T) {
	s := NewTimerScheduler()

	var ran atomic.Bool
	s.Schedule("artifact:1", time.Hour, func() { ran.Store(true) })
	s.Schedule("artifact:2", time.Hour, func() { ran.Store(true) })
	assert.Equal(t, 2, s.Pending())

	s.Close()
	assert.Equal(t, 0, s.Pending())
	assert.False(t, ran.Load())
	assert.False(t, s.Schedule("artifact:3", time.Millisecond, func() {}))
}

func TestTimerSchedulerCancel(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Close()

	s.Schedule("rating:1", time.Hour, func() {})
	s.Cancel("rating:1")
	s.Cancel("rating:unknown")
	assert.Equal(t, 0, s.Pending())
}
