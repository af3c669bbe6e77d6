package retry

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ReschedulePolicy bounds the deferred tier: once Execute gives up on a
// transient failure, the whole job may be re-run later, up to
// MaxReschedules times. Its budget is independent of Policy's.
type ReschedulePolicy struct {
	MaxReschedules int           `json:"max_reschedules"`
	BaseDelay      time.Duration `json:"base_delay"`
	MaxDelay       time.Duration `json:"max_delay"`
	Multiplier     float64       `json:"multiplier"`
}

func DefaultReschedulePolicy() ReschedulePolicy {
	return ReschedulePolicy{
		MaxReschedules: 3,
		BaseDelay:      30 * time.Second,
		MaxDelay:       10 * time.Minute,
		Multiplier:     2,
	}
}

// Allows reports whether another re-run fits the budget given how many
// have already been scheduled.
func (r ReschedulePolicy) Allows(done int) bool {
	return done < r.MaxReschedules
}

// Delay returns the wait before the n-th re-run (n starts at 1).
func (r ReschedulePolicy) Delay(n int) time.Duration {
	mult := r.Multiplier
	if mult < 1 {
		mult = 1
	}
	maxDelay := r.MaxDelay
	if maxDelay < r.BaseDelay {
		maxDelay = r.BaseDelay
	}
	return exponentialDelay(r.BaseDelay, maxDelay, mult, n)
}

// Scheduler runs jobs after a delay. Scheduling a key that is already
// pending replaces the earlier job.
type Scheduler interface {
	Schedule(key string, delay time.Duration, job func()) bool
	Cancel(key string)
	Close()
}

// TimerScheduler is an in-process Scheduler backed by time.AfterFunc.
// Pending jobs are lost on restart.
type TimerScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: make(map[string]*time.Timer)}
}

// Schedule returns false once the scheduler is closed.
func (s *TimerScheduler) Schedule(key string, delay time.Duration, job func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		slog.Warn("Scheduler closed, dropping job", "key", key)
		return false
	}
	if prev, ok := s.timers[key]; ok && prev.Stop() {
		s.wg.Done()
	}

	s.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		if s.timers[key] == t {
			delete(s.timers, key)
		}
		s.mu.Unlock()
		job()
	})
	s.timers[key] = t

	reschedulesTotal.WithLabelValues(keyKind(key)).Inc()
	slog.Info("Job scheduled", "key", key, "delay", delay)
	return true
}

func (s *TimerScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, key)
	}
}

// Pending returns the number of jobs that have not fired yet.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops every pending job and waits for jobs already running.
func (s *TimerScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for key, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, key)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func keyKind(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
