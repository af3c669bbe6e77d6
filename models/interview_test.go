package models

import (
	"testing"
	"time"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newInterview(status InterviewStatus) *Interview {
	return &Interview{ID: "iv-1", UserID: "user-1", Status: status, CreatedAt: t0}
}

func TestInterviewTransitions(t *testing.T) {
	type op func(i *Interview) error
	start := func(i *Interview) error { return i.Start(t0.Add(time.Minute)) }
	complete := func(i *Interview) error { return i.Complete(t0.Add(time.Hour), nil) }
	cancel := func(i *Interview) error { return i.Cancel("") }

	tests := []struct {
		name string
		from InterviewStatus
		op   op
		want InterviewStatus
		ok   bool
	}{
		{"start from pending", InterviewPending, start, InterviewActive, true},
		{"start from active", InterviewActive, start, InterviewActive, false},
		{"start from completed", InterviewCompleted, start, InterviewCompleted, false},
		{"start from cancelled", InterviewCancelled, start, InterviewCancelled, false},
		{"complete from active", InterviewActive, complete, InterviewCompleted, true},
		{"complete from pending", InterviewPending, complete, InterviewPending, false},
		{"complete from completed", InterviewCompleted, complete, InterviewCompleted, false},
		{"complete from cancelled", InterviewCancelled, complete, InterviewCancelled, false},
		{"cancel from pending", InterviewPending, cancel, InterviewCancelled, true},
		{"cancel from active", InterviewActive, cancel, InterviewCancelled, true},
		{"cancel from completed", InterviewCompleted, cancel, InterviewCompleted, false},
		{"cancel from cancelled", InterviewCancelled, cancel, InterviewCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iv := newInterview(tt.from)
			if tt.from == InterviewActive {
				started := t0
				iv.StartedAt = &started
			}
			err := tt.op(iv)
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, apperr.IsKind(err, apperr.KindConflict))
				assert.Contains(t, err.Error(), string(tt.from))
			}
			assert.Equal(t, tt.want, iv.Status)
		})
	}
}

func TestInterviewCancelThenComplete(t *testing.T) {
	iv := newInterview(InterviewPending)
	require.NoError(t, iv.Cancel("changed my mind"))
	assert.Equal(t, InterviewCancelled, iv.Status)
	require.NotNil(t, iv.CancelReason)
	assert.Equal(t, "changed my mind", *iv.CancelReason)

	err := iv.Complete(t0.Add(time.Hour), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from cancelled to completed")
	assert.Equal(t, InterviewCancelled, iv.Status)
	assert.Nil(t, iv.CompletedAt)
}

func TestInterviewStartGeneratesTokenOnce(t *testing.T) {
	iv := newInterview(InterviewPending)
	require.NoError(t, iv.Start(t0.Add(time.Minute)))
	require.NotNil(t, iv.SessionToken)
	assert.Len(t, *iv.SessionToken, 64)
	require.NotNil(t, iv.StartedAt)

	token := *iv.SessionToken
	iv.Status = InterviewPending
	require.NoError(t, iv.Start(t0.Add(2*time.Minute)))
	assert.Equal(t, token, *iv.SessionToken)
}

func TestInterviewCompleteDerivesDuration(t *testing.T) {
	iv := newInterview(InterviewPending)
	require.NoError(t, iv.Start(t0))

	score := 82
	require.NoError(t, iv.Complete(t0.Add(29*time.Minute+40*time.Second), &score))

	assert.Equal(t, InterviewCompleted, iv.Status)
	require.NotNil(t, iv.ActualDurationMinutes)
	assert.Equal(t, 30, *iv.ActualDurationMinutes)
	require.NotNil(t, iv.Score)
	assert.Equal(t, 82, *iv.Score)
}

func TestInterviewCompleteRejectsBadScore(t *testing.T) {
	iv := newInterview(InterviewActive)
	score := 140
	err := iv.Complete(t0, &score)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Equal(t, InterviewActive, iv.Status)
}

func TestInterviewIsExpired(t *testing.T) {
	tests := []struct {
		name   string
		status InterviewStatus
		age    time.Duration
		want   bool
	}{
		{"fresh pending", InterviewPending, time.Hour, false},
		{"pending at exactly 24h", InterviewPending, 24 * time.Hour, false},
		{"stale pending", InterviewPending, 25 * time.Hour, true},
		{"stale active", InterviewActive, 48 * time.Hour, false},
		{"stale completed", InterviewCompleted, 48 * time.Hour, false},
		{"stale cancelled", InterviewCancelled, 48 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iv := newInterview(tt.status)
			assert.Equal(t, tt.want, iv.IsExpired(t0.Add(tt.age)))
		})
	}
}

func TestInterviewStartRejectsExpired(t *testing.T) {
	iv := newInterview(InterviewPending)
	err := iv.Start(t0.Add(30 * time.Hour))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeExpired, apperr.CodeOf(err))
	assert.Equal(t, InterviewPending, iv.Status)
	assert.Nil(t, iv.SessionToken)
}
