package models

import (
	"github.com/3than777/Elocutionist-sub004/apperr"
)

// ProcessingStatus tracks one asynchronous processing pipeline.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// processingTransitions lists the legal moves. Failed may go back to
// processing so a job can be retried; completed is terminal.
var processingTransitions = map[ProcessingStatus][]ProcessingStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusProcessing},
	StatusCompleted:  {},
}

func (s ProcessingStatus) Valid() bool {
	_, ok := processingTransitions[s]
	return ok
}

func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted
}

// CanTransitionTo reports whether moving from s to target is legal.
func (s ProcessingStatus) CanTransitionTo(target ProcessingStatus) bool {
	for _, allowed := range processingTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// transition validates a move for the named entity pipeline.
func (s ProcessingStatus) transition(entity string, target ProcessingStatus) error {
	if !s.CanTransitionTo(target) {
		return apperr.InvalidTransition(entity, string(s), string(target))
	}
	return nil
}
