package tasks

import (
	"context"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusRunning is the state of a task whose body has not yet reported.
	StatusRunning Status = "running"

	// StatusFinished is the terminal state of a task that reported success.
	StatusFinished Status = "finished"

	// StatusFailed is the terminal state of a task that reported failure or
	// whose body faulted.
	StatusFailed Status = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// InitialMessage is the message of a task that has not yet reported.
const InitialMessage = "OK"

// Record is a snapshot of one task.
type Record struct {
	// ID is unique within a Manager, starting at 1.
	ID int64 `json:"id"`

	// Target is the caller-supplied label of the resource the task acts on.
	Target string `json:"target"`

	// Status is the current state.
	Status Status `json:"status"`

	// Message is InitialMessage while running, then the reported message or a
	// description of the fault.
	Message string `json:"message"`

	// CreatedAt is when the task was registered.
	CreatedAt time.Time `json:"created_at"`

	// CompletedAt is set once the task reaches a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration returns how long the task ran, or has been running so far.
func (r Record) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.CreatedAt)
	}
	return time.Since(r.CreatedAt)
}

// ReportFunc is the completion handle given to a task body. Only the first
// call has any effect: success moves the task to StatusFinished, failure to
// StatusFailed, and message is recorded verbatim.
type ReportFunc func(message string, success bool)

// Body is the work a task performs. It runs on its own goroutine and should
// call report exactly once. params is passed through from AddTask untouched.
//
// ctx carries the values of the context given to AddTask but is never
// cancelled by the Manager.
type Body func(ctx context.Context, report ReportFunc, params any)
