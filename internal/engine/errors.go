package engine

import (
	"errors"
	"fmt"

	"issuehub/internal/engine/auth"
	"issuehub/internal/repo"
)

// Business-rule rejections. Callers match them with errors.Is; the detailed
// error types below unwrap to these.
var (
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrConcurrentWorkLimit = errors.New("concurrent work limit exceeded")
	ErrIncompleteWorkTasks = errors.New("incomplete work tasks")
	ErrNotAssigned         = errors.New("not assigned")
	ErrBreakAlreadyActive  = errors.New("break already active")
	ErrNoActiveBreak       = errors.New("no active break")
	ErrInvalidInput        = errors.New("invalid input")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ConcurrentWorkError names the issue that already holds the assignee's focus.
type ConcurrentWorkError struct {
	AssigneeID      string
	BlockingIssueID string
	BlockingTitle   string
}

func (e *ConcurrentWorkError) Error() string {
	return fmt.Sprintf("%s already has issue %s (%q) in progress", e.AssigneeID, e.BlockingIssueID, e.BlockingTitle)
}

func (e *ConcurrentWorkError) Unwrap() error { return ErrConcurrentWorkLimit }

type IncompleteWorkTasksError struct {
	Count int
}

func (e *IncompleteWorkTasksError) Error() string {
	return fmt.Sprintf("%d work task(s) still incomplete", e.Count)
}

func (e *IncompleteWorkTasksError) Unwrap() error { return ErrIncompleteWorkTasks }

func transitionErr(from, to, reason string) error {
	return &TransitionError{From: from, To: to, Reason: reason}
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func notAssigned(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotAssigned, fmt.Sprintf(format, args...))
}

// ErrorKind classifies err into a stable, lower-case kind name. Unknown
// errors are "internal".
func ErrorKind(err error) string {
	var forbidden *auth.ForbiddenError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &forbidden):
		return "permission_denied"
	case errors.Is(err, repo.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConcurrentWorkLimit):
		return "concurrent_work_limit"
	case errors.Is(err, ErrIncompleteWorkTasks):
		return "incomplete_work_tasks"
	case errors.Is(err, ErrNotAssigned):
		return "not_assigned"
	case errors.Is(err, ErrBreakAlreadyActive):
		return "break_already_active"
	case errors.Is(err, ErrNoActiveBreak):
		return "no_active_break"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	}
	return "internal"
}
