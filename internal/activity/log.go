package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Activity types.
const (
	Created              = "created"
	StatusChanged        = "status_changed"
	Resolved             = "resolved"
	Closed               = "closed"
	Cancelled            = "cancelled"
	Escalated            = "escalated"
	Reopened             = "reopened"
	EscalationReassigned = "escalation_reassigned"
	PriorityChanged      = "priority_changed"
	Assigned             = "assigned"
	Unassigned           = "unassigned"
	Reassigned           = "reassigned"
	ReviewRequested      = "review_requested"
	Reviewed             = "reviewed"
	Updated              = "updated"
	CommentAdded         = "comment_added"
	ImageAdded           = "image_added"
	ImageDeleted         = "image_deleted"
	WorkTaskCreated      = "work_task_created"
	WorkTaskCompleted    = "work_task_completed"
	WorkTaskReopened     = "work_task_reopened"
	WorkTaskDeleted      = "work_task_deleted"
)

// Log appends audit rows inside the caller's transaction so they commit or
// roll back together with the mutation they describe.
type Log struct {
	Now func() time.Time
}

// Entry is one activity row. OldValue and NewValue are the explicit before
// and after snapshots of the field that changed.
type Entry struct {
	IssueID     string
	OrgID       string
	Type        string
	ActorID     string
	Description string
	OldValue    string
	NewValue    string
}

// HistoryEntry is one status/assignment trail row.
type HistoryEntry struct {
	IssueID     string
	OldStatus   string
	NewStatus   string
	OldAssignee *string
	NewAssignee *string
	ActorID     string
	Comment     string
}

func (l Log) now() string {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	return now().UTC().Format(time.RFC3339)
}

// Record inserts one activity row.
func (l Log) Record(ctx context.Context, tx *sql.Tx, e Entry) error {
	if e.IssueID == "" || e.Type == "" {
		return errors.New("activity requires issue and type")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO issue_activities(issue_id,org_id,activity_type,actor_id,description,old_value,new_value,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		e.IssueID, e.OrgID, e.Type, nullable(e.ActorID), e.Description, nullable(e.OldValue), nullable(e.NewValue), l.now())
	if err != nil {
		return fmt.Errorf("record %s activity: %w", e.Type, err)
	}
	return nil
}

// History inserts one status history row.
func (l Log) History(ctx context.Context, tx *sql.Tx, h HistoryEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO issue_status_history(issue_id,old_status,new_status,old_assignee,new_assignee,actor_id,comment,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		h.IssueID, h.OldStatus, h.NewStatus, ptr(h.OldAssignee), ptr(h.NewAssignee), h.ActorID, nullable(h.Comment), l.now())
	if err != nil {
		return fmt.Errorf("record status history: %w", err)
	}
	return nil
}

// TypeForStatus picks the activity type describing a move into status.
func TypeForStatus(status string) string {
	switch status {
	case "resolved":
		return Resolved
	case "closed":
		return Closed
	case "cancelled":
		return Cancelled
	case "escalated":
		return Escalated
	}
	return StatusChanged
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func ptr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
