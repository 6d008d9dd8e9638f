package repo

import (
	"context"
	"database/sql"

	"issuehub/internal/domain"
)

const activityColumns = `id,issue_id,org_id,activity_type,actor_id,description,old_value,new_value,created_at`

func scanActivity(scan func(dest ...any) error) (domain.Activity, error) {
	var a domain.Activity
	var actor, oldV, newV sql.NullString
	if err := scan(&a.ID, &a.IssueID, &a.OrgID, &a.ActivityType, &actor, &a.Description, &oldV, &newV, &a.CreatedAt); err != nil {
		return a, err
	}
	a.ActorID = stringPtr(actor)
	a.OldValue = stringPtr(oldV)
	a.NewValue = stringPtr(newV)
	return a, nil
}

// ListActivities returns the activity of an issue newest first. A non-zero
// before cursor only returns rows with a smaller id.
func (r Repo) ListActivities(ctx context.Context, issueID string, limit int, before int64) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + activityColumns + ` FROM issue_activities WHERE issue_id=?`
	args := []any{issueID}
	if before > 0 {
		query += ` AND id<?`
		args = append(args, before)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return r.queryActivities(ctx, query, args...)
}

// ActivitiesAfter returns org activity with ids above the cursor, oldest first.
func (r Repo) ActivitiesAfter(ctx context.Context, orgID string, after int64, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryActivities(ctx, `SELECT `+activityColumns+` FROM issue_activities WHERE org_id=? AND id>? ORDER BY id LIMIT ?`, orgID, after, limit)
}

func (r Repo) LatestActivityID(ctx context.Context, orgID string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM issue_activities WHERE org_id=?`, orgID).Scan(&id)
	return id, err
}

func (r Repo) queryActivities(ctx context.Context, query string, args ...any) ([]domain.Activity, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListStatusHistory returns the status trail of an issue newest first.
func (r Repo) ListStatusHistory(ctx context.Context, issueID string) ([]domain.StatusHistory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,issue_id,old_status,new_status,old_assignee,new_assignee,actor_id,COALESCE(comment,''),created_at
FROM issue_status_history WHERE issue_id=? ORDER BY id DESC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusHistory
	for rows.Next() {
		var h domain.StatusHistory
		var oldA, newA sql.NullString
		if err := rows.Scan(&h.ID, &h.IssueID, &h.OldStatus, &h.NewStatus, &oldA, &newA, &h.ActorID, &h.Comment, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.OldAssignee = stringPtr(oldA)
		h.NewAssignee = stringPtr(newA)
		res = append(res, h)
	}
	return res, rows.Err()
}
