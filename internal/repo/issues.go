package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"issuehub/internal/domain"
)

const issueColumns = `id,org_id,space_id,reporter_id,title,description,status,priority,assignee_id,assigned_by_id,assigned_at,
requires_review,reviewer_selection_pending,reviewed_by_id,reviewed_at,review_notes,resolution_notes,resolved_at,
escalation_reason,escalated_by_id,escalated_at,escalation_count,created_at,updated_at`

func scanIssue(scan func(dest ...any) error) (domain.Issue, error) {
	var i domain.Issue
	var space, assignee, assignedBy, assignedAt, reviewedBy, reviewedAt, reviewNotes sql.NullString
	var resolutionNotes, resolvedAt, escReason, escBy, escAt sql.NullString
	var requiresReview, pending int
	if err := scan(&i.ID, &i.OrgID, &space, &i.ReporterID, &i.Title, &i.Description, &i.Status, &i.Priority,
		&assignee, &assignedBy, &assignedAt, &requiresReview, &pending, &reviewedBy, &reviewedAt, &reviewNotes,
		&resolutionNotes, &resolvedAt, &escReason, &escBy, &escAt, &i.EscalationCount, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return i, err
	}
	i.SpaceID = stringPtr(space)
	i.AssigneeID = stringPtr(assignee)
	i.AssignedByID = stringPtr(assignedBy)
	i.AssignedAt = stringPtr(assignedAt)
	i.RequiresReview = requiresReview == 1
	i.ReviewerSelectionPending = pending == 1
	i.ReviewedByID = stringPtr(reviewedBy)
	i.ReviewedAt = stringPtr(reviewedAt)
	i.ReviewNotes = stringPtr(reviewNotes)
	i.ResolutionNotes = stringPtr(resolutionNotes)
	i.ResolvedAt = stringPtr(resolvedAt)
	i.EscalationReason = stringPtr(escReason)
	i.EscalatedByID = stringPtr(escBy)
	i.EscalatedAt = stringPtr(escAt)
	return i, nil
}

func (r Repo) InsertIssue(ctx context.Context, tx *sql.Tx, i domain.Issue) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO issues(`+issueColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		i.ID, i.OrgID, nullableStringPtr(i.SpaceID), i.ReporterID, i.Title, i.Description, i.Status, i.Priority,
		nullableStringPtr(i.AssigneeID), nullableStringPtr(i.AssignedByID), nullableStringPtr(i.AssignedAt),
		boolInt(i.RequiresReview), boolInt(i.ReviewerSelectionPending), nullableStringPtr(i.ReviewedByID),
		nullableStringPtr(i.ReviewedAt), nullableStringPtr(i.ReviewNotes), nullableStringPtr(i.ResolutionNotes),
		nullableStringPtr(i.ResolvedAt), nullableStringPtr(i.EscalationReason), nullableStringPtr(i.EscalatedByID),
		nullableStringPtr(i.EscalatedAt), i.EscalationCount, i.CreatedAt, i.UpdatedAt)
	return err
}

// UpdateIssue writes every mutable column of an issue.
func (r Repo) UpdateIssue(ctx context.Context, tx *sql.Tx, i domain.Issue) error {
	res, err := tx.ExecContext(ctx, `UPDATE issues SET space_id=?, title=?, description=?, status=?, priority=?,
assignee_id=?, assigned_by_id=?, assigned_at=?, requires_review=?, reviewer_selection_pending=?,
reviewed_by_id=?, reviewed_at=?, review_notes=?, resolution_notes=?, resolved_at=?,
escalation_reason=?, escalated_by_id=?, escalated_at=?, escalation_count=?, updated_at=? WHERE id=?`,
		nullableStringPtr(i.SpaceID), i.Title, i.Description, i.Status, i.Priority,
		nullableStringPtr(i.AssigneeID), nullableStringPtr(i.AssignedByID), nullableStringPtr(i.AssignedAt),
		boolInt(i.RequiresReview), boolInt(i.ReviewerSelectionPending),
		nullableStringPtr(i.ReviewedByID), nullableStringPtr(i.ReviewedAt), nullableStringPtr(i.ReviewNotes),
		nullableStringPtr(i.ResolutionNotes), nullableStringPtr(i.ResolvedAt),
		nullableStringPtr(i.EscalationReason), nullableStringPtr(i.EscalatedByID), nullableStringPtr(i.EscalatedAt),
		i.EscalationCount, i.UpdatedAt, i.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	return getIssue(ctx, r.DB, id)
}

func (r Repo) GetIssueTx(ctx context.Context, tx *sql.Tx, id string) (domain.Issue, error) {
	return getIssue(ctx, tx, id)
}

func getIssue(ctx context.Context, q querier, id string) (domain.Issue, error) {
	i, err := scanIssue(q.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return i, ErrNotFound
	}
	if err != nil {
		return i, err
	}
	i.ReviewerIDs, err = reviewerIDs(ctx, q, i.ID)
	return i, err
}

type IssueFilters struct {
	OrgID      string
	SpaceID    string
	Status     string
	AssigneeID string
	ReporterID string
	Limit      int
}

func (r Repo) ListIssues(ctx context.Context, f IssueFilters) ([]domain.Issue, error) {
	var clauses []string
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.SpaceID != "" {
		clauses = append(clauses, "space_id=?")
		args = append(args, f.SpaceID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.ReporterID != "" {
		clauses = append(clauses, "reporter_id=?")
		args = append(args, f.ReporterID)
	}
	query := `SELECT ` + issueColumns + ` FROM issues`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Issue
	for rows.Next() {
		i, err := scanIssue(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, i)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for idx := range res {
		if res[idx].ReviewerIDs, err = reviewerIDs(ctx, r.DB, res[idx].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// FindInProgressIssue returns the issue the assignee is currently working on,
// ignoring excludeID. ErrNotFound means the assignee is free.
func (r Repo) FindInProgressIssue(ctx context.Context, tx *sql.Tx, assigneeID, excludeID string) (domain.Issue, error) {
	i, err := scanIssue(tx.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE assignee_id=? AND status=? AND id<>? LIMIT 1`,
		assigneeID, domain.StatusInProgress, excludeID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return i, ErrNotFound
	}
	return i, err
}

// SetReviewers replaces the reviewer list of an issue.
func (r Repo) SetReviewers(ctx context.Context, tx *sql.Tx, issueID string, actorIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM issue_reviewers WHERE issue_id=?`, issueID); err != nil {
		return err
	}
	for _, id := range actorIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO issue_reviewers(issue_id, actor_id) VALUES (?,?)`, issueID, id); err != nil {
			return err
		}
	}
	return nil
}

func reviewerIDs(ctx context.Context, q querier, issueID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT actor_id FROM issue_reviewers WHERE issue_id=? ORDER BY actor_id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) InsertImage(ctx context.Context, tx *sql.Tx, img domain.IssueImage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO issue_images(id,issue_id,kind,url,uploaded_by,created_at) VALUES (?,?,?,?,?,?)`,
		img.ID, img.IssueID, img.Kind, img.URL, img.UploadedBy, img.CreatedAt)
	return err
}

func (r Repo) ListImages(ctx context.Context, issueID string) ([]domain.IssueImage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,issue_id,kind,url,uploaded_by,created_at FROM issue_images WHERE issue_id=? ORDER BY created_at, id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IssueImage
	for rows.Next() {
		var img domain.IssueImage
		if err := rows.Scan(&img.ID, &img.IssueID, &img.Kind, &img.URL, &img.UploadedBy, &img.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, img)
	}
	return res, rows.Err()
}

// DeleteResolutionImages removes the images attached when the issue was resolved.
func (r Repo) DeleteResolutionImages(ctx context.Context, tx *sql.Tx, issueID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM issue_images WHERE issue_id=? AND kind=?`, issueID, domain.ImageResolution)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO issue_comments(id,issue_id,author_id,body,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.IssueID, c.AuthorID, c.Body, c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, issueID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,issue_id,author_id,body,created_at FROM issue_comments WHERE issue_id=? ORDER BY created_at, id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.IssueID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

const workTaskColumns = `id,issue_id,title,COALESCE(description,''),assignee_id,completed,resolution_notes,completed_at,created_by,created_at`

func scanWorkTask(scan func(dest ...any) error) (domain.WorkTask, error) {
	var t domain.WorkTask
	var completed int
	var notes, completedAt sql.NullString
	if err := scan(&t.ID, &t.IssueID, &t.Title, &t.Description, &t.AssigneeID, &completed, &notes, &completedAt, &t.CreatedBy, &t.CreatedAt); err != nil {
		return t, err
	}
	t.Completed = completed == 1
	t.ResolutionNotes = stringPtr(notes)
	t.CompletedAt = stringPtr(completedAt)
	return t, nil
}

func (r Repo) InsertWorkTask(ctx context.Context, tx *sql.Tx, t domain.WorkTask) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_tasks(id,issue_id,title,description,assignee_id,completed,resolution_notes,completed_at,created_by,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.IssueID, t.Title, nullable(t.Description), t.AssigneeID, boolInt(t.Completed),
		nullableStringPtr(t.ResolutionNotes), nullableStringPtr(t.CompletedAt), t.CreatedBy, t.CreatedAt)
	return err
}

func (r Repo) UpdateWorkTask(ctx context.Context, tx *sql.Tx, t domain.WorkTask) error {
	res, err := tx.ExecContext(ctx, `UPDATE work_tasks SET title=?, description=?, assignee_id=?, completed=?, resolution_notes=?, completed_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.AssigneeID, boolInt(t.Completed), nullableStringPtr(t.ResolutionNotes), nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteWorkTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM work_tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetWorkTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkTask, error) {
	t, err := scanWorkTask(tx.QueryRowContext(ctx, `SELECT `+workTaskColumns+` FROM work_tasks WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListWorkTasks(ctx context.Context, issueID string) ([]domain.WorkTask, error) {
	return listWorkTasks(ctx, r.DB, issueID)
}

func (r Repo) ListWorkTasksTx(ctx context.Context, tx *sql.Tx, issueID string) ([]domain.WorkTask, error) {
	return listWorkTasks(ctx, tx, issueID)
}

func listWorkTasks(ctx context.Context, q querier, issueID string) ([]domain.WorkTask, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+workTaskColumns+` FROM work_tasks WHERE issue_id=? ORDER BY created_at, id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkTask
	for rows.Next() {
		t, err := scanWorkTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountIncompleteWorkTasks returns how many work tasks of an issue are still open.
func (r Repo) CountIncompleteWorkTasks(ctx context.Context, tx *sql.Tx, issueID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_tasks WHERE issue_id=? AND completed=0`, issueID).Scan(&n)
	return n, err
}

// IsTaskAssignee reports whether the actor owns any work task of the issue.
func (r Repo) IsTaskAssignee(ctx context.Context, issueID, actorID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_tasks WHERE issue_id=? AND assignee_id=?`, issueID, actorID).Scan(&n)
	return n > 0, err
}
