package repo

import (
	"context"
	"database/sql"
	"errors"

	"issuehub/internal/domain"
)

const sessionColumns = `id,issue_id,maintainer_id,started_at,ended_at,total_break_seconds,total_work_seconds`

func scanSession(scan func(dest ...any) error) (domain.WorkSession, error) {
	var s domain.WorkSession
	var ended sql.NullString
	if err := scan(&s.ID, &s.IssueID, &s.MaintainerID, &s.StartedAt, &ended, &s.TotalBreakSeconds, &s.TotalWorkSeconds); err != nil {
		return s, err
	}
	s.EndedAt = stringPtr(ended)
	return s, nil
}

func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.WorkSession) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_sessions(`+sessionColumns+`) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.IssueID, s.MaintainerID, s.StartedAt, nullableStringPtr(s.EndedAt), s.TotalBreakSeconds, s.TotalWorkSeconds)
	return err
}

func (r Repo) UpdateSession(ctx context.Context, tx *sql.Tx, s domain.WorkSession) error {
	res, err := tx.ExecContext(ctx, `UPDATE work_sessions SET ended_at=?, total_break_seconds=?, total_work_seconds=? WHERE id=?`,
		nullableStringPtr(s.EndedAt), s.TotalBreakSeconds, s.TotalWorkSeconds, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetSessionTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkSession, error) {
	s, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM work_sessions WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

// OpenSession returns the unended session of a maintainer on an issue.
func (r Repo) OpenSession(ctx context.Context, tx *sql.Tx, issueID, maintainerID string) (domain.WorkSession, error) {
	s, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM work_sessions WHERE issue_id=? AND maintainer_id=? AND ended_at IS NULL LIMIT 1`,
		issueID, maintainerID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

// OpenSessions lists unended sessions, filtered by maintainer and/or issue.
func (r Repo) OpenSessions(ctx context.Context, tx *sql.Tx, maintainerID, issueID string) ([]domain.WorkSession, error) {
	var q querier = r.DB
	if tx != nil {
		q = tx
	}
	query := `SELECT ` + sessionColumns + ` FROM work_sessions WHERE ended_at IS NULL`
	var args []any
	if maintainerID != "" {
		query += ` AND maintainer_id=?`
		args = append(args, maintainerID)
	}
	if issueID != "" {
		query += ` AND issue_id=?`
		args = append(args, issueID)
	}
	query += ` ORDER BY started_at`
	return querySessions(ctx, q, query, args...)
}

func (r Repo) ListSessions(ctx context.Context, issueID string) ([]domain.WorkSession, error) {
	sessions, err := querySessions(ctx, r.DB, `SELECT `+sessionColumns+` FROM work_sessions WHERE issue_id=? ORDER BY started_at, id`, issueID)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].Breaks, err = listBreaks(ctx, r.DB, sessions[i].ID); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func querySessions(ctx context.Context, q querier, query string, args ...any) ([]domain.WorkSession, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkSession
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

const breakColumns = `id,session_id,break_type,started_at,ended_at,duration_seconds`

func scanBreak(scan func(dest ...any) error) (domain.BreakSession, error) {
	var b domain.BreakSession
	var ended sql.NullString
	if err := scan(&b.ID, &b.SessionID, &b.BreakType, &b.StartedAt, &ended, &b.DurationSeconds); err != nil {
		return b, err
	}
	b.EndedAt = stringPtr(ended)
	return b, nil
}

func (r Repo) InsertBreak(ctx context.Context, tx *sql.Tx, b domain.BreakSession) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO break_sessions(`+breakColumns+`) VALUES (?,?,?,?,?,?)`,
		b.ID, b.SessionID, b.BreakType, b.StartedAt, nullableStringPtr(b.EndedAt), b.DurationSeconds)
	return err
}

func (r Repo) UpdateBreak(ctx context.Context, tx *sql.Tx, b domain.BreakSession) error {
	_, err := tx.ExecContext(ctx, `UPDATE break_sessions SET ended_at=?, duration_seconds=? WHERE id=?`,
		nullableStringPtr(b.EndedAt), b.DurationSeconds, b.ID)
	return err
}

// OpenBreak returns the unended break of a session.
func (r Repo) OpenBreak(ctx context.Context, tx *sql.Tx, sessionID string) (domain.BreakSession, error) {
	b, err := scanBreak(tx.QueryRowContext(ctx, `SELECT `+breakColumns+` FROM break_sessions WHERE session_id=? AND ended_at IS NULL LIMIT 1`, sessionID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	return b, err
}

// SumBreakSeconds totals the durations of the finished breaks of a session.
func (r Repo) SumBreakSeconds(ctx context.Context, tx *sql.Tx, sessionID string) (int64, error) {
	var total int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(duration_seconds),0) FROM break_sessions WHERE session_id=? AND ended_at IS NOT NULL`, sessionID).Scan(&total)
	return total, err
}

func (r Repo) ListBreaks(ctx context.Context, sessionID string) ([]domain.BreakSession, error) {
	return listBreaks(ctx, r.DB, sessionID)
}

func listBreaks(ctx context.Context, q querier, sessionID string) ([]domain.BreakSession, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+breakColumns+` FROM break_sessions WHERE session_id=? ORDER BY started_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BreakSession
	for rows.Next() {
		b, err := scanBreak(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
