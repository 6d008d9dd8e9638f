package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"issuehub/internal/domain"
	"issuehub/internal/engine/auth"
	"issuehub/internal/repo"
)

// EnterFocusMode opens a work session for the assignee of an in-progress
// issue. An existing open session is returned as is. Sessions the maintainer
// still has open on other issues are ended.
func (e Engine) EnterFocusMode(ctx context.Context, issueID, maintainerID string) (domain.WorkSession, error) {
	var session domain.WorkSession
	var ended []domain.WorkSession
	_, _, err := e.issueTx(ctx, issueID, maintainerID, auth.OpFocus, func(tx *sql.Tx, actor domain.Actor, issue *domain.Issue) error {
		if !issue.AssignedTo(actor.ID) {
			return notAssigned("issue %s is not assigned to %s", issue.ID, actor.ID)
		}
		if issue.Status != domain.StatusInProgress {
			return notAssigned("issue %s is %s, focus mode needs an in-progress issue", issue.ID, issue.Status)
		}
		existing, err := e.Repo.OpenSession(ctx, tx, issue.ID, actor.ID)
		if err == nil {
			session = existing
			return nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		others, err := e.Repo.OpenSessions(ctx, tx, actor.ID, "")
		if err != nil {
			return err
		}
		for _, s := range others {
			done, err := e.endSessionTx(ctx, tx, s)
			if err != nil {
				return err
			}
			ended = append(ended, done)
		}
		session = domain.WorkSession{
			ID:           uuid.NewString(),
			IssueID:      issue.ID,
			MaintainerID: actor.ID,
			StartedAt:    e.nowString(),
		}
		if err := e.Repo.InsertSession(ctx, tx, session); err != nil {
			if repo.IsUniqueViolation(err) {
				session, err = e.Repo.OpenSession(ctx, tx, issue.ID, actor.ID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.WorkSession{}, err
	}
	e.sessionsEnded(ctx, ended)
	session.Breaks, err = e.Repo.ListBreaks(ctx, session.ID)
	return session, err
}

// sessionTx loads a session owned by maintainerID inside a transaction.
func (e Engine) sessionTx(ctx context.Context, sessionID, maintainerID string, fn func(tx *sql.Tx, s *domain.WorkSession) error) (domain.WorkSession, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkSession{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return s, fmt.Errorf("session %s: %w", sessionID, err)
	}
	if s.MaintainerID != maintainerID {
		return s, e.reject(ctx, auth.OpFocus, notAssigned("session %s belongs to another maintainer", sessionID))
	}
	if err := fn(tx, &s); err != nil {
		return s, e.reject(ctx, auth.OpFocus, err)
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// StartBreak opens a break inside an open session.
func (e Engine) StartBreak(ctx context.Context, sessionID, maintainerID, breakType string) (domain.BreakSession, error) {
	var b domain.BreakSession
	if breakType == "" {
		breakType = "short"
	}
	if e.Config != nil && !e.Config.AllowsBreakType(breakType) {
		return b, invalidInput("unknown break type %q", breakType)
	}
	_, err := e.sessionTx(ctx, sessionID, maintainerID, func(tx *sql.Tx, s *domain.WorkSession) error {
		if !s.Open() {
			return invalidInput("session %s has ended", s.ID)
		}
		if _, err := e.Repo.OpenBreak(ctx, tx, s.ID); err == nil {
			return ErrBreakAlreadyActive
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		b = domain.BreakSession{ID: uuid.NewString(), SessionID: s.ID, BreakType: breakType, StartedAt: e.nowString()}
		if err := e.Repo.InsertBreak(ctx, tx, b); err != nil {
			if repo.IsUniqueViolation(err) {
				return ErrBreakAlreadyActive
			}
			return err
		}
		return nil
	})
	return b, err
}

// EndBreak closes the open break and refreshes the session's break total.
func (e Engine) EndBreak(ctx context.Context, sessionID, maintainerID string) (domain.BreakSession, error) {
	var b domain.BreakSession
	_, err := e.sessionTx(ctx, sessionID, maintainerID, func(tx *sql.Tx, s *domain.WorkSession) error {
		var err error
		b, err = e.Repo.OpenBreak(ctx, tx, s.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNoActiveBreak
		}
		if err != nil {
			return err
		}
		if err := e.closeBreak(ctx, tx, &b, e.now()); err != nil {
			return err
		}
		s.TotalBreakSeconds, err = e.Repo.SumBreakSeconds(ctx, tx, s.ID)
		if err != nil {
			return err
		}
		return e.Repo.UpdateSession(ctx, tx, *s)
	})
	return b, err
}

// EndSession ends any open break and closes the session, computing net work
// time. Ending an already ended session returns it unchanged.
func (e Engine) EndSession(ctx context.Context, sessionID, maintainerID string) (domain.WorkSession, error) {
	var closed bool
	s, err := e.sessionTx(ctx, sessionID, maintainerID, func(tx *sql.Tx, s *domain.WorkSession) error {
		if !s.Open() {
			return nil
		}
		ended, err := e.endSessionTx(ctx, tx, *s)
		*s = ended
		closed = err == nil
		return err
	})
	if err != nil {
		return s, err
	}
	if closed {
		e.sessionsEnded(ctx, []domain.WorkSession{s})
	}
	s.Breaks, err = e.Repo.ListBreaks(ctx, s.ID)
	return s, err
}

func (e Engine) closeBreak(ctx context.Context, tx *sql.Tx, b *domain.BreakSession, at time.Time) error {
	end := at.UTC().Format(time.RFC3339)
	b.EndedAt = &end
	b.DurationSeconds = secondsBetween(b.StartedAt, end)
	return e.Repo.UpdateBreak(ctx, tx, *b)
}

// endSessionTx closes s at the current time. Work time is the wall-clock
// span of the session minus its break total. Callers report the ended
// session with sessionsEnded once the transaction commits.
func (e Engine) endSessionTx(ctx context.Context, tx *sql.Tx, s domain.WorkSession) (domain.WorkSession, error) {
	now := e.now()
	if b, err := e.Repo.OpenBreak(ctx, tx, s.ID); err == nil {
		if err := e.closeBreak(ctx, tx, &b, now); err != nil {
			return s, err
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return s, err
	}
	breaks, err := e.Repo.SumBreakSeconds(ctx, tx, s.ID)
	if err != nil {
		return s, err
	}
	end := now.UTC().Format(time.RFC3339)
	s.EndedAt = &end
	s.TotalBreakSeconds = breaks
	s.TotalWorkSeconds = secondsBetween(s.StartedAt, end) - breaks
	if s.TotalWorkSeconds < 0 {
		s.TotalBreakSeconds = secondsBetween(s.StartedAt, end)
		s.TotalWorkSeconds = 0
	}
	if err := e.Repo.UpdateSession(ctx, tx, s); err != nil {
		return s, fmt.Errorf("end session %s: %w", s.ID, err)
	}
	return s, nil
}

// endOpenSessions ends the maintainer's open sessions on an issue and
// returns them.
func (e Engine) endOpenSessions(ctx context.Context, tx *sql.Tx, maintainerID, issueID string) ([]domain.WorkSession, error) {
	sessions, err := e.Repo.OpenSessions(ctx, tx, maintainerID, issueID)
	if err != nil {
		return nil, err
	}
	ended := make([]domain.WorkSession, 0, len(sessions))
	for _, s := range sessions {
		done, err := e.endSessionTx(ctx, tx, s)
		if err != nil {
			return nil, err
		}
		ended = append(ended, done)
	}
	return ended, nil
}

func (e Engine) sessionsEnded(ctx context.Context, sessions []domain.WorkSession) {
	for _, s := range sessions {
		e.Metrics.SessionEnded(ctx, s.TotalWorkSeconds)
	}
}

// ActiveSession returns the maintainer's open session, if any, with its breaks.
func (e Engine) ActiveSession(ctx context.Context, maintainerID string) (domain.WorkSession, error) {
	sessions, err := e.Repo.OpenSessions(ctx, nil, maintainerID, "")
	if err != nil {
		return domain.WorkSession{}, err
	}
	if len(sessions) == 0 {
		return domain.WorkSession{}, repo.ErrNotFound
	}
	s := sessions[len(sessions)-1]
	s.Breaks, err = e.Repo.ListBreaks(ctx, s.ID)
	return s, err
}

// ListSessions returns every session recorded on an issue.
func (e Engine) ListSessions(ctx context.Context, issueID, actorID string) ([]domain.WorkSession, error) {
	if _, err := e.ViewIssue(ctx, issueID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListSessions(ctx, issueID)
}

func secondsBetween(start, end string) int64 {
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return 0
	}
	t, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return 0
	}
	d := int64(t.Sub(s) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
