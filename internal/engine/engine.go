package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"issuehub/internal/activity"
	"issuehub/internal/config"
	"issuehub/internal/domain"
	"issuehub/internal/engine/auth"
	"issuehub/internal/notify"
	"issuehub/internal/repo"
	"issuehub/internal/telemetry"
)

// Notifier accepts push notifications for asynchronous delivery.
type Notifier interface {
	Enqueue(n notify.Notification) bool
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Config   *config.Config
	Notifier Notifier
	Metrics  *telemetry.Workflow
	Log      zerolog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Log:    zerolog.Nop(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) audit() activity.Log {
	return activity.Log{Now: e.now}
}

// issueTx is the unit of work shared by issue mutations: it loads the actor
// and the issue inside one immediate transaction, authorizes op, runs fn and
// commits. fn mutates issue in place and persists it.
func (e Engine) issueTx(ctx context.Context, issueID, actorID string, op auth.Operation, fn func(tx *sql.Tx, actor domain.Actor, issue *domain.Issue) error) (domain.Issue, domain.Actor, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, domain.Actor{}, err
	}
	defer tx.Rollback()

	actor, err := e.Repo.GetActorTx(ctx, tx, actorID)
	if err != nil {
		return domain.Issue{}, domain.Actor{}, fmt.Errorf("actor %s: %w", actorID, err)
	}
	issue, err := e.Repo.GetIssueTx(ctx, tx, issueID)
	if err != nil {
		return domain.Issue{}, actor, fmt.Errorf("issue %s: %w", issueID, err)
	}
	if err := auth.Authorize(actor, issue, op); err != nil {
		return issue, actor, e.reject(ctx, op, err)
	}
	if err := fn(tx, actor, &issue); err != nil {
		return issue, actor, e.reject(ctx, op, err)
	}
	if err := tx.Commit(); err != nil {
		return issue, actor, err
	}
	return issue, actor, nil
}

// reject counts business-rule rejections and passes err through.
func (e Engine) reject(ctx context.Context, op auth.Operation, err error) error {
	if kind := ErrorKind(err); kind != "internal" {
		e.Metrics.Rejected(ctx, string(op), kind)
	}
	return err
}

// save stamps updated_at and writes the issue.
func (e Engine) save(ctx context.Context, tx *sql.Tx, issue *domain.Issue) error {
	issue.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateIssue(ctx, tx, *issue); err != nil {
		return fmt.Errorf("update issue %s: %w", issue.ID, err)
	}
	return nil
}

func (e Engine) record(ctx context.Context, tx *sql.Tx, issue domain.Issue, actorID, kind, description, oldValue, newValue string) error {
	return e.audit().Record(ctx, tx, activity.Entry{
		IssueID:     issue.ID,
		OrgID:       issue.OrgID,
		Type:        kind,
		ActorID:     actorID,
		Description: description,
		OldValue:    oldValue,
		NewValue:    newValue,
	})
}

// history writes the status trail row for a before/after pair of snapshots.
func (e Engine) history(ctx context.Context, tx *sql.Tx, before, after domain.Issue, actorID, comment string) error {
	return e.audit().History(ctx, tx, activity.HistoryEntry{
		IssueID:     after.ID,
		OldStatus:   before.Status,
		NewStatus:   after.Status,
		OldAssignee: before.AssigneeID,
		NewAssignee: after.AssigneeID,
		ActorID:     actorID,
		Comment:     comment,
	})
}

// loadAssignee checks that id names an active maintainer or supervisor of org.
func (e Engine) loadAssignee(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.Actor, error) {
	if id == "" {
		return domain.Actor{}, invalidInput("assignee is required")
	}
	a, err := e.Repo.GetActorTx(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return a, invalidInput("assignee %s not found", id)
	}
	if err != nil {
		return a, err
	}
	if a.OrgID != orgID {
		return a, invalidInput("assignee %s belongs to another organization", id)
	}
	if !a.Active {
		return a, invalidInput("assignee %s is inactive", id)
	}
	if a.Role != domain.RoleMaintainer && a.Role != domain.RoleSupervisor {
		return a, invalidInput("assignee %s must be a maintainer or supervisor, not %s", id, a.Role)
	}
	return a, nil
}

// notify hands a message to the notifier. Delivery problems never fail the
// mutation that triggered them.
func (e Engine) notify(kind string, issue domain.Issue, by domain.Actor, recipients []domain.Actor) {
	if e.Notifier == nil {
		return
	}
	tokens := notify.CollectTokens(recipients)
	if len(tokens) == 0 {
		e.Log.Debug().Str("issue", issue.ID).Str("type", kind).Msg("no device tokens to notify")
		return
	}
	e.Notifier.Enqueue(notify.Notification{
		Message: notify.BuildIssueMessage(kind, issue, by),
		Tokens:  tokens,
	})
}

func (e Engine) notifiesPriority(priority string) bool {
	if e.Config == nil {
		return priority == domain.PriorityHigh || priority == domain.PriorityCritical
	}
	return e.Config.NotifiesPriority(priority)
}

func strPtr(s string) *string {
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
