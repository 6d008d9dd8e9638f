package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"issuehub/internal/activity"
	"issuehub/internal/domain"
	"issuehub/internal/engine/auth"
	"issuehub/internal/notify"
	"issuehub/internal/repo"
)

type ChangeStatusOptions struct {
	IssueID         string
	ActorID         string
	Status          string
	Comment         string
	ResolutionNotes string
}

// ChangeStatus applies a direct status move. Escalation, reassignment of
// escalated issues and reopening have their own operations.
func (e Engine) ChangeStatus(ctx context.Context, opts ChangeStatusOptions) (domain.Issue, error) {
	var from string
	var ended []domain.WorkSession
	issue, _, err := e.issueTx(ctx, opts.IssueID, opts.ActorID, auth.OpChangeStatus, func(tx *sql.Tx, actor domain.Actor, issue *domain.Issue) error {
		from = issue.Status
		if err := ensureStatusTransition(actor, *issue, opts.Status); err != nil {
			return err
		}
		before := *issue
		switch opts.Status {
		case domain.StatusInProgress:
			if err := e.ensureFocusFree(ctx, tx, *issue.AssigneeID, issue.ID); err != nil {
				return err
			}
		case domain.StatusResolved:
			notes := strings.TrimSpace(opts.ResolutionNotes)
			if notes == "" {
				notes = strings.TrimSpace(deref(issue.ResolutionNotes))
			}
			if notes == "" {
				return invalidInput("resolution notes are required to resolve an issue")
			}
			n, err := e.Repo.CountIncompleteWorkTasks(ctx, tx, issue.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return &IncompleteWorkTasksError{Count: n}
			}
			now := e.nowString()
			issue.ResolutionNotes = &notes
			issue.ResolvedAt = &now
		}
		if before.Status == domain.StatusInProgress && before.AssigneeID != nil {
			var err error
			if ended, err = e.endOpenSessions(ctx, tx, *before.AssigneeID, issue.ID); err != nil {
				return err
			}
		}
		issue.Status = opts.Status
		if opts.Status == domain.StatusResolved {
			issue.AssigneeID = nil
		}
		if err := e.save(ctx, tx, issue); err != nil {
			if opts.Status == domain.StatusInProgress && repo.IsUniqueViolation(err) {
				return e.concurrentWork(ctx, tx, *issue.AssigneeID, issue.ID)
			}
			return err
		}
		if err := e.history(ctx, tx, before, *issue, actor.ID, opts.Comment); err != nil {
			return err
		}
		desc := fmt.Sprintf("Status changed from %s to %s", domain.StatusLabel(before.Status), domain.StatusLabel(issue.Status))
		if opts.Comment != "" {
			desc += ": " + opts.Comment
		}
		return e.record(ctx, tx, *issue, actor.ID, activity.TypeForStatus(issue.Status), desc, before.Status, issue.Status)
	})
	if err != nil {
		return issue, err
	}
	e.sessionsEnded(ctx, ended)
	e.Metrics.Transition(ctx, from, issue.Status)
	return issue, nil
}

// ensureStatusTransition holds the role-gated status graph for direct moves.
func ensureStatusTransition(actor domain.Actor, issue domain.Issue, to string) error {
	from := issue.Status
	if !domain.ValidStatus(to) {
		return transitionErr(from, to, "unknown status")
	}
	if to == from {
		return transitionErr(from, to, "issue is already in this status")
	}
	switch to {
	case domain.StatusEscalated:
		return transitionErr(from, to, "use the escalate operation")
	case domain.StatusOpen:
		return transitionErr(from, to, "issues return to open only through reopen or reassignment")
	case domain.StatusClosed, domain.StatusCancelled:
		if !actor.IsAdmin() {
			return transitionErr(from, to, "only an admin may close or cancel an issue")
		}
		if from == domain.StatusClosed || from == domain.StatusCancelled {
			return transitionErr(from, to, "reopen the issue first")
		}
		return nil
	case domain.StatusInProgress:
		if from != domain.StatusOpen && from != domain.StatusAssigned {
			return transitionErr(from, to, "work can only start on an open or assigned issue")
		}
		if !issue.AssignedTo(actor.ID) {
			return transitionErr(from, to, "only the assignee may start work")
		}
		if issue.ReviewerSelectionPending {
			return transitionErr(from, to, "reviewers must be selected before work starts")
		}
		return nil
	case domain.StatusAssigned:
		if from != domain.StatusInProgress {
			return transitionErr(from, to, "use the assign operation")
		}
		if !issue.AssignedTo(actor.ID) {
			return transitionErr(from, to, "only the assignee may pause work")
		}
		return nil
	case domain.StatusResolved:
		if from != domain.StatusInProgress {
			return transitionErr(from, to, "only in-progress issues can be resolved")
		}
		if !issue.AssignedTo(actor.ID) {
			return transitionErr(from, to, "only the assignee may resolve")
		}
		return nil
	}
	return transitionErr(from, to, "transition not allowed")
}

// ensureFocusFree rejects starting work while the assignee holds another
// in-progress issue.
func (e Engine) ensureFocusFree(ctx context.Context, tx *sql.Tx, assigneeID, issueID string) error {
	_, err := e.Repo.FindInProgressIssue(ctx, tx, assigneeID, issueID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.concurrentWork(ctx, tx, assigneeID, issueID)
}

func (e Engine) concurrentWork(ctx context.Context, tx *sql.Tx, assigneeID, issueID string) error {
	blocking, err := e.Repo.FindInProgressIssue(ctx, tx, assigneeID, issueID)
	if err != nil {
		return fmt.Errorf("%w: %s already has an issue in progress", ErrConcurrentWorkLimit, assigneeID)
	}
	return &ConcurrentWorkError{AssigneeID: assigneeID, BlockingIssueID: blocking.ID, BlockingTitle: blocking.Title}
}

// Escalate hands the issue back to admin oversight. Only the assignee may
// escalate, from assigned or in_progress.
func (e Engine) Escalate(ctx context.Context, issueID, actorID, reason string) (domain.Issue, error) {
	reason = strings.TrimSpace(reason)
	var from string
	var ended []domain.WorkSession
	issue, _, err := e.issueTx(ctx, issueID, actorID, auth.OpEscalate, func(tx *sql.Tx, actor domain.Actor, issue *domain.Issue) error {
		from = issue.Status
		if issue.Status != domain.StatusAssigned && issue.Status != domain.StatusInProgress {
			return transitionErr(issue.Status, domain.StatusEscalated, "only assigned or in-progress issues can be escalated")
		}
		if !issue.AssignedTo(actor.ID) {
			return notAssigned("only the assignee may escalate issue %s", issue.ID)
		}
		if reason == "" {
			return invalidInput("escalation reason is required")
		}
		before := *issue
		if before.Status == domain.StatusInProgress {
			var err error
			if ended, err = e.endOpenSessions(ctx, tx, actor.ID, issue.ID); err != nil {
				return err
			}
		}
		now := e.nowString()
		issue.Status = domain.StatusEscalated
		issue.AssigneeID = nil
		issue.AssignedAt = nil
		issue.EscalationReason = &reason
		issue.EscalatedByID = &actor.ID
		issue.EscalatedAt = &now
		issue.EscalationCount++
		if err := e.save(ctx, tx, issue); err != nil {
			return err
		}
		if err := e.history(ctx, tx, before, *issue, actor.ID, reason); err != nil {
			return err
		}
		return e.record(ctx, tx, *issue, actor.ID, activity.Escalated,
			fmt.Sprintf("Escalated by %s: %s", actor.DisplayName(), reason), before.Status, issue.Status)
	})
	if err != nil {
		return issue, err
	}
	e.sessionsEnded(ctx, ended)
	e.Metrics.Transition(ctx, from, issue.Status)
	return issue, nil
}

type ReassignOptions struct {
	IssueID    string
	ActorID    string
	AssigneeID string
	Message    string
}

// ReassignEscalated returns an escalated issue to open under a new assignee.
// The escalation count is kept; the other escalation fields are cleared.
func (e Engine) ReassignEscalated(ctx context.Context, opts ReassignOptions) (domain.Issue, error) {
	var assignee domain.Actor
	issue, actor, err := e.issueTx(ctx, opts.IssueID, opts.ActorID, auth.OpReassignEscalated, func(tx *sql.Tx, actor domain.Actor, issue *domain.Issue) error {
		if issue.Status != domain.StatusEscalated {
			return transitionErr(issue.Status, domain.StatusOpen, "only escalated issues can be reassigned this way")
		}
		var err error
		assignee, err = e.loadAssignee(ctx, tx, issue.OrgID, opts.AssigneeID)
		if err != nil {
			return err
		}
		before := *issue
		now := e.nowString()
		issue.Status = domain.StatusOpen
		issue.AssigneeID = &assignee.ID
		issue.AssignedByID = &actor.ID
		issue.AssignedAt = &now
		issue.EscalationReason = nil
		issue.EscalatedByID = nil
		issue.EscalatedAt = nil
		if err := e.save(ctx, tx, issue); err != nil {
			return err
		}
		if err := e.history(ctx, tx, before, *issue, actor.ID, opts.Message); err != nil {
			return err
		}
		desc := fmt.Sprintf("Escalation resolved by reassigning to %s", assignee.DisplayName())
		if opts.Message != "" {
			desc += ": " + opts.Message
		}
		return e.record(ctx, tx, *issue, actor.ID, activity.EscalationReassigned, desc, deref(before.EscalatedByID), assignee.ID)
	})
	if err != nil {
		return issue, err
	}
	e.Metrics.Transition(ctx, domain.StatusEscalated, issue.Status)
	if e.notifiesPriority(issue.Priority) {
		e.notify(notify.KindIssueAssigned, issue, actor, []domain.Actor{assignee})
	}
	return issue, nil
}

// Reopen brings a resolved, closed or cancelled issue back into the workflow.
// Resolution and review data are cleared and resolution images deleted.
func (e Engine) Reopen(ctx context.Context, issueID, actorID, comment string) (domain.Issue, error) {
	var from string
	issue, _, err := e.issueTx(ctx, issueID, actorID, auth.OpReopen, func(tx *sql.Tx, actor domain.Actor, issue *domain.Issue) error {
		from = issue.Status
		if !domain.IsTerminal(issue.Status) {
			return transitionErr(issue.Status, domain.StatusOpen, "only resolved, closed or cancelled issues can be reopened")
		}
		before := *issue
		issue.Status = domain.StatusOpen
		if issue.AssigneeID != nil {
			issue.Status = domain.StatusAssigned
		}
		issue.ResolutionNotes = nil
		issue.ResolvedAt = nil
		issue.ReviewedByID = nil
		issue.ReviewedAt = nil
		issue.ReviewNotes = nil
		// the escalation count survives a reopen
		issue.EscalationReason = nil
		issue.EscalatedByID = nil
		issue.EscalatedAt = nil
		removed, err := e.Repo.DeleteResolutionImages(ctx, tx, issue.ID)
		if err != nil {
			return fmt.Errorf("delete resolution images: %w", err)
		}
		if err := e.save(ctx, tx, issue); err != nil {
			return err
		}
		if err := e.history(ctx, tx, before, *issue, actor.ID, comment); err != nil {
			return err
		}
		if removed > 0 {
			if err := e.record(ctx, tx, *issue, actor.ID, activity.ImageDeleted,
				fmt.Sprintf("Removed %d resolution image(s)", removed), "", ""); err != nil {
				return err
			}
		}
		return e.record(ctx, tx, *issue, actor.ID, activity.Reopened,
			fmt.Sprintf("Reopened from %s", domain.StatusLabel(before.Status)), before.Status, issue.Status)
	})
	if err != nil {
		return issue, err
	}
	e.Metrics.Transition(ctx, from, issue.Status)
	return issue, nil
}

// Review records a listed reviewer's sign-off on a resolved or closed issue.
func (e Engine) Review(ctx context.Context, issueID, actorID, notes string) (domain.Issue, error) {
	notes = strings.TrimSpace(notes)
	issue, _, err := e.issueTx(ctx, issueID, actorID, auth.OpReview, func(tx *sql.Tx, actor domain.Actor, issue *domain.Issue) error {
		if issue.Status != domain.StatusResolved && issue.Status != domain.StatusClosed {
			return transitionErr(issue.Status, issue.Status, "only resolved or closed issues can be reviewed")
		}
		now := e.nowString()
		issue.ReviewedByID = &actor.ID
		issue.ReviewedAt = &now
		issue.ReviewNotes = nil
		if notes != "" {
			issue.ReviewNotes = &notes
		}
		if err := e.save(ctx, tx, issue); err != nil {
			return err
		}
		return e.record(ctx, tx, *issue, actor.ID, activity.Reviewed,
			fmt.Sprintf("Reviewed by %s", actor.DisplayName()), "", notes)
	})
	return issue, err
}
