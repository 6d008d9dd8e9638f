package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"issuehub/internal/activity"
	"issuehub/internal/domain"
	"issuehub/internal/engine/auth"
	"issuehub/internal/notify"
	"issuehub/internal/repo"
)

type CreateIssueOptions struct {
	ReporterID  string
	SpaceID     string
	Title       string
	Description string
	Priority    string
	ImageURLs   []string
}

// CreateIssue files a new open issue and alerts the organization's central
// admins and the admins of its space.
func (e Engine) CreateIssue(ctx context.Context, opts CreateIssueOptions) (domain.Issue, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Issue{}, invalidInput("title is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !domain.ValidPriority(opts.Priority) {
		return domain.Issue{}, invalidInput("unknown priority %q", opts.Priority)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	reporter, err := e.Repo.GetActorTx(ctx, tx, opts.ReporterID)
	if err != nil {
		return domain.Issue{}, fmt.Errorf("reporter %s: %w", opts.ReporterID, err)
	}
	if !reporter.Active {
		return domain.Issue{}, &auth.ForbiddenError{ActorID: reporter.ID, Op: "create", Reason: "actor is inactive"}
	}
	now := e.nowString()
	issue := domain.Issue{
		ID:          uuid.NewString(),
		OrgID:       reporter.OrgID,
		ReporterID:  reporter.ID,
		Title:       opts.Title,
		Description: strings.TrimSpace(opts.Description),
		Status:      domain.StatusOpen,
		Priority:    opts.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.SpaceID != "" {
		space, err := e.Repo.GetSpaceTx(ctx, tx, opts.SpaceID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Issue{}, invalidInput("space %s not found", opts.SpaceID)
		}
		if err != nil {
			return domain.Issue{}, err
		}
		if space.OrgID != reporter.OrgID {
			return domain.Issue{}, invalidInput("space %s belongs to another organization", opts.SpaceID)
		}
		issue.SpaceID = &space.ID
	}
	if err := e.Repo.InsertIssue(ctx, tx, issue); err != nil {
		return domain.Issue{}, fmt.Errorf("insert issue: %w", err)
	}
	for _, url := range opts.ImageURLs {
		if strings.TrimSpace(url) == "" {
			continue
		}
		img := domain.IssueImage{ID: uuid.NewString(), IssueID: issue.ID, Kind: domain.ImageReport, URL: url, UploadedBy: reporter.ID, CreatedAt: now}
		if err := e.Repo.InsertImage(ctx, tx, img); err != nil {
			return domain.Issue{}, fmt.Errorf("insert image: %w", err)
		}
	}
	if err := e.record(ctx, tx, issue, reporter.ID, activity.Created,
		fmt.Sprintf("Issue %q reported by %s", issue.Title, reporter.DisplayName()), "", issue.Status); err != nil {
		return domain.Issue{}, err
	}
	recipients, err := e.issueCreatedRecipients(ctx, tx, issue)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	e.notify(notify.KindIssueCreated, issue, reporter, recipients)
	return issue, nil
}

// issueCreatedRecipients returns the central admins plus, for an issue filed
// in a space, that space's admins.
func (e Engine) issueCreatedRecipients(ctx context.Context, tx *sql.Tx, issue domain.Issue) ([]domain.Actor, error) {
	recipients, err := e.Repo.ListActorsTx(ctx, tx, repo.ActorFilters{OrgID: issue.OrgID, Role: domain.RoleCentralAdmin})
	if err != nil {
		return nil, err
	}
	if issue.SpaceID == nil {
		return recipients, nil
	}
	ids, err := e.Repo.SpaceAdminIDs(ctx, tx, *issue.SpaceID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if slices.ContainsFunc(recipients, func(a domain.Actor) bool { return a.ID == id }) {
			continue
		}
		admin, err := e.Repo.GetActorTx(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("space admin %s: %w", id, err)
		}
		recipients = append(recipients, admin)
	}
	return recipients, nil
}

type AssignOptions struct {
	IssueID        string
	AssigneeID     string
	ActorID        string
	RequiresReview bool
	ReviewerIDs    []string
	Comment        string
}

// Assign hands the issue to a maintainer or supervisor and moves it to assigned.
func (e Engine) Assign(ctx context.Context, opts AssignOptions) (domain.Issue, error) {
	var assignee domain.Actor
	var from string
	var ended []domain.WorkSession
	issue, actor, err := e.issueTx(ctx, opts.IssueID, opts.ActorID, auth.OpAssign, func(tx *sql.Tx, actor domain.Actor, issue *domain.Issue) error {
		if domain.IsTerminal(issue.Status) {
			return transitionErr(issue.Status, domain.StatusAssigned, "issue must be reopened before it can be assigned")
		}
		if issue.Status == domain.StatusEscalated {
			return transitionErr(issue.Status, domain.StatusAssigned, "escalated issues move forward through reassignment")
		}
		var err error
		assignee, err = e.loadAssignee(ctx, tx, issue.OrgID, opts.AssigneeID)
		if err != nil {
			return err
		}
		before := *issue
		from = before.Status
		if before.Status == domain.StatusInProgress && before.AssigneeID != nil {
			if ended, err = e.endOpenSessions(ctx, tx, *before.AssigneeID, issue.ID); err != nil {
				return err
			}
		}
		now := e.nowString()
		issue.AssigneeID = &assignee.ID
		issue.AssignedByID = &actor.ID
		issue.AssignedAt = &now
		issue.Status = domain.StatusAssigned
		issue.RequiresReview = opts.RequiresReview
		issue.ReviewerSelectionPending = false
		if opts.RequiresReview {
			if len(opts.ReviewerIDs) == 0 && len(issue.ReviewerIDs) == 0 {
				issue.ReviewerSelectionPending = true
			}
			if len(opts.ReviewerIDs) > 0 {
				if err := e.applyReviewers(ctx, tx, actor, issue, opts.ReviewerIDs); err != nil {
					return err
				}
			}
		}
		if err := e.save(ctx, tx, issue); err != nil {
			return err
		}
		kind, desc := activity.Assigned, fmt.Sprintf("Assigned to %s", assignee.DisplayName())
		if before.AssigneeID != nil && *before.AssigneeID != assignee.ID {
			kind, desc = activity.Reassigned, fmt.Sprintf("Reassigned from %s to %s", *before.AssigneeID, assignee.DisplayName())
		}
		if err := e.record(ctx, tx, *issue, actor.ID, kind, desc, deref(before.AssigneeID), assignee.ID); err != nil {
			return err
		}
		if before.Status != issue.Status || deref(before.AssigneeID) != assignee.ID {
			return e.history(ctx, tx, before, *issue, actor.ID, opts.Comment)
		}
		return nil
	})
	if err != nil {
		return issue, err
	}
	e.sessionsEnded(ctx, ended)
	if from != issue.Status {
		e.Metrics.Transition(ctx, from, issue.Status)
	}
	if e.notifiesPriority(issue.Priority) {
		e.notify(notify.KindIssueAssigned, issue, actor, []domain.Actor{assignee})
	}
	return issue, nil
}

// SetReviewers completes a review-requiring assignment by naming its reviewers.
func (e Engine) SetReviewers(ctx context.Context, issueID, actorID string, reviewerIDs []string) (domain.Issue, error) {
	issue, _, err := e.issueTx(ctx, issueID, actorID, auth.OpSetReviewers, func(tx *sql.Tx, actor domain.Actor, issue *domain.Issue) error {
		if issue.Status == domain.StatusClosed || issue.Status == domain.StatusCancelled {
			return transitionErr(issue.Status, issue.Status, "reviewers cannot change on a closed or cancelled issue")
		}
		if len(reviewerIDs) == 0 {
			return invalidInput("at least one reviewer is required")
		}
		if err := e.applyReviewers(ctx, tx, actor, issue, reviewerIDs); err != nil {
			return err
		}
		issue.RequiresReview = true
		issue.ReviewerSelectionPending = false
		return e.save(ctx, tx, issue)
	})
	return issue, err
}

func (e Engine) applyReviewers(ctx context.Context, tx *sql.Tx, actor domain.Actor, issue *domain.Issue, reviewerIDs []string) error {
	seen := map[string]bool{}
	var ids []string
	for _, id := range reviewerIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		r, err := e.Repo.GetActorTx(ctx, tx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return invalidInput("reviewer %s not found", id)
		}
		if err != nil {
			return err
		}
		if r.OrgID != issue.OrgID || !r.Active {
			return invalidInput("reviewer %s is not an active member of the organization", id)
		}
		if r.Role != domain.RoleReviewer && !r.IsAdmin() {
			return invalidInput("reviewer %s has role %s", id, r.Role)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return invalidInput("at least one reviewer is required")
	}
	old := strings.Join(issue.ReviewerIDs, ",")
	if err := e.Repo.SetReviewers(ctx, tx, issue.ID, ids); err != nil {
		return fmt.Errorf("set reviewers: %w", err)
	}
	issue.ReviewerIDs = ids
	return e.record(ctx, tx, *issue, actor.ID, activity.ReviewRequested,
		fmt.Sprintf("Review requested from %d reviewer(s)", len(ids)), old, strings.Join(ids, ","))
}

type UpdateDetailsOptions struct {
	IssueID     string
	ActorID     string
	Title       *string
	Description *string
	Priority    *string
}

// UpdateDetails edits title, description and priority.
func (e Engine) UpdateDetails(ctx context.Context, opts UpdateDetailsOptions) (domain.Issue, error) {
	issue, _, err := e.issueTx(ctx, opts.IssueID, opts.ActorID, auth.OpUpdateDetails, func(tx *sql.Tx, actor domain.Actor, issue *domain.Issue) error {
		if issue.Status == domain.StatusClosed || issue.Status == domain.StatusCancelled {
			return transitionErr(issue.Status, issue.Status, "closed and cancelled issues are read-only")
		}
		changed := false
		if opts.Title != nil {
			title := strings.TrimSpace(*opts.Title)
			if title == "" {
				return invalidInput("title cannot be empty")
			}
			if title != issue.Title {
				if err := e.record(ctx, tx, *issue, actor.ID, activity.Updated, "Title updated", issue.Title, title); err != nil {
					return err
				}
				issue.Title = title
				changed = true
			}
		}
		if opts.Description != nil && strings.TrimSpace(*opts.Description) != issue.Description {
			desc := strings.TrimSpace(*opts.Description)
			if err := e.record(ctx, tx, *issue, actor.ID, activity.Updated, "Description updated", issue.Description, desc); err != nil {
				return err
			}
			issue.Description = desc
			changed = true
		}
		if opts.Priority != nil && *opts.Priority != issue.Priority {
			if !domain.ValidPriority(*opts.Priority) {
				return invalidInput("unknown priority %q", *opts.Priority)
			}
			if err := e.record(ctx, tx, *issue, actor.ID, activity.PriorityChanged,
				fmt.Sprintf("Priority changed from %s to %s", domain.PriorityLabel(issue.Priority), domain.PriorityLabel(*opts.Priority)),
				issue.Priority, *opts.Priority); err != nil {
				return err
			}
			issue.Priority = *opts.Priority
			changed = true
		}
		if !changed {
			return nil
		}
		return e.save(ctx, tx, issue)
	})
	return issue, err
}

func (e Engine) AddComment(ctx context.Context, issueID, actorID, body string) (domain.Comment, error) {
	var c domain.Comment
	body = strings.TrimSpace(body)
	if body == "" {
		return c, invalidInput("comment body is required")
	}
	_, _, err := e.issueTx(ctx, issueID, actorID, auth.OpComment, func(tx *sql.Tx, actor domain.Actor, issue *domain.Issue) error {
		c = domain.Comment{ID: uuid.NewString(), IssueID: issue.ID, AuthorID: actor.ID, Body: body, CreatedAt: e.nowString()}
		if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		return e.record(ctx, tx, *issue, actor.ID, activity.CommentAdded, fmt.Sprintf("%s commented", actor.DisplayName()), "", c.ID)
	})
	return c, err
}

// AddImage attaches a report or resolution image to the issue.
func (e Engine) AddImage(ctx context.Context, issueID, actorID, kind, url string) (domain.IssueImage, error) {
	var img domain.IssueImage
	if kind == "" {
		kind = domain.ImageReport
	}
	if kind != domain.ImageReport && kind != domain.ImageResolution {
		return img, invalidInput("unknown image kind %q", kind)
	}
	if strings.TrimSpace(url) == "" {
		return img, invalidInput("image url is required")
	}
	_, _, err := e.issueTx(ctx, issueID, actorID, auth.OpAddImage, func(tx *sql.Tx, actor domain.Actor, issue *domain.Issue) error {
		if kind == domain.ImageResolution && !issue.AssignedTo(actor.ID) && !actor.IsAdmin() {
			return notAssigned("only the assignee may attach resolution images")
		}
		img = domain.IssueImage{ID: uuid.NewString(), IssueID: issue.ID, Kind: kind, URL: url, UploadedBy: actor.ID, CreatedAt: e.nowString()}
		if err := e.Repo.InsertImage(ctx, tx, img); err != nil {
			return fmt.Errorf("insert image: %w", err)
		}
		return e.record(ctx, tx, *issue, actor.ID, activity.ImageAdded, fmt.Sprintf("Added %s image", kind), "", url)
	})
	return img, err
}

// IssueDetails is an issue with its collaborators.
type IssueDetails struct {
	Issue     domain.Issue        `json:"issue"`
	WorkTasks []domain.WorkTask   `json:"work_tasks"`
	Comments  []domain.Comment    `json:"comments"`
	Images    []domain.IssueImage `json:"images"`
}

// ViewIssue loads an issue after checking the actor may see it.
func (e Engine) ViewIssue(ctx context.Context, issueID, actorID string) (domain.Issue, error) {
	actor, err := e.Repo.GetActor(ctx, actorID)
	if err != nil {
		return domain.Issue{}, fmt.Errorf("actor %s: %w", actorID, err)
	}
	issue, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return issue, fmt.Errorf("issue %s: %w", issueID, err)
	}
	if err := e.authorizeView(ctx, actor, issue); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

func (e Engine) GetIssueDetails(ctx context.Context, issueID, actorID string) (IssueDetails, error) {
	issue, err := e.ViewIssue(ctx, issueID, actorID)
	if err != nil {
		return IssueDetails{}, err
	}
	d := IssueDetails{Issue: issue}
	if d.WorkTasks, err = e.Repo.ListWorkTasks(ctx, issue.ID); err != nil {
		return d, err
	}
	if d.Comments, err = e.Repo.ListComments(ctx, issue.ID); err != nil {
		return d, err
	}
	if d.Images, err = e.Repo.ListImages(ctx, issue.ID); err != nil {
		return d, err
	}
	return d, nil
}

func (e Engine) authorizeView(ctx context.Context, actor domain.Actor, issue domain.Issue) error {
	facts := auth.Facts{}
	if actor.Role == domain.RoleMaintainer && !issue.AssignedTo(actor.ID) {
		ok, err := e.Repo.IsTaskAssignee(ctx, issue.ID, actor.ID)
		if err != nil {
			return err
		}
		facts.TaskAssignee = ok
	}
	return auth.AuthorizeWith(actor, issue, auth.OpView, facts)
}

// ListIssues returns the issues of the actor's organization the actor may see.
func (e Engine) ListIssues(ctx context.Context, actorID string, f repo.IssueFilters) ([]domain.Issue, error) {
	actor, err := e.Repo.GetActor(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("actor %s: %w", actorID, err)
	}
	f.OrgID = actor.OrgID
	switch actor.Role {
	case domain.RoleGeneralUser:
		f.ReporterID = actor.ID
	}
	issues, err := e.Repo.ListIssues(ctx, f)
	if err != nil {
		return nil, err
	}
	var visible []domain.Issue
	for _, issue := range issues {
		err := e.authorizeView(ctx, actor, issue)
		var forbidden *auth.ForbiddenError
		if errors.As(err, &forbidden) {
			continue
		}
		if err != nil {
			return nil, err
		}
		visible = append(visible, issue)
	}
	return visible, nil
}

func (e Engine) ListActivity(ctx context.Context, issueID, actorID string, limit int, before int64) ([]domain.Activity, error) {
	if _, err := e.ViewIssue(ctx, issueID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListActivities(ctx, issueID, limit, before)
}

func (e Engine) ListHistory(ctx context.Context, issueID, actorID string) ([]domain.StatusHistory, error) {
	if _, err := e.ViewIssue(ctx, issueID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListStatusHistory(ctx, issueID)
}
