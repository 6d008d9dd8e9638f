package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"issuehub/internal/activity"
	"issuehub/internal/domain"
	"issuehub/internal/engine/auth"
)

type WorkTaskOptions struct {
	IssueID     string
	ActorID     string
	Title       string
	Description string
	AssigneeID  string
}

// AddWorkTask attaches a work task to an issue that is still being worked.
// The task defaults to the issue's assignee.
func (e Engine) AddWorkTask(ctx context.Context, opts WorkTaskOptions) (domain.WorkTask, error) {
	var task domain.WorkTask
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return task, invalidInput("work task title is required")
	}
	_, _, err := e.issueTx(ctx, opts.IssueID, opts.ActorID, auth.OpManageWorkTasks, func(tx *sql.Tx, actor domain.Actor, issue *domain.Issue) error {
		if domain.IsTerminal(issue.Status) {
			return transitionErr(issue.Status, issue.Status, "work tasks cannot be added to a finished issue")
		}
		assigneeID := opts.AssigneeID
		if assigneeID == "" {
			assigneeID = deref(issue.AssigneeID)
		}
		if assigneeID == "" {
			assigneeID = actor.ID
		}
		if assigneeID != actor.ID {
			if _, err := e.loadAssignee(ctx, tx, issue.OrgID, assigneeID); err != nil {
				return err
			}
		}
		task = domain.WorkTask{
			ID:          uuid.NewString(),
			IssueID:     issue.ID,
			Title:       title,
			Description: strings.TrimSpace(opts.Description),
			AssigneeID:  assigneeID,
			CreatedBy:   actor.ID,
			CreatedAt:   e.nowString(),
		}
		if err := e.Repo.InsertWorkTask(ctx, tx, task); err != nil {
			return fmt.Errorf("insert work task: %w", err)
		}
		return e.record(ctx, tx, *issue, actor.ID, activity.WorkTaskCreated,
			fmt.Sprintf("Work task %q created", task.Title), "", task.ID)
	})
	return task, err
}

// SetWorkTaskCompleted completes or reopens a work task. Completion needs notes.
func (e Engine) SetWorkTaskCompleted(ctx context.Context, taskID, actorID string, completed bool, notes string) (domain.WorkTask, error) {
	notes = strings.TrimSpace(notes)
	if completed && notes == "" {
		return domain.WorkTask{}, invalidInput("resolution notes are required to complete a work task")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkTask{}, err
	}
	defer tx.Rollback()

	task, err := e.Repo.GetWorkTaskTx(ctx, tx, taskID)
	if err != nil {
		return task, fmt.Errorf("work task %s: %w", taskID, err)
	}
	actor, err := e.Repo.GetActorTx(ctx, tx, actorID)
	if err != nil {
		return task, fmt.Errorf("actor %s: %w", actorID, err)
	}
	issue, err := e.Repo.GetIssueTx(ctx, tx, task.IssueID)
	if err != nil {
		return task, err
	}
	facts := auth.Facts{TaskAssignee: task.AssigneeID == actor.ID}
	if err := auth.AuthorizeWith(actor, issue, auth.OpCompleteWorkTask, facts); err != nil {
		return task, e.reject(ctx, auth.OpCompleteWorkTask, err)
	}
	if domain.IsTerminal(issue.Status) {
		return task, e.reject(ctx, auth.OpCompleteWorkTask,
			transitionErr(issue.Status, issue.Status, "work tasks of a finished issue are frozen"))
	}
	if task.Completed == completed {
		return task, nil
	}
	kind := activity.WorkTaskReopened
	task.Completed = completed
	if completed {
		now := e.nowString()
		task.CompletedAt = &now
		task.ResolutionNotes = &notes
		kind = activity.WorkTaskCompleted
	} else {
		task.CompletedAt = nil
	}
	if err := e.Repo.UpdateWorkTask(ctx, tx, task); err != nil {
		return task, fmt.Errorf("update work task: %w", err)
	}
	if err := e.record(ctx, tx, issue, actor.ID, kind,
		fmt.Sprintf("Work task %q %s", task.Title, strings.TrimPrefix(kind, "work_task_")), "", task.ID); err != nil {
		return task, err
	}
	if err := tx.Commit(); err != nil {
		return task, err
	}
	return task, nil
}

func (e Engine) DeleteWorkTask(ctx context.Context, taskID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	task, err := e.Repo.GetWorkTaskTx(ctx, tx, taskID)
	if err != nil {
		return fmt.Errorf("work task %s: %w", taskID, err)
	}
	actor, err := e.Repo.GetActorTx(ctx, tx, actorID)
	if err != nil {
		return fmt.Errorf("actor %s: %w", actorID, err)
	}
	issue, err := e.Repo.GetIssueTx(ctx, tx, task.IssueID)
	if err != nil {
		return err
	}
	if err := auth.Authorize(actor, issue, auth.OpManageWorkTasks); err != nil {
		return e.reject(ctx, auth.OpManageWorkTasks, err)
	}
	if domain.IsTerminal(issue.Status) {
		return e.reject(ctx, auth.OpManageWorkTasks,
			transitionErr(issue.Status, issue.Status, "work tasks of a finished issue are frozen"))
	}
	if err := e.Repo.DeleteWorkTask(ctx, tx, task.ID); err != nil {
		return err
	}
	if err := e.record(ctx, tx, issue, actor.ID, activity.WorkTaskDeleted,
		fmt.Sprintf("Work task %q deleted", task.Title), task.ID, ""); err != nil {
		return err
	}
	return tx.Commit()
}
