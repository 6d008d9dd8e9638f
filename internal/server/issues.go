package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"issuehub/internal/domain"
	"issuehub/internal/engine"
	"issuehub/internal/repo"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

func registerDirectory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-space",
		Method:        http.MethodPost,
		Path:          "/spaces",
		Summary:       "Create space",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body struct {
			ID   string `json:"id,omitempty"`
			Name string `json:"name"`
		} `json:"body"`
	}) (*output[domain.Space], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateSpace(ctx, actorID, strings.TrimSpace(input.Body.ID), input.Body.Name)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-spaces",
		Method:      http.MethodGet,
		Path:        "/spaces",
		Summary:     "List spaces of the caller's organization",
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.Space], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		actor, err := e.Repo.GetActor(ctx, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		items, err := e.Repo.ListSpaces(ctx, actor.OrgID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-actor",
		Method:        http.MethodPost,
		Path:          "/actors",
		Summary:       "Add a member to the organization",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body struct {
			ID   string `json:"id,omitempty"`
			Name string `json:"name"`
			Role string `json:"role" enum:"central_admin,space_admin,supervisor,maintainer,reviewer,general_user"`
		} `json:"body"`
	}) (*output[domain.Actor], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateActor(ctx, actorID, engine.ActorOptions{ID: input.Body.ID, Name: input.Body.Name, Role: input.Body.Role})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-actor-active",
		Method:      http.MethodPatch,
		Path:        "/actors/{actor_id}",
		Summary:     "Enable or disable a member",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ActorID string `path:"actor_id"`
		Body    struct {
			Active bool `json:"active"`
		} `json:"body"`
	}) (*output[domain.Actor], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.SetActorActive(ctx, actorID, input.ActorID, input.Body.Active)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "assign-space-admin",
		Method:        http.MethodPut,
		Path:          "/spaces/{space_id}/admins/{actor_id}",
		Summary:       "Grant a space admin authority over a space",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		SpaceID string `path:"space_id"`
		ActorID string `path:"actor_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AssignSpaceAdmin(ctx, actorID, input.SpaceID, input.ActorID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-space-admin",
		Method:        http.MethodDelete,
		Path:          "/spaces/{space_id}/admins/{actor_id}",
		Summary:       "Revoke a space admin's authority over a space",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		SpaceID string `path:"space_id"`
		ActorID string `path:"actor_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeSpaceAdmin(ctx, actorID, input.SpaceID, input.ActorID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/issues",
		Summary:       "Report an issue",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateIssueRequest `json:"body"`
	}) (*output[domain.Issue], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.CreateIssue(ctx, engine.CreateIssueOptions{
			ReporterID:  actorID,
			SpaceID:     input.Body.SpaceID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    input.Body.Priority,
			ImageURLs:   input.Body.ImageURLs,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(issue), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/issues",
		Summary:     "List issues visible to the caller",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"open,assigned,in_progress,resolved,escalated,closed,cancelled"`
		AssigneeID string `query:"assignee_id"`
		SpaceID    string `query:"space_id"`
		ReporterID string `query:"reporter_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*output[[]domain.Issue], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListIssues(ctx, actorID, repo.IssueFilters{
			Status:     input.Status,
			AssigneeID: input.AssigneeID,
			SpaceID:    input.SpaceID,
			ReporterID: input.ReporterID,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}",
		Summary:     "Issue with work tasks, comments and images",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*output[IssueDetailsResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.GetIssueDetails(ctx, input.IssueID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(detailsResponse(d)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-issue",
		Method:      http.MethodPatch,
		Path:        "/issues/{issue_id}",
		Summary:     "Edit title, description or priority",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string               `path:"issue_id"`
		Body    UpdateDetailsRequest `json:"body"`
	}) (*output[domain.Issue], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.UpdateDetails(ctx, engine.UpdateDetailsOptions{
			IssueID:     input.IssueID,
			ActorID:     actorID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    input.Body.Priority,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(issue), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/comments",
		Summary:       "Comment on an issue",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string         `path:"issue_id"`
		Body    CommentRequest `json:"body"`
	}) (*output[domain.Comment], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.IssueID, actorID, input.Body.Body)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-image",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/images",
		Summary:       "Attach a report or resolution image",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string       `path:"issue_id"`
		Body    ImageRequest `json:"body"`
	}) (*output[domain.IssueImage], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		img, err := e.AddImage(ctx, input.IssueID, actorID, input.Body.Kind, input.Body.URL)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(img), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activity",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/activity",
		Summary:     "Issue activity, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
		Limit   int    `query:"limit" default:"50"`
		Cursor  string `query:"cursor"`
	}) (*output[paginatedActivity], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.ListActivity(ctx, input.IssueID, actorID, limit+1, before)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := paginatedActivity{Items: []domain.Activity{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		resp.Items = append(resp.Items, items...)
		return respond(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-history",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/history",
		Summary:     "Status and assignment history, newest first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*output[[]domain.StatusHistory], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListHistory(ctx, input.IssueID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(nonNilSlice(items)), nil
	})
}

func registerWorkflow(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "assign-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/assign",
		Summary:     "Assign an issue to a maintainer or supervisor",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string        `path:"issue_id"`
		Body    AssignRequest `json:"body"`
	}) (*output[domain.Issue], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.Assign(ctx, engine.AssignOptions{
			IssueID:        input.IssueID,
			AssigneeID:     input.Body.AssigneeID,
			ActorID:        actorID,
			RequiresReview: input.Body.RequiresReview,
			ReviewerIDs:    input.Body.ReviewerIDs,
			Comment:        input.Body.Comment,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(issue), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-reviewers",
		Method:      http.MethodPut,
		Path:        "/issues/{issue_id}/reviewers",
		Summary:     "Select reviewers",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string              `path:"issue_id"`
		Body    SetReviewersRequest `json:"body"`
	}) (*output[domain.Issue], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.SetReviewers(ctx, input.IssueID, actorID, input.Body.ReviewerIDs)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(issue), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-status",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/status",
		Summary:     "Move an issue along the status graph",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string              `path:"issue_id"`
		Body    ChangeStatusRequest `json:"body"`
	}) (*output[domain.Issue], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.ChangeStatus(ctx, engine.ChangeStatusOptions{
			IssueID:         input.IssueID,
			ActorID:         actorID,
			Status:          input.Body.Status,
			Comment:         input.Body.Comment,
			ResolutionNotes: input.Body.ResolutionNotes,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(issue), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/escalate",
		Summary:     "Escalate an assigned issue",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string          `path:"issue_id"`
		Body    EscalateRequest `json:"body"`
	}) (*output[domain.Issue], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.Escalate(ctx, input.IssueID, actorID, input.Body.Reason)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(issue), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reassign-escalated",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/reassign",
		Summary:     "Reassign an escalated issue",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string          `path:"issue_id"`
		Body    ReassignRequest `json:"body"`
	}) (*output[domain.Issue], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.ReassignEscalated(ctx, engine.ReassignOptions{
			IssueID:    input.IssueID,
			ActorID:    actorID,
			AssigneeID: input.Body.AssigneeID,
			Message:    input.Body.Message,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(issue), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/reopen",
		Summary:     "Reopen a resolved, closed or cancelled issue",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string        `path:"issue_id"`
		Body    *ReopenRequest `json:"body,omitempty" required:"false"`
	}) (*output[domain.Issue], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var comment string
		if input.Body != nil {
			comment = input.Body.Comment
		}
		issue, err := e.Reopen(ctx, input.IssueID, actorID, comment)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(issue), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/review",
		Summary:     "Record a reviewer sign-off",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string         `path:"issue_id"`
		Body    *ReviewRequest `json:"body,omitempty" required:"false"`
	}) (*output[domain.Issue], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var notes string
		if input.Body != nil {
			notes = input.Body.Notes
		}
		issue, err := e.Review(ctx, input.IssueID, actorID, notes)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(issue), nil
	})
}

func registerWorkTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-work-task",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/work-tasks",
		Summary:       "Add a work task",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string                `path:"issue_id"`
		Body    CreateWorkTaskRequest `json:"body"`
	}) (*output[domain.WorkTask], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		task, err := e.AddWorkTask(ctx, engine.WorkTaskOptions{
			IssueID:     input.IssueID,
			ActorID:     actorID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			AssigneeID:  input.Body.AssigneeID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(task), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-work-task",
		Method:      http.MethodPatch,
		Path:        "/work-tasks/{task_id}",
		Summary:     "Complete or reopen a work task",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string                  `path:"task_id"`
		Body   CompleteWorkTaskRequest `json:"body"`
	}) (*output[domain.WorkTask], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		task, err := e.SetWorkTaskCompleted(ctx, input.TaskID, actorID, input.Body.Completed, input.Body.Notes)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(task), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-work-task",
		Method:        http.MethodDelete,
		Path:          "/work-tasks/{task_id}",
		Summary:       "Delete a work task",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteWorkTask(ctx, input.TaskID, actorID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})
}
