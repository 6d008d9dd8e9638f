package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"issuehub/internal/domain"
	"issuehub/internal/engine"
	"issuehub/internal/repo"
)

func registerFocus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "enter-focus",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/focus",
		Summary:     "Enter focus mode on an in-progress issue",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*output[domain.WorkSession], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.EnterFocusMode(ctx, input.IssueID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/sessions",
		Summary:     "Work sessions recorded on an issue",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*output[[]domain.WorkSession], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListSessions(ctx, input.IssueID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "active-session",
		Method:      http.MethodGet,
		Path:        "/focus/active",
		Summary:     "The caller's open work session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*output[domain.WorkSession], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.ActiveSession(ctx, actorID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no active session", nil)
		}
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-break",
		Method:        http.MethodPost,
		Path:          "/focus/sessions/{session_id}/breaks",
		Summary:       "Start a break",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		SessionID string             `path:"session_id"`
		Body      *StartBreakRequest `json:"body,omitempty" required:"false"`
	}) (*output[domain.BreakSession], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var breakType string
		if input.Body != nil {
			breakType = strings.TrimSpace(input.Body.BreakType)
		}
		b, err := e.StartBreak(ctx, input.SessionID, actorID, breakType)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "end-break",
		Method:      http.MethodPost,
		Path:        "/focus/sessions/{session_id}/breaks/end",
		Summary:     "End the open break",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*output[domain.BreakSession], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.EndBreak(ctx, input.SessionID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "end-session",
		Method:      http.MethodPost,
		Path:        "/focus/sessions/{session_id}/end",
		Summary:     "Leave focus mode",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*output[domain.WorkSession], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.EndSession(ctx, input.SessionID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(s), nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/me/api-keys",
		Summary:       "Mint an API key for the caller",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body *CreateAPIKeyRequest `json:"body,omitempty" required:"false"`
	}) (*output[APIKeyResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var name string
		if input.Body != nil {
			name = strings.TrimSpace(input.Body.Name)
		}
		key, plain, err := e.Repo.CreateAPIKey(ctx, actorID, name)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return respond(apiKeyResponse(key, plain)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/me/api-keys",
		Summary:     "List the caller's API keys",
	}, func(ctx context.Context, _ *struct{}) (*output[[]APIKeyResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		items := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			items = append(items, apiKeyResponse(k, ""))
		}
		return respond(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/me/api-keys/{key_id}",
		Summary:       "Revoke one of the caller's API keys",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		for _, k := range keys {
			if k.ID == input.KeyID {
				if err := e.Repo.DeleteAPIKey(ctx, k.ID); err != nil {
					return nil, handleError(ctx, err)
				}
				return &struct{}{}, nil
			}
		}
		return nil, newAPIError(http.StatusNotFound, "not_found", "api key not found", nil)
	})
}
