package server

import (
	"issuehub/internal/domain"
	"issuehub/internal/engine"
)

// Request payloads

type CreateIssueRequest struct {
	Title       string   `json:"title" minLength:"1"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty" enum:"low,medium,high,critical"`
	SpaceID     string   `json:"space_id,omitempty"`
	ImageURLs   []string `json:"image_urls,omitempty"`
}

type AssignRequest struct {
	AssigneeID     string   `json:"assignee_id"`
	RequiresReview bool     `json:"requires_review,omitempty"`
	ReviewerIDs    []string `json:"reviewer_ids,omitempty"`
	Comment        string   `json:"comment,omitempty"`
}

type SetReviewersRequest struct {
	ReviewerIDs []string `json:"reviewer_ids"`
}

type ChangeStatusRequest struct {
	Status          string `json:"status" enum:"open,assigned,in_progress,resolved,escalated,closed,cancelled"`
	Comment         string `json:"comment,omitempty"`
	ResolutionNotes string `json:"resolution_notes,omitempty"`
}

type EscalateRequest struct {
	Reason string `json:"reason"`
}

type ReassignRequest struct {
	AssigneeID string `json:"assignee_id"`
	Message    string `json:"message,omitempty"`
}

type ReopenRequest struct {
	Comment string `json:"comment,omitempty"`
}

type ReviewRequest struct {
	Notes string `json:"notes,omitempty"`
}

type UpdateDetailsRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high,critical"`
}

type CreateWorkTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
}

type CompleteWorkTaskRequest struct {
	Completed bool   `json:"completed"`
	Notes     string `json:"notes,omitempty"`
}

type CommentRequest struct {
	Body string `json:"body"`
}

type ImageRequest struct {
	Kind string `json:"kind,omitempty" enum:"report,resolution"`
	URL  string `json:"url"`
}

type StartBreakRequest struct {
	BreakType string `json:"break_type,omitempty"`
}

type DeviceTokenRequest struct {
	Token string `json:"token"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type MeResponse struct {
	ActorID  string   `json:"actor_id"`
	OrgID    string   `json:"org_id"`
	Name     string   `json:"name,omitempty"`
	Role     string   `json:"role"`
	SpaceIDs []string `json:"space_ids"`
	Source   string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type IssueDetailsResponse struct {
	Issue     domain.Issue        `json:"issue"`
	WorkTasks []domain.WorkTask   `json:"work_tasks"`
	Comments  []domain.Comment    `json:"comments"`
	Images    []domain.IssueImage `json:"images"`
}

type paginatedActivity struct {
	Items      []domain.Activity `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func detailsResponse(d engine.IssueDetails) IssueDetailsResponse {
	return IssueDetailsResponse{
		Issue:     d.Issue,
		WorkTasks: nonNilSlice(d.WorkTasks),
		Comments:  nonNilSlice(d.Comments),
		Images:    nonNilSlice(d.Images),
	}
}

func apiKeyResponse(k domain.APIKey, plain string) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, Name: k.Name, Key: plain, CreatedAt: k.CreatedAt}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
