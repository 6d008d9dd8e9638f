package issuehubsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal IssueHub HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Issue represents the API issue model (partial).
type Issue struct {
	ID               string   `json:"id"`
	OrgID            string   `json:"org_id"`
	SpaceID          *string  `json:"space_id,omitempty"`
	ReporterID       string   `json:"reporter_id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Status           string   `json:"status"`
	Priority         string   `json:"priority"`
	AssigneeID       *string  `json:"assignee_id,omitempty"`
	RequiresReview   bool     `json:"requires_review"`
	ReviewerIDs      []string `json:"reviewer_ids,omitempty"`
	ResolutionNotes  *string  `json:"resolution_notes,omitempty"`
	EscalationReason *string  `json:"escalation_reason,omitempty"`
	EscalationCount  int      `json:"escalation_count"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

// WorkTask is a sub-step of an issue.
type WorkTask struct {
	ID         string `json:"id"`
	IssueID    string `json:"issue_id"`
	Title      string `json:"title"`
	AssigneeID string `json:"assignee_id"`
	Completed  bool   `json:"completed"`
}

// WorkSession is a focus-mode session.
type WorkSession struct {
	ID                string  `json:"id"`
	IssueID           string  `json:"issue_id"`
	MaintainerID      string  `json:"maintainer_id"`
	StartedAt         string  `json:"started_at"`
	EndedAt           *string `json:"ended_at,omitempty"`
	TotalBreakSeconds int64   `json:"total_break_seconds"`
	TotalWorkSeconds  int64   `json:"total_work_seconds"`
}

// Break is a pause inside a work session.
type Break struct {
	ID              string  `json:"id"`
	SessionID       string  `json:"session_id"`
	BreakType       string  `json:"break_type"`
	StartedAt       string  `json:"started_at"`
	EndedAt         *string `json:"ended_at,omitempty"`
	DurationSeconds int64   `json:"duration_seconds"`
}

// Activity represents an activity log entry.
type Activity struct {
	ID           int64   `json:"id"`
	IssueID      string  `json:"issue_id"`
	ActivityType string  `json:"activity_type"`
	ActorID      *string `json:"actor_id,omitempty"`
	Description  string  `json:"description"`
	OldValue     *string `json:"old_value,omitempty"`
	NewValue     *string `json:"new_value,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// PaginatedActivity wraps activity listings with a cursor.
type PaginatedActivity struct {
	Items      []Activity `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Details come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateIssueInput holds the fields of a new issue.
type CreateIssueInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	SpaceID     string   `json:"space_id,omitempty"`
	ImageURLs   []string `json:"image_urls,omitempty"`
}

// CreateIssue reports an issue.
func (c *Client) CreateIssue(ctx context.Context, in CreateIssueInput) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, "issues", in, &resp)
	return resp, err
}

// GetIssue fetches an issue.
func (c *Client) GetIssue(ctx context.Context, id string) (Issue, error) {
	var resp struct {
		Issue Issue `json:"issue"`
	}
	err := c.do(ctx, http.MethodGet, issuePath(id, ""), nil, &resp)
	return resp.Issue, err
}

// Assign hands an issue to a maintainer or supervisor.
func (c *Client) Assign(ctx context.Context, issueID, assigneeID string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, issuePath(issueID, "assign"), map[string]any{"assignee_id": assigneeID}, &resp)
	return resp, err
}

// ChangeStatus moves an issue. Notes are required when resolving.
func (c *Client) ChangeStatus(ctx context.Context, issueID, status, notes string) (Issue, error) {
	body := map[string]any{"status": status}
	if notes != "" {
		body["resolution_notes"] = notes
	}
	var resp Issue
	err := c.do(ctx, http.MethodPost, issuePath(issueID, "status"), body, &resp)
	return resp, err
}

// Escalate flags an issue for supervisor attention.
func (c *Client) Escalate(ctx context.Context, issueID, reason string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, issuePath(issueID, "escalate"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Reopen reopens a resolved or closed issue.
func (c *Client) Reopen(ctx context.Context, issueID, comment string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, issuePath(issueID, "reopen"), map[string]any{"comment": comment}, &resp)
	return resp, err
}

// AddWorkTask attaches a work task to an issue.
func (c *Client) AddWorkTask(ctx context.Context, issueID, title string) (WorkTask, error) {
	var resp WorkTask
	err := c.do(ctx, http.MethodPost, issuePath(issueID, "work-tasks"), map[string]any{"title": title}, &resp)
	return resp, err
}

// SetWorkTaskCompleted marks a work task done or not done.
func (c *Client) SetWorkTaskCompleted(ctx context.Context, taskID string, completed bool, notes string) (WorkTask, error) {
	var resp WorkTask
	endpoint := "work-tasks/" + url.PathEscape(taskID)
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"completed": completed, "notes": notes}, &resp)
	return resp, err
}

// EnterFocus opens a work session on an in-progress issue.
func (c *Client) EnterFocus(ctx context.Context, issueID string) (WorkSession, error) {
	var resp WorkSession
	err := c.do(ctx, http.MethodPost, issuePath(issueID, "focus"), nil, &resp)
	return resp, err
}

// StartBreak pauses a work session.
func (c *Client) StartBreak(ctx context.Context, sessionID, breakType string) (Break, error) {
	var resp Break
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "breaks"), map[string]any{"break_type": breakType}, &resp)
	return resp, err
}

// EndBreak resumes a paused work session.
func (c *Client) EndBreak(ctx context.Context, sessionID string) (Break, error) {
	var resp Break
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "breaks/end"), nil, &resp)
	return resp, err
}

// EndSession leaves focus mode.
func (c *Client) EndSession(ctx context.Context, sessionID string) (WorkSession, error) {
	var resp WorkSession
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "end"), nil, &resp)
	return resp, err
}

// ActivityPage returns one page of an issue's activity, newest first.
func (c *Client) ActivityPage(ctx context.Context, issueID string, limit int, cursor string) (PaginatedActivity, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := issuePath(issueID, "activity")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedActivity
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	return apiErr
}

func issuePath(id, sub string) string {
	p := "issues/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func sessionPath(id, sub string) string {
	return "focus/sessions/" + url.PathEscape(id) + "/" + sub
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
