package domain

// Issue statuses.
const (
	StatusOpen       = "open"
	StatusAssigned   = "assigned"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusEscalated  = "escalated"
	StatusClosed     = "closed"
	StatusCancelled  = "cancelled"
)

// Issue priorities.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Actor roles.
const (
	RoleCentralAdmin = "central_admin"
	RoleSpaceAdmin   = "space_admin"
	RoleSupervisor   = "supervisor"
	RoleMaintainer   = "maintainer"
	RoleReviewer     = "reviewer"
	RoleGeneralUser  = "general_user"
)

var (
	Statuses   = []string{StatusOpen, StatusAssigned, StatusInProgress, StatusResolved, StatusEscalated, StatusClosed, StatusCancelled}
	Priorities = []string{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
	Roles      = []string{RoleCentralAdmin, RoleSpaceAdmin, RoleSupervisor, RoleMaintainer, RoleReviewer, RoleGeneralUser}
)

var statusLabels = map[string]string{
	StatusOpen:       "Open",
	StatusAssigned:   "Assigned",
	StatusInProgress: "In Progress",
	StatusResolved:   "Resolved",
	StatusEscalated:  "Escalated",
	StatusClosed:     "Closed",
	StatusCancelled:  "Cancelled",
}

var priorityLabels = map[string]string{
	PriorityLow:      "Low",
	PriorityMedium:   "Medium",
	PriorityHigh:     "High",
	PriorityCritical: "Critical",
}

// StatusLabel returns the display label of a status, or the raw value when unknown.
func StatusLabel(s string) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return s
}

// PriorityLabel returns the display label of a priority.
func PriorityLabel(p string) string {
	if l, ok := priorityLabels[p]; ok {
		return l
	}
	return p
}

func ValidStatus(s string) bool {
	_, ok := statusLabels[s]
	return ok
}

func ValidPriority(p string) bool {
	_, ok := priorityLabels[p]
	return ok
}

func ValidRole(r string) bool {
	for _, role := range Roles {
		if role == r {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status needs an explicit reopen to move again.
func IsTerminal(s string) bool {
	return s == StatusResolved || s == StatusClosed || s == StatusCancelled
}

type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Space struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Actor struct {
	ID        string   `json:"id"`
	OrgID     string   `json:"org_id"`
	Name      string   `json:"name"`
	Role      string   `json:"role" enum:"central_admin,space_admin,supervisor,maintainer,reviewer,general_user"`
	Active    bool     `json:"active"`
	FCMToken  *string  `json:"fcm_token,omitempty"`
	SpaceIDs  []string `json:"space_ids,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

// DisplayName falls back to the actor id when no name is set.
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleCentralAdmin || a.Role == RoleSpaceAdmin
}

type Issue struct {
	ID                       string   `json:"id"`
	OrgID                    string   `json:"org_id"`
	SpaceID                  *string  `json:"space_id,omitempty"`
	ReporterID               string   `json:"reporter_id"`
	Title                    string   `json:"title"`
	Description              string   `json:"description"`
	Status                   string   `json:"status" enum:"open,assigned,in_progress,resolved,escalated,closed,cancelled"`
	Priority                 string   `json:"priority" enum:"low,medium,high,critical"`
	AssigneeID               *string  `json:"assignee_id,omitempty"`
	AssignedByID             *string  `json:"assigned_by_id,omitempty"`
	AssignedAt               *string  `json:"assigned_at,omitempty" format:"date-time"`
	RequiresReview           bool     `json:"requires_review"`
	ReviewerSelectionPending bool     `json:"reviewer_selection_pending"`
	ReviewerIDs              []string `json:"reviewer_ids,omitempty"`
	ReviewedByID             *string  `json:"reviewed_by_id,omitempty"`
	ReviewedAt               *string  `json:"reviewed_at,omitempty" format:"date-time"`
	ReviewNotes              *string  `json:"review_notes,omitempty"`
	ResolutionNotes          *string  `json:"resolution_notes,omitempty"`
	ResolvedAt               *string  `json:"resolved_at,omitempty" format:"date-time"`
	EscalationReason         *string  `json:"escalation_reason,omitempty"`
	EscalatedByID            *string  `json:"escalated_by_id,omitempty"`
	EscalatedAt              *string  `json:"escalated_at,omitempty" format:"date-time"`
	EscalationCount          int      `json:"escalation_count"`
	CreatedAt                string   `json:"created_at" format:"date-time"`
	UpdatedAt                string   `json:"updated_at" format:"date-time"`
}

// AssignedTo reports whether actorID is the current assignee.
func (i Issue) AssignedTo(actorID string) bool {
	return i.AssigneeID != nil && *i.AssigneeID == actorID && actorID != ""
}

func (i Issue) HasReviewer(actorID string) bool {
	for _, r := range i.ReviewerIDs {
		if r == actorID {
			return true
		}
	}
	return false
}

// Image kinds.
const (
	ImageReport     = "report"
	ImageResolution = "resolution"
)

type IssueImage struct {
	ID         string `json:"id"`
	IssueID    string `json:"issue_id"`
	Kind       string `json:"kind" enum:"report,resolution"`
	URL        string `json:"url"`
	UploadedBy string `json:"uploaded_by"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type WorkTask struct {
	ID              string  `json:"id"`
	IssueID         string  `json:"issue_id"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	AssigneeID      string  `json:"assignee_id"`
	Completed       bool    `json:"completed"`
	ResolutionNotes *string `json:"resolution_notes,omitempty"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
	CreatedBy       string  `json:"created_by"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type Comment struct {
	ID        string `json:"id"`
	IssueID   string `json:"issue_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// StatusHistory is one row of the immutable status/assignment trail.
type StatusHistory struct {
	ID          int64   `json:"id"`
	IssueID     string  `json:"issue_id"`
	OldStatus   string  `json:"old_status"`
	NewStatus   string  `json:"new_status"`
	OldAssignee *string `json:"old_assignee,omitempty"`
	NewAssignee *string `json:"new_assignee,omitempty"`
	ActorID     string  `json:"actor_id"`
	Comment     string  `json:"comment,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Activity struct {
	ID           int64   `json:"id"`
	IssueID      string  `json:"issue_id"`
	OrgID        string  `json:"org_id"`
	ActivityType string  `json:"activity_type"`
	ActorID      *string `json:"actor_id,omitempty"`
	Description  string  `json:"description"`
	OldValue     *string `json:"old_value,omitempty"`
	NewValue     *string `json:"new_value,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type WorkSession struct {
	ID                string         `json:"id"`
	IssueID           string         `json:"issue_id"`
	MaintainerID      string         `json:"maintainer_id"`
	StartedAt         string         `json:"started_at" format:"date-time"`
	EndedAt           *string        `json:"ended_at,omitempty" format:"date-time"`
	TotalBreakSeconds int64          `json:"total_break_seconds"`
	TotalWorkSeconds  int64          `json:"total_work_seconds"`
	Breaks            []BreakSession `json:"breaks,omitempty"`
}

func (s WorkSession) Open() bool { return s.EndedAt == nil }

type BreakSession struct {
	ID              string  `json:"id"`
	SessionID       string  `json:"session_id"`
	BreakType       string  `json:"break_type"`
	StartedAt       string  `json:"started_at" format:"date-time"`
	EndedAt         *string `json:"ended_at,omitempty" format:"date-time"`
	DurationSeconds int64   `json:"duration_seconds"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
