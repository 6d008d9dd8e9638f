package auth

import (
	"fmt"

	"issuehub/internal/domain"
)

// Operation names an action an actor requests on an issue.
type Operation string

const (
	OpView              Operation = "view"
	OpAssign            Operation = "assign"
	OpSetReviewers      Operation = "set_reviewers"
	OpChangeStatus      Operation = "change_status"
	OpClose             Operation = "close"
	OpCancel            Operation = "cancel"
	OpEscalate          Operation = "escalate"
	OpReassignEscalated Operation = "reassign_escalated"
	OpReopen            Operation = "reopen"
	OpReview            Operation = "review"
	OpUpdateDetails     Operation = "update_details"
	OpComment           Operation = "comment"
	OpAddImage          Operation = "add_image"
	OpManageWorkTasks   Operation = "manage_work_tasks"
	OpCompleteWorkTask  Operation = "complete_work_task"
	OpFocus             Operation = "focus"
)

// ForbiddenError indicates the actor lacks authority over the issue.
type ForbiddenError struct {
	ActorID string
	Op      Operation
	Reason  string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s may not %s: %s", e.ActorID, e.Op, e.Reason)
}

func deny(actor domain.Actor, op Operation, reason string) error {
	return &ForbiddenError{ActorID: actor.ID, Op: op, Reason: reason}
}

// Facts carries relationships that are not stored on the issue row itself.
type Facts struct {
	// TaskAssignee is set when the actor owns a work task of the issue.
	TaskAssignee bool
}

// Authorize decides whether actor may perform op on issue. It only judges
// authority; status-graph legality stays with the transition engine.
func Authorize(actor domain.Actor, issue domain.Issue, op Operation) error {
	return AuthorizeWith(actor, issue, op, Facts{})
}

func AuthorizeWith(actor domain.Actor, issue domain.Issue, op Operation, facts Facts) error {
	if !actor.Active {
		return deny(actor, op, "actor is inactive")
	}
	if actor.OrgID != issue.OrgID {
		return deny(actor, op, "issue belongs to another organization")
	}
	if actor.Role == domain.RoleSpaceAdmin && !managesSpace(actor, issue) {
		return deny(actor, op, "issue is outside the spaces this admin manages")
	}
	switch op {
	case OpAssign, OpSetReviewers:
		if actor.IsAdmin() || actor.Role == domain.RoleSupervisor {
			return nil
		}
		return deny(actor, op, "admin or supervisor role required")
	case OpClose, OpCancel, OpReassignEscalated, OpReopen:
		if actor.IsAdmin() {
			return nil
		}
		return deny(actor, op, "admin role required")
	case OpUpdateDetails:
		if actor.IsAdmin() || issue.ReporterID == actor.ID {
			return nil
		}
		return deny(actor, op, "only the reporter or an admin may edit details")
	case OpReview:
		if issue.HasReviewer(actor.ID) {
			return nil
		}
		return deny(actor, op, "actor is not a reviewer of this issue")
	case OpManageWorkTasks:
		if actor.IsAdmin() || actor.Role == domain.RoleSupervisor || issue.AssignedTo(actor.ID) {
			return nil
		}
		return deny(actor, op, "admin, supervisor or assignee required")
	case OpCompleteWorkTask:
		if actor.IsAdmin() || actor.Role == domain.RoleSupervisor || issue.AssignedTo(actor.ID) || facts.TaskAssignee {
			return nil
		}
		return deny(actor, op, "work task belongs to someone else")
	case OpChangeStatus, OpEscalate, OpFocus:
		// assignee and role checks for these belong to the transition rules
		return nil
	case OpView, OpComment, OpAddImage:
		return canView(actor, issue, op, facts)
	}
	return deny(actor, op, "unknown operation")
}

func canView(actor domain.Actor, issue domain.Issue, op Operation, facts Facts) error {
	if issue.ReporterID == actor.ID {
		return nil
	}
	switch actor.Role {
	case domain.RoleCentralAdmin, domain.RoleSpaceAdmin, domain.RoleSupervisor:
		return nil
	case domain.RoleMaintainer:
		if issue.AssignedTo(actor.ID) || facts.TaskAssignee {
			return nil
		}
		return deny(actor, op, "issue is not assigned to this maintainer")
	case domain.RoleReviewer:
		if issue.HasReviewer(actor.ID) {
			return nil
		}
		return deny(actor, op, "actor is not a reviewer of this issue")
	}
	return deny(actor, op, "only the reporter may access this issue")
}

func managesSpace(actor domain.Actor, issue domain.Issue) bool {
	if issue.SpaceID == nil {
		return false
	}
	for _, s := range actor.SpaceIDs {
		if s == *issue.SpaceID {
			return true
		}
	}
	return false
}
