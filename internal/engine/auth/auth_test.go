package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"issuehub/internal/domain"
)

func actor(id, role string, spaces ...string) domain.Actor {
	return domain.Actor{ID: id, OrgID: "org-1", Role: role, Active: true, SpaceIDs: spaces}
}

func TestAuthorize(t *testing.T) {
	space := "sp-1"
	assignee := "m1"
	issue := domain.Issue{
		ID:          "i-1",
		OrgID:       "org-1",
		SpaceID:     &space,
		ReporterID:  "u1",
		AssigneeID:  &assignee,
		ReviewerIDs: []string{"r1"},
	}

	inactive := actor("admin2", domain.RoleCentralAdmin)
	inactive.Active = false
	foreign := actor("admin3", domain.RoleCentralAdmin)
	foreign.OrgID = "org-2"

	cases := []struct {
		name  string
		actor domain.Actor
		op    Operation
		facts Facts
		allow bool
	}{
		{"central admin assigns", actor("admin", domain.RoleCentralAdmin), OpAssign, Facts{}, true},
		{"supervisor assigns", actor("sup", domain.RoleSupervisor), OpAssign, Facts{}, true},
		{"maintainer cannot assign", actor("m1", domain.RoleMaintainer), OpAssign, Facts{}, false},
		{"space admin in space closes", actor("sa", domain.RoleSpaceAdmin, "sp-1"), OpClose, Facts{}, true},
		{"space admin outside space", actor("sa", domain.RoleSpaceAdmin, "sp-2"), OpClose, Facts{}, false},
		{"supervisor cannot reopen", actor("sup", domain.RoleSupervisor), OpReopen, Facts{}, false},
		{"inactive admin", inactive, OpView, Facts{}, false},
		{"other organization", foreign, OpView, Facts{}, false},
		{"reporter edits details", actor("u1", domain.RoleGeneralUser), OpUpdateDetails, Facts{}, true},
		{"other user cannot view", actor("u2", domain.RoleGeneralUser), OpView, Facts{}, false},
		{"assignee views", actor("m1", domain.RoleMaintainer), OpView, Facts{}, true},
		{"other maintainer cannot view", actor("m2", domain.RoleMaintainer), OpView, Facts{}, false},
		{"task assignee views", actor("m2", domain.RoleMaintainer), OpView, Facts{TaskAssignee: true}, true},
		{"task assignee completes task", actor("m2", domain.RoleMaintainer), OpCompleteWorkTask, Facts{TaskAssignee: true}, true},
		{"task assignee cannot manage tasks", actor("m2", domain.RoleMaintainer), OpManageWorkTasks, Facts{TaskAssignee: true}, false},
		{"listed reviewer reviews", actor("r1", domain.RoleReviewer), OpReview, Facts{}, true},
		{"unlisted reviewer", actor("r2", domain.RoleReviewer), OpReview, Facts{}, false},
		{"status change deferred to engine", actor("m2", domain.RoleMaintainer), OpChangeStatus, Facts{}, true},
		{"unknown operation", actor("admin", domain.RoleCentralAdmin), Operation("explode"), Facts{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := AuthorizeWith(tc.actor, issue, tc.op, tc.facts)
			if tc.allow {
				require.NoError(t, err)
				return
			}
			var forbidden *ForbiddenError
			require.True(t, errors.As(err, &forbidden), "expected ForbiddenError, got %v", err)
			require.Equal(t, tc.op, forbidden.Op)
		})
	}
}

func TestSpaceAdminWithoutSpaceIssue(t *testing.T) {
	issue := domain.Issue{ID: "i-2", OrgID: "org-1", ReporterID: "u1"}
	err := Authorize(actor("sa", domain.RoleSpaceAdmin, "sp-1"), issue, OpView)
	require.Error(t, err)
	require.NoError(t, Authorize(actor("admin", domain.RoleCentralAdmin), issue, OpView))
}
