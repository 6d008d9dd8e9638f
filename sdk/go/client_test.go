package issuehubsdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"issuehub/internal/app"
	"issuehub/internal/config"
	"issuehub/internal/db"
	"issuehub/internal/domain"
	"issuehub/internal/engine"
	"issuehub/internal/migrate"
	"issuehub/internal/server"
	issuehubsdk "issuehub/sdk/go"
)

type fixture struct {
	admin, maintainer, reporter *issuehubsdk.Client
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := config.Default("org-1")
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, cfg)
	ctx := context.Background()
	_, err = app.Bootstrap(ctx, cfg, e.Repo, "admin", "Admin")
	require.NoError(t, err)
	for _, a := range []engine.ActorOptions{
		{ID: "m1", Name: "Maya", Role: domain.RoleMaintainer},
		{ID: "user", Name: "Uma", Role: domain.RoleGeneralUser},
	} {
		_, err := e.CreateActor(ctx, "admin", a)
		require.NoError(t, err)
	}
	handler, err := server.New(server.Config{Engine: e, BasePath: "/v0"})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})

	client := func(actorID string) *issuehubsdk.Client {
		_, plain, err := e.Repo.CreateAPIKey(ctx, actorID, "sdk-test")
		require.NoError(t, err)
		c := issuehubsdk.New(srv.URL)
		c.APIKey = plain
		return c
	}
	return fixture{admin: client("admin"), maintainer: client("m1"), reporter: client("user")}
}

func TestClientDrivesIssueToResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issue, err := f.reporter.CreateIssue(ctx, issuehubsdk.CreateIssueInput{Title: "Leaking tap", Priority: "high"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusOpen, issue.Status)

	issue, err = f.admin.Assign(ctx, issue.ID, "m1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusAssigned, issue.Status)

	task, err := f.maintainer.AddWorkTask(ctx, issue.ID, "Replace washer")
	require.NoError(t, err)

	issue, err = f.maintainer.ChangeStatus(ctx, issue.ID, domain.StatusInProgress, "")
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, issue.Status)

	_, err = f.maintainer.ChangeStatus(ctx, issue.ID, domain.StatusResolved, "fixed")
	var apiErr *issuehubsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	require.Equal(t, "incomplete_work_tasks", apiErr.Code)

	_, err = f.maintainer.SetWorkTaskCompleted(ctx, task.ID, true, "done")
	require.NoError(t, err)
	issue, err = f.maintainer.ChangeStatus(ctx, issue.ID, domain.StatusResolved, "fixed")
	require.NoError(t, err)
	require.Equal(t, domain.StatusResolved, issue.Status)
	require.Nil(t, issue.AssigneeID)

	got, err := f.reporter.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusResolved, got.Status)
	require.NotNil(t, got.ResolutionNotes)
	require.Equal(t, "fixed", *got.ResolutionNotes)
}

func TestClientReportsConcurrentWorkDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.reporter.CreateIssue(ctx, issuehubsdk.CreateIssueInput{Title: "Broken light"})
	require.NoError(t, err)
	second, err := f.reporter.CreateIssue(ctx, issuehubsdk.CreateIssueInput{Title: "Jammed door"})
	require.NoError(t, err)
	for _, id := range []string{first.ID, second.ID} {
		_, err := f.admin.Assign(ctx, id, "m1")
		require.NoError(t, err)
	}
	_, err = f.maintainer.ChangeStatus(ctx, first.ID, domain.StatusInProgress, "")
	require.NoError(t, err)

	_, err = f.maintainer.ChangeStatus(ctx, second.ID, domain.StatusInProgress, "")
	var apiErr *issuehubsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "concurrent_work_limit", apiErr.Code)
	require.Equal(t, first.ID, apiErr.Details["blocking_issue_id"])
	require.Equal(t, "Broken light", apiErr.Details["blocking_title"])
}

func TestClientFocusSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issue, err := f.reporter.CreateIssue(ctx, issuehubsdk.CreateIssueInput{Title: "Clogged drain"})
	require.NoError(t, err)
	_, err = f.admin.Assign(ctx, issue.ID, "m1")
	require.NoError(t, err)
	_, err = f.maintainer.ChangeStatus(ctx, issue.ID, domain.StatusInProgress, "")
	require.NoError(t, err)

	session, err := f.maintainer.EnterFocus(ctx, issue.ID)
	require.NoError(t, err)
	require.Nil(t, session.EndedAt)

	b, err := f.maintainer.StartBreak(ctx, session.ID, "short")
	require.NoError(t, err)
	require.Equal(t, "short", b.BreakType)

	_, err = f.maintainer.StartBreak(ctx, session.ID, "short")
	var apiErr *issuehubsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "break_already_active", apiErr.Code)

	b, err = f.maintainer.EndBreak(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, b.EndedAt)

	session, err = f.maintainer.EndSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, session.EndedAt)

	page, err := f.maintainer.ActivityPage(ctx, issue.ID, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	next, err := f.maintainer.ActivityPage(ctx, issue.ID, 2, page.NextCursor)
	require.NoError(t, err)
	require.NotEmpty(t, next.Items)
	require.Less(t, next.Items[0].ID, page.Items[1].ID)
}

func TestClientRejectsUnauthenticated(t *testing.T) {
	f := newFixture(t)
	anon := issuehubsdk.New(f.reporter.BaseURL)
	_, err := anon.CreateIssue(context.Background(), issuehubsdk.CreateIssueInput{Title: "x"})
	var apiErr *issuehubsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Equal(t, "unauthorized", apiErr.Code)
}
