package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"issuehub/internal/app"
	"issuehub/internal/config"
	"issuehub/internal/db"
	"issuehub/internal/domain"
	"issuehub/internal/engine"
	"issuehub/internal/engine/auth"
	"issuehub/internal/migrate"
	"issuehub/internal/notify"
	"issuehub/internal/repo"
	"issuehub/internal/telemetry"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Enqueue(n notify.Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return true
}

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Clock    *testClock
	Notifier *recordingNotifier
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default("org-1")
	eng := engine.New(conn, cfg)
	clk := &testClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	eng.Now = clk.Now
	notifier := &recordingNotifier{}
	eng.Notifier = notifier
	ctx := context.Background()

	_, err = app.Bootstrap(ctx, cfg, eng.Repo, "admin", "Central Admin")
	require.NoError(t, err)
	for _, a := range []engine.ActorOptions{
		{ID: "m1", Name: "Maya", Role: domain.RoleMaintainer},
		{ID: "m2", Name: "Nour", Role: domain.RoleMaintainer},
		{ID: "sup", Name: "Sam", Role: domain.RoleSupervisor},
		{ID: "rev", Name: "Rita", Role: domain.RoleReviewer},
		{ID: "user", Name: "Uma", Role: domain.RoleGeneralUser},
		{ID: "sadmin", Name: "Sid", Role: domain.RoleSpaceAdmin},
	} {
		_, err := eng.CreateActor(ctx, "admin", a)
		require.NoError(t, err)
	}
	_, err = eng.CreateSpace(ctx, "admin", "sp-1", "East wing")
	require.NoError(t, err)
	_, err = eng.CreateSpace(ctx, "admin", "sp-2", "West wing")
	require.NoError(t, err)
	require.NoError(t, eng.AssignSpaceAdmin(ctx, "admin", "sp-1", "sadmin"))
	return testEnv{Engine: eng, Ctx: ctx, Clock: clk, Notifier: notifier}
}

func (env testEnv) newIssue(t *testing.T, title, priority string) domain.Issue {
	t.Helper()
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.CreateIssueOptions{
		ReporterID: "user",
		SpaceID:    "sp-1",
		Title:      title,
		Priority:   priority,
	})
	require.NoError(t, err)
	return issue
}

func (env testEnv) assign(t *testing.T, issueID, assignee string) domain.Issue {
	t.Helper()
	issue, err := env.Engine.Assign(env.Ctx, engine.AssignOptions{IssueID: issueID, AssigneeID: assignee, ActorID: "admin"})
	require.NoError(t, err)
	return issue
}

func (env testEnv) setStatus(issueID, actorID, status string) (domain.Issue, error) {
	return env.Engine.ChangeStatus(env.Ctx, engine.ChangeStatusOptions{IssueID: issueID, ActorID: actorID, Status: status, ResolutionNotes: "fixed"})
}

func (env testEnv) startWork(t *testing.T, issueID, assignee string) domain.Issue {
	t.Helper()
	env.assign(t, issueID, assignee)
	issue, err := env.setStatus(issueID, assignee, domain.StatusInProgress)
	require.NoError(t, err)
	return issue
}

func repoFilter(status, assignee string) repo.IssueFilters {
	return repo.IssueFilters{Status: status, AssigneeID: assignee}
}

func TestCreateIssueStartsOpen(t *testing.T) {
	env := newTestEnv(t)
	issue := env.newIssue(t, "Leaking tap", "")
	require.Equal(t, domain.StatusOpen, issue.Status)
	require.Equal(t, domain.PriorityMedium, issue.Priority)
	require.Nil(t, issue.AssigneeID)

	acts, err := env.Engine.ListActivity(env.Ctx, issue.ID, "admin", 10, 0)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	require.Equal(t, "created", acts[0].ActivityType)

	_, err = env.Engine.CreateIssue(env.Ctx, engine.CreateIssueOptions{ReporterID: "user", Title: "  "})
	require.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestSecondInProgressIssueIsRejected(t *testing.T) {
	env := newTestEnv(t)
	x := env.newIssue(t, "Boiler noise", domain.PriorityMedium)
	env.startWork(t, x.ID, "m1")

	critical := env.newIssue(t, "Gas smell", domain.PriorityCritical)
	env.assign(t, critical.ID, "m1")
	_, err := env.setStatus(critical.ID, "m1", domain.StatusInProgress)
	require.ErrorIs(t, err, engine.ErrConcurrentWorkLimit)
	var cw *engine.ConcurrentWorkError
	require.True(t, errors.As(err, &cw))
	require.Equal(t, x.ID, cw.BlockingIssueID)
	require.Equal(t, "Boiler noise", cw.BlockingTitle)

	got, err := env.Engine.ViewIssue(env.Ctx, critical.ID, "admin")
	require.NoError(t, err)
	require.Equal(t, domain.StatusAssigned, got.Status)

	// pausing X frees the maintainer
	_, err = env.setStatus(x.ID, "m1", domain.StatusAssigned)
	require.NoError(t, err)
	_, err = env.setStatus(critical.ID, "m1", domain.StatusInProgress)
	require.NoError(t, err)
}

func TestConcurrentStartsKeepSingleFocus(t *testing.T) {
	env := newTestEnv(t)
	var ids []string
	for _, title := range []string{"A", "B", "C", "D"} {
		issue := env.newIssue(t, title, domain.PriorityLow)
		env.assign(t, issue.ID, "m1")
		ids = append(ids, issue.ID)
	}
	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = env.setStatus(id, "m1", domain.StatusInProgress)
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, engine.ErrConcurrentWorkLimit)
	}
	require.Equal(t, 1, succeeded)
	inProgress, err := env.Engine.ListIssues(env.Ctx, "admin", repoFilter(domain.StatusInProgress, "m1"))
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
}

func TestStorageRejectsSecondInProgressRow(t *testing.T) {
	env := newTestEnv(t)
	a := env.newIssue(t, "A", domain.PriorityLow)
	b := env.newIssue(t, "B", domain.PriorityLow)
	env.startWork(t, a.ID, "m1")
	env.assign(t, b.ID, "m1")
	_, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE issues SET status='in_progress' WHERE id=?`, b.ID)
	require.Error(t, err)
}

func TestEscalateAndReassignRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	issue := env.newIssue(t, "Roof leak", domain.PriorityHigh)
	env.startWork(t, issue.ID, "m1")

	_, err := env.Engine.Escalate(env.Ctx, issue.ID, "m2", "not mine")
	require.ErrorIs(t, err, engine.ErrNotAssigned)

	escalated, err := env.Engine.Escalate(env.Ctx, issue.ID, "m1", "needs parts")
	require.NoError(t, err)
	require.Equal(t, domain.StatusEscalated, escalated.Status)
	require.Nil(t, escalated.AssigneeID)
	require.Equal(t, 1, escalated.EscalationCount)
	require.Equal(t, "needs parts", *escalated.EscalationReason)

	_, err = env.Engine.Assign(env.Ctx, engine.AssignOptions{IssueID: issue.ID, AssigneeID: "m2", ActorID: "admin"})
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
	_, err = env.Engine.ReassignEscalated(env.Ctx, engine.ReassignOptions{IssueID: issue.ID, ActorID: "m1", AssigneeID: "m2"})
	var forbidden *auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	reassigned, err := env.Engine.ReassignEscalated(env.Ctx, engine.ReassignOptions{
		IssueID: issue.ID, ActorID: "admin", AssigneeID: "m2", Message: "parts arrived, take over",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusOpen, reassigned.Status)
	require.Equal(t, "m2", *reassigned.AssigneeID)
	require.Equal(t, 1, reassigned.EscalationCount)
	require.Nil(t, reassigned.EscalationReason)
	require.Nil(t, reassigned.EscalatedByID)

	// the new assignee can pick it up straight from open
	_, err = env.setStatus(issue.ID, "m2", domain.StatusInProgress)
	require.NoError(t, err)

	history, err := env.Engine.ListHistory(env.Ctx, issue.ID, "admin")
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, history[0].NewStatus)
	require.Equal(t, domain.StatusOpen, history[1].NewStatus)
	require.Equal(t, "parts arrived, take over", history[1].Comment)
	require.Equal(t, domain.StatusEscalated, history[2].NewStatus)
	require.Equal(t, "m1", *history[2].OldAssignee)
	require.Nil(t, history[2].NewAssignee)
}

func TestEscalateRequiresWorkableStatus(t *testing.T) {
	env := newTestEnv(t)
	issue := env.newIssue(t, "Door", domain.PriorityLow)
	_, err := env.Engine.Escalate(env.Ctx, issue.ID, "m1", "why")
	require.ErrorIs(t, err, engine.ErrInvalidTransition)

	env.assign(t, issue.ID, "m1")
	_, err = env.Engine.Escalate(env.Ctx, issue.ID, "m1", "  ")
	require.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestResolveRequiresCompletedWorkTasks(t *testing.T) {
	env := newTestEnv(t)
	issue := env.newIssue(t, "HVAC", domain.PriorityMedium)
	env.startWork(t, issue.ID, "m1")
	task, err := env.Engine.AddWorkTask(env.Ctx, engine.WorkTaskOptions{IssueID: issue.ID, ActorID: "m1", Title: "Replace filter"})
	require.NoError(t, err)
	require.Equal(t, "m1", task.AssigneeID)

	_, err = env.setStatus(issue.ID, "m1", domain.StatusResolved)
	require.ErrorIs(t, err, engine.ErrIncompleteWorkTasks)
	var incomplete *engine.IncompleteWorkTasksError
	require.ErrorAs(t, err, &incomplete)
	require.Equal(t, 1, incomplete.Count)

	_, err = env.Engine.SetWorkTaskCompleted(env.Ctx, task.ID, "m1", true, "")
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	task, err = env.Engine.SetWorkTaskCompleted(env.Ctx, task.ID, "m1", true, "filter swapped")
	require.NoError(t, err)
	require.True(t, task.Completed)

	_, err = env.Engine.ChangeStatus(env.Ctx, engine.ChangeStatusOptions{IssueID: issue.ID, ActorID: "m1", Status: domain.StatusResolved})
	require.ErrorIs(t, err, engine.ErrInvalidInput, "resolution notes are mandatory")

	resolved, err := env.setStatus(issue.ID, "m1", domain.StatusResolved)
	require.NoError(t, err)
	require.Equal(t, domain.StatusResolved, resolved.Status)
	require.Nil(t, resolved.AssigneeID)
	require.Equal(t, "fixed", *resolved.ResolutionNotes)
}

func TestChangeStatusRoleGates(t *testing.T) {
	env := newTestEnv(t)
	issue := env.newIssue(t, "Window", domain.PriorityLow)
	env.assign(t, issue.ID, "m1")

	cases := []struct {
		name   string
		actor  string
		status string
	}{
		{"non-assignee starts work", "m2", domain.StatusInProgress},
		{"maintainer closes", "m1", domain.StatusClosed},
		{"reporter cancels", "user", domain.StatusCancelled},
		{"escalate through status change", "m1", domain.StatusEscalated},
		{"unknown status", "admin", "done"},
		{"resolve from assigned", "m1", domain.StatusResolved},
		{"back to open", "admin", domain.StatusOpen},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.setStatus(issue.ID, tc.actor, tc.status)
			require.ErrorIs(t, err, engine.ErrInvalidTransition)
		})
	}

	closed, err := env.setStatus(issue.ID, "sadmin", domain.StatusClosed)
	require.NoError(t, err)
	require.Equal(t, domain.StatusClosed, closed.Status)
	_, err = env.setStatus(issue.ID, "admin", domain.StatusCancelled)
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
}

func TestSpaceAdminAuthorityIsScoped(t *testing.T) {
	env := newTestEnv(t)
	outside, err := env.Engine.CreateIssue(env.Ctx, engine.CreateIssueOptions{ReporterID: "user", SpaceID: "sp-2", Title: "Lift"})
	require.NoError(t, err)

	_, err = env.Engine.Assign(env.Ctx, engine.AssignOptions{IssueID: outside.ID, AssigneeID: "m1", ActorID: "sadmin"})
	var forbidden *auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	inside := env.newIssue(t, "Stairs", domain.PriorityLow)
	_, err = env.Engine.Assign(env.Ctx, engine.AssignOptions{IssueID: inside.ID, AssigneeID: "m1", ActorID: "sadmin"})
	require.NoError(t, err)
}

func TestAssignValidatesAssignee(t *testing.T) {
	env := newTestEnv(t)
	issue := env.newIssue(t, "Fence", domain.PriorityLow)
	_, err := env.Engine.Assign(env.Ctx, engine.AssignOptions{IssueID: issue.ID, AssigneeID: "rev", ActorID: "admin"})
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.Assign(env.Ctx, engine.AssignOptions{IssueID: issue.ID, AssigneeID: "ghost", ActorID: "admin"})
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	assigned, err := env.Engine.Assign(env.Ctx, engine.AssignOptions{IssueID: issue.ID, AssigneeID: "sup", ActorID: "admin"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusAssigned, assigned.Status)
	require.Equal(t, "admin", *assigned.AssignedByID)
}

func TestReviewSelectionGatesWork(t *testing.T) {
	env := newTestEnv(t)
	issue := env.newIssue(t, "Paint", domain.PriorityLow)
	assigned, err := env.Engine.Assign(env.Ctx, engine.AssignOptions{IssueID: issue.ID, AssigneeID: "m1", ActorID: "admin", RequiresReview: true})
	require.NoError(t, err)
	require.True(t, assigned.ReviewerSelectionPending)

	_, err = env.setStatus(issue.ID, "m1", domain.StatusInProgress)
	require.ErrorIs(t, err, engine.ErrInvalidTransition)

	_, err = env.Engine.SetReviewers(env.Ctx, issue.ID, "admin", []string{"m2"})
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	withReviewers, err := env.Engine.SetReviewers(env.Ctx, issue.ID, "admin", []string{"rev"})
	require.NoError(t, err)
	require.False(t, withReviewers.ReviewerSelectionPending)
	require.Equal(t, []string{"rev"}, withReviewers.ReviewerIDs)

	_, err = env.setStatus(issue.ID, "m1", domain.StatusInProgress)
	require.NoError(t, err)
	_, err = env.Engine.Review(env.Ctx, issue.ID, "rev", "looks good")
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
	_, err = env.setStatus(issue.ID, "m1", domain.StatusResolved)
	require.NoError(t, err)

	_, err = env.Engine.Review(env.Ctx, issue.ID, "m2", "me too")
	var forbidden *auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	reviewed, err := env.Engine.Review(env.Ctx, issue.ID, "rev", "looks good")
	require.NoError(t, err)
	require.Equal(t, "rev", *reviewed.ReviewedByID)
}

func TestReopenResolvedClearsResolutionData(t *testing.T) {
	env := newTestEnv(t)
	issue := env.newIssue(t, "Sink", domain.PriorityLow)
	_, err := env.Engine.Assign(env.Ctx, engine.AssignOptions{IssueID: issue.ID, AssigneeID: "m1", ActorID: "admin", ReviewerIDs: []string{"rev"}, RequiresReview: true})
	require.NoError(t, err)
	_, err = env.setStatus(issue.ID, "m1", domain.StatusInProgress)
	require.NoError(t, err)
	_, err = env.Engine.AddImage(env.Ctx, issue.ID, "m1", domain.ImageResolution, "https://img/after.jpg")
	require.NoError(t, err)
	_, err = env.Engine.AddImage(env.Ctx, issue.ID, "user", domain.ImageReport, "https://img/before.jpg")
	require.NoError(t, err)
	_, err = env.setStatus(issue.ID, "m1", domain.StatusResolved)
	require.NoError(t, err)
	_, err = env.Engine.Review(env.Ctx, issue.ID, "rev", "ok")
	require.NoError(t, err)

	_, err = env.Engine.Reopen(env.Ctx, issue.ID, "m1", "")
	var forbidden *auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	reopened, err := env.Engine.Reopen(env.Ctx, issue.ID, "admin", "still dripping")
	require.NoError(t, err)
	require.Equal(t, domain.StatusOpen, reopened.Status)
	require.Nil(t, reopened.ResolutionNotes)
	require.Nil(t, reopened.ResolvedAt)
	require.Nil(t, reopened.ReviewedByID)
	require.Nil(t, reopened.ReviewedAt)
	require.Nil(t, reopened.ReviewNotes)

	details, err := env.Engine.GetIssueDetails(env.Ctx, issue.ID, "admin")
	require.NoError(t, err)
	require.Len(t, details.Images, 1)
	require.Equal(t, domain.ImageReport, details.Images[0].Kind)

	_, err = env.Engine.Reopen(env.Ctx, issue.ID, "admin", "")
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
}

func TestReopenClosedWithAssigneeGoesToAssigned(t *testing.T) {
	env := newTestEnv(t)
	issue := env.newIssue(t, "Gate", domain.PriorityLow)
	env.assign(t, issue.ID, "m1")
	_, err := env.setStatus(issue.ID, "admin", domain.StatusClosed)
	require.NoError(t, err)
	reopened, err := env.Engine.Reopen(env.Ctx, issue.ID, "admin", "")
	require.NoError(t, err)
	require.Equal(t, domain.StatusAssigned, reopened.Status)
	require.Equal(t, "m1", *reopened.AssigneeID)
}

func TestReopenClearsEscalationButKeepsCount(t *testing.T) {
	env := newTestEnv(t)
	issue := env.newIssue(t, "Boiler", domain.PriorityHigh)
	env.startWork(t, issue.ID, "m1")
	_, err := env.Engine.Escalate(env.Ctx, issue.ID, "m1", "needs parts")
	require.NoError(t, err)
	closed, err := env.setStatus(issue.ID, "admin", domain.StatusClosed)
	require.NoError(t, err)
	require.NotNil(t, closed.EscalationReason)

	reopened, err := env.Engine.Reopen(env.Ctx, issue.ID, "admin", "parts never came")
	require.NoError(t, err)
	require.Equal(t, domain.StatusOpen, reopened.Status)
	require.Nil(t, reopened.EscalationReason)
	require.Nil(t, reopened.EscalatedByID)
	require.Nil(t, reopened.EscalatedAt)
	require.Equal(t, 1, reopened.EscalationCount)

	stored, err := env.Engine.ViewIssue(env.Ctx, issue.ID, "admin")
	require.NoError(t, err)
	require.Nil(t, stored.EscalationReason)
	require.Nil(t, stored.EscalatedByID)
	require.Equal(t, 1, stored.EscalationCount)
}

func histogramCount(t *testing.T, reader *sdkmetric.ManualReader, name string) uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var n uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			h, ok := m.Data.(metricdata.Histogram[float64])
			require.True(t, ok)
			for _, dp := range h.DataPoints {
				n += dp.Count
			}
		}
	}
	return n
}

func TestSessionMetricOnlyCountsCommittedEnds(t *testing.T) {
	env := newTestEnv(t)
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	env.Engine.Metrics = telemetry.NewWorkflow(mp.Meter("test"))

	issue := env.newIssue(t, "Heater", domain.PriorityLow)
	env.startWork(t, issue.ID, "m1")
	session, err := env.Engine.EnterFocusMode(env.Ctx, issue.ID, "m1")
	require.NoError(t, err)
	env.Clock.Advance(30 * time.Minute)

	_, err = env.Engine.DB.ExecContext(env.Ctx, `CREATE TRIGGER block_resolve BEFORE UPDATE ON issues
		WHEN NEW.status = 'resolved' BEGIN SELECT RAISE(ABORT, 'resolve blocked'); END`)
	require.NoError(t, err)
	_, err = env.setStatus(issue.ID, "m1", domain.StatusResolved)
	require.Error(t, err)
	active, err := env.Engine.ActiveSession(env.Ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, session.ID, active.ID)
	require.Zero(t, histogramCount(t, reader, "ih.focus.work_seconds"))

	_, err = env.Engine.DB.ExecContext(env.Ctx, `DROP TRIGGER block_resolve`)
	require.NoError(t, err)
	_, err = env.setStatus(issue.ID, "m1", domain.StatusResolved)
	require.NoError(t, err)
	require.EqualValues(t, 1, histogramCount(t, reader, "ih.focus.work_seconds"))

	ended, err := env.Engine.EndSession(env.Ctx, session.ID, "m1")
	require.NoError(t, err)
	require.NotNil(t, ended.EndedAt)
	require.EqualValues(t, 1, histogramCount(t, reader, "ih.focus.work_seconds"))
}

func TestFocusSessionAccounting(t *testing.T) {
	env := newTestEnv(t)
	issue := env.newIssue(t, "Pump", domain.PriorityHigh)
	env.startWork(t, issue.ID, "m1")

	_, err := env.Engine.EnterFocusMode(env.Ctx, issue.ID, "m2")
	require.ErrorIs(t, err, engine.ErrNotAssigned)

	session, err := env.Engine.EnterFocusMode(env.Ctx, issue.ID, "m1")
	require.NoError(t, err)
	again, err := env.Engine.EnterFocusMode(env.Ctx, issue.ID, "m1")
	require.NoError(t, err)
	require.Equal(t, session.ID, again.ID)
	sessions, err := env.Engine.ListSessions(env.Ctx, issue.ID, "admin")
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	env.Clock.Advance(20 * time.Minute)
	_, err = env.Engine.EndBreak(env.Ctx, session.ID, "m1")
	require.ErrorIs(t, err, engine.ErrNoActiveBreak)
	_, err = env.Engine.StartBreak(env.Ctx, session.ID, "m1", "coffee")
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.StartBreak(env.Ctx, session.ID, "m1", "prayer")
	require.NoError(t, err)
	_, err = env.Engine.StartBreak(env.Ctx, session.ID, "m1", "short")
	require.ErrorIs(t, err, engine.ErrBreakAlreadyActive)

	env.Clock.Advance(10 * time.Minute)
	b, err := env.Engine.EndBreak(env.Ctx, session.ID, "m1")
	require.NoError(t, err)
	require.EqualValues(t, 600, b.DurationSeconds)

	env.Clock.Advance(15 * time.Minute)
	_, err = env.Engine.StartBreak(env.Ctx, session.ID, "m1", "meal")
	require.NoError(t, err)
	env.Clock.Advance(5 * time.Minute)

	ended, err := env.Engine.EndSession(env.Ctx, session.ID, "m1")
	require.NoError(t, err)
	require.NotNil(t, ended.EndedAt)
	require.EqualValues(t, 900, ended.TotalBreakSeconds)
	require.EqualValues(t, 50*60-900, ended.TotalWorkSeconds)
	require.Len(t, ended.Breaks, 2)
	for _, br := range ended.Breaks {
		require.NotNil(t, br.EndedAt)
	}

	start, _ := time.Parse(time.RFC3339, ended.StartedAt)
	end, _ := time.Parse(time.RFC3339, *ended.EndedAt)
	require.EqualValues(t, int64(end.Sub(start).Seconds())-ended.TotalBreakSeconds, ended.TotalWorkSeconds)

	// a fresh session after ending the previous one
	next, err := env.Engine.EnterFocusMode(env.Ctx, issue.ID, "m1")
	require.NoError(t, err)
	require.NotEqual(t, session.ID, next.ID)
}

func TestLeavingInProgressEndsFocusSession(t *testing.T) {
	env := newTestEnv(t)
	issue := env.newIssue(t, "Heater", domain.PriorityLow)
	env.startWork(t, issue.ID, "m1")
	session, err := env.Engine.EnterFocusMode(env.Ctx, issue.ID, "m1")
	require.NoError(t, err)
	env.Clock.Advance(time.Hour)

	_, err = env.Engine.Escalate(env.Ctx, issue.ID, "m1", "wrong part")
	require.NoError(t, err)

	_, err = env.Engine.ActiveSession(env.Ctx, "m1")
	require.Error(t, err)
	sessions, err := env.Engine.ListSessions(env.Ctx, issue.ID, "admin")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, session.ID, sessions[0].ID)
	require.NotNil(t, sessions[0].EndedAt)
	require.EqualValues(t, 3600, sessions[0].TotalWorkSeconds)
}

func TestFocusRequiresInProgressIssue(t *testing.T) {
	env := newTestEnv(t)
	issue := env.newIssue(t, "Vent", domain.PriorityLow)
	env.assign(t, issue.ID, "m1")
	_, err := env.Engine.EnterFocusMode(env.Ctx, issue.ID, "m1")
	require.ErrorIs(t, err, engine.ErrNotAssigned)
}

func TestNotificationsOnCreateAndAssign(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Engine.RegisterDeviceToken(env.Ctx, "admin", "tok-admin"))
	require.NoError(t, env.Engine.RegisterDeviceToken(env.Ctx, "m1", "tok-m1"))

	low := env.newIssue(t, "Squeaky door", domain.PriorityLow)
	require.Len(t, env.Notifier.sent, 1)
	require.Equal(t, []string{"tok-admin"}, env.Notifier.sent[0].Tokens)
	require.Equal(t, notify.KindIssueCreated, env.Notifier.sent[0].Message.Data["notification_type"])

	env.assign(t, low.ID, "m1")
	require.Len(t, env.Notifier.sent, 1, "low priority assignment stays quiet")

	critical := env.newIssue(t, "Flooding", domain.PriorityCritical)
	env.assign(t, critical.ID, "m1")
	require.Len(t, env.Notifier.sent, 3)
	last := env.Notifier.sent[2]
	require.Equal(t, []string{"tok-m1"}, last.Tokens)
	require.Equal(t, notify.KindIssueAssigned, last.Message.Data["notification_type"])
	require.True(t, last.Message.HighPriority)
}

func TestIssueCreatedReachesSpaceAdmins(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Engine.RegisterDeviceToken(env.Ctx, "admin", "tok-admin"))
	require.NoError(t, env.Engine.RegisterDeviceToken(env.Ctx, "sadmin", "tok-sadmin"))

	env.newIssue(t, "Cracked window", domain.PriorityLow)
	require.Len(t, env.Notifier.sent, 1)
	require.Equal(t, []string{"tok-admin", "tok-sadmin"}, env.Notifier.sent[0].Tokens)

	_, err := env.Engine.CreateIssue(env.Ctx, engine.CreateIssueOptions{ReporterID: "user", SpaceID: "sp-2", Title: "Loose rail"})
	require.NoError(t, err)
	_, err = env.Engine.CreateIssue(env.Ctx, engine.CreateIssueOptions{ReporterID: "user", Title: "Lobby lights"})
	require.NoError(t, err)
	require.Len(t, env.Notifier.sent, 3)
	require.Equal(t, []string{"tok-admin"}, env.Notifier.sent[1].Tokens)
	require.Equal(t, []string{"tok-admin"}, env.Notifier.sent[2].Tokens)
}

func TestActivityRowsAreImmutable(t *testing.T) {
	env := newTestEnv(t)
	issue := env.newIssue(t, "Bench", domain.PriorityLow)
	_, err := env.Engine.AddComment(env.Ctx, issue.ID, "user", "still broken")
	require.NoError(t, err)
	_, err = env.Engine.DB.ExecContext(env.Ctx, `UPDATE issue_activities SET description='x' WHERE issue_id=?`, issue.ID)
	require.Error(t, err)

	acts, err := env.Engine.ListActivity(env.Ctx, issue.ID, "user", 10, 0)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	require.Equal(t, "comment_added", acts[0].ActivityType)
	older, err := env.Engine.ListActivity(env.Ctx, issue.ID, "user", 10, acts[0].ID)
	require.NoError(t, err)
	require.Len(t, older, 1)
	require.Equal(t, "created", older[0].ActivityType)
}

func TestVisibilityByRole(t *testing.T) {
	env := newTestEnv(t)
	issue := env.newIssue(t, "Tiles", domain.PriorityLow)
	_, err := env.Engine.ViewIssue(env.Ctx, issue.ID, "m1")
	var forbidden *auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	env.assign(t, issue.ID, "m1")
	_, err = env.Engine.ViewIssue(env.Ctx, issue.ID, "m1")
	require.NoError(t, err)

	list, err := env.Engine.ListIssues(env.Ctx, "m2", repoFilter("", ""))
	require.NoError(t, err)
	require.Empty(t, list)
	list, err = env.Engine.ListIssues(env.Ctx, "user", repoFilter("", ""))
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestUpdateDetailsRecordsPriorityChange(t *testing.T) {
	env := newTestEnv(t)
	issue := env.newIssue(t, "Lamp", domain.PriorityLow)
	high := domain.PriorityHigh
	updated, err := env.Engine.UpdateDetails(env.Ctx, engine.UpdateDetailsOptions{IssueID: issue.ID, ActorID: "user", Priority: &high})
	require.NoError(t, err)
	require.Equal(t, domain.PriorityHigh, updated.Priority)

	title := "Other"
	_, err = env.Engine.UpdateDetails(env.Ctx, engine.UpdateDetailsOptions{IssueID: issue.ID, ActorID: "m1", Title: &title})
	var forbidden *auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	acts, err := env.Engine.ListActivity(env.Ctx, issue.ID, "admin", 1, 0)
	require.NoError(t, err)
	require.Equal(t, "priority_changed", acts[0].ActivityType)
	require.Equal(t, "low", *acts[0].OldValue)
	require.Equal(t, "high", *acts[0].NewValue)
}
