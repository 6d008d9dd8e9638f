package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"issuehub/internal/app"
	"issuehub/internal/config"
	"issuehub/internal/db"
	"issuehub/internal/domain"
	"issuehub/internal/engine"
	"issuehub/internal/migrate"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*httptest.Server, engine.Engine) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("org-1")
	cfg.Server.JWTSecret = testSecret
	conn, err := db.Open(db.Config{Workspace: workspace})
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

	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{
		JWTSecret:              testSecret,
		AllowLegacyActorHeader: true,
		EnableDevLogin:         true,
	}})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return srv, e
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func as(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error
}

func createIssue(t *testing.T, srv *httptest.Server, title, priority string) domain.Issue {
	t.Helper()
	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
		"title":    title,
		"priority": priority,
	}, as("user"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var issue domain.Issue
	require.NoError(t, json.Unmarshal(data, &issue))
	return issue
}

func assignAndStart(t *testing.T, srv *httptest.Server, issueID string) {
	t.Helper()
	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/issues/"+issueID+"/assign", map[string]any{"assignee_id": "m1"}, as("admin"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/issues/"+issueID+"/status", map[string]any{"status": "in_progress"}, as("m1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
}

func TestHealthIsPublicAndAPIRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	res, _ := doJSON(t, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/issues", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "unauthorized", decodeError(t, data).Code)
}

func TestSecondStartReportsBlockingIssue(t *testing.T) {
	srv, _ := newTestServer(t)
	first := createIssue(t, srv, "Boiler noise", "medium")
	assignAndStart(t, srv, first.ID)

	second := createIssue(t, srv, "Gas smell", "critical")
	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/issues/"+second.ID+"/assign", map[string]any{"assignee_id": "m1"}, as("admin"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/issues/"+second.ID+"/status", map[string]any{"status": "in_progress"}, as("m1"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	body := decodeError(t, data)
	require.Equal(t, "concurrent_work_limit", body.Code)
	require.Equal(t, first.ID, body.Details["blocking_issue_id"])
	require.Equal(t, "Boiler noise", body.Details["blocking_title"])
}

func TestWorkflowErrorsMapToStatusCodes(t *testing.T) {
	srv, _ := newTestServer(t)
	issue := createIssue(t, srv, "HVAC", "low")

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/issues/"+issue.ID+"/assign", map[string]any{"assignee_id": "m1"}, as("user"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	require.Equal(t, "forbidden", decodeError(t, data).Code)

	assignAndStart(t, srv, issue.ID)

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/issues/"+issue.ID+"/escalate", map[string]any{"reason": "x"}, as("admin"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	require.Equal(t, "not_assigned", decodeError(t, data).Code)

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/issues/"+issue.ID+"/work-tasks", map[string]any{"title": "Replace filter"}, as("m1"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/issues/"+issue.ID+"/status", map[string]any{
		"status":           "resolved",
		"resolution_notes": "done",
	}, as("m1"))
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	body := decodeError(t, data)
	require.Equal(t, "incomplete_work_tasks", body.Code)
	require.EqualValues(t, 1, body.Details["count"])

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/issues/"+issue.ID+"/reopen", nil, as("admin"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	require.Equal(t, "invalid_transition", decodeError(t, data).Code)

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/issues/missing", nil, as("admin"))
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestFocusEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	issue := createIssue(t, srv, "Pump", "high")
	assignAndStart(t, srv, issue.ID)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/issues/"+issue.ID+"/focus", nil, as("m1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var session domain.WorkSession
	require.NoError(t, json.Unmarshal(data, &session))

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/focus/active", nil, as("m1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	base := srv.URL + "/v0/focus/sessions/" + session.ID
	res, data = doJSON(t, http.MethodPost, base+"/breaks/end", nil, as("m1"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	require.Equal(t, "no_active_break", decodeError(t, data).Code)

	res, data = doJSON(t, http.MethodPost, base+"/breaks", map[string]any{"break_type": "meal"}, as("m1"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	res, data = doJSON(t, http.MethodPost, base+"/breaks", map[string]any{"break_type": "short"}, as("m1"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	require.Equal(t, "break_already_active", decodeError(t, data).Code)

	res, data = doJSON(t, http.MethodPost, base+"/end", nil, as("m1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &session))
	require.NotNil(t, session.EndedAt)

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/focus/active", nil, as("m1"))
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestActivityPagination(t *testing.T) {
	srv, _ := newTestServer(t)
	issue := createIssue(t, srv, "Bench", "low")
	for _, body := range []string{"one", "two", "three"} {
		res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/issues/"+issue.ID+"/comments", map[string]any{"body": body}, as("user"))
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/issues/"+issue.ID+"/activity?limit=3", nil, as("user"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedActivity
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 3)
	require.NotEmpty(t, page.NextCursor)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/issues/"+issue.ID+"/activity?limit=3&cursor="+page.NextCursor, nil, as("user"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var rest paginatedActivity
	require.NoError(t, json.Unmarshal(data, &rest))
	require.Len(t, rest.Items, 1)
	require.Equal(t, "created", rest.Items[0].ActivityType)
	require.Empty(t, rest.NextCursor)

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/issues/"+issue.ID+"/activity?cursor=abc", nil, as("user"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestDevLoginAndAPIKeys(t *testing.T) {
	srv, _ := newTestServer(t)
	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "m1"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	require.NotEmpty(t, login.Token)

	bearer := map[string]string{"Authorization": "Bearer " + login.Token}
	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/me", nil, bearer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me MeResponse
	require.NoError(t, json.Unmarshal(data, &me))
	require.Equal(t, "m1", me.ActorID)
	require.Equal(t, domain.RoleMaintainer, me.Role)
	require.Equal(t, "jwt", me.Source)

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/me/api-keys", map[string]any{"name": "tablet"}, bearer)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var key APIKeyResponse
	require.NoError(t, json.Unmarshal(data, &key))
	require.True(t, strings.HasPrefix(key.Key, "ih_"))

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &me))
	require.Equal(t, "api_key", me.Source)

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = doJSON(t, http.MethodDelete, srv.URL+"/v0/me/api-keys/"+key.ID, nil, bearer)
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestPrincipalComesFromStoredActor(t *testing.T) {
	srv, e := newTestServer(t)
	ctx := context.Background()

	// role claims do not override the stored role
	token, err := signDevToken(testSecret, "m1", "org-1", domain.RoleCentralAdmin)
	require.NoError(t, err)
	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me MeResponse
	require.NoError(t, json.Unmarshal(data, &me))
	require.Equal(t, domain.RoleMaintainer, me.Role)

	token, err = signDevToken(testSecret, "m1", "org-2", domain.RoleMaintainer)
	require.NoError(t, err)
	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "invalid_credentials", decodeError(t, data).Code)

	token, err = signDevToken(testSecret, "ghost", "org-1", domain.RoleMaintainer)
	require.NoError(t, err)
	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/me", nil, as("ghost"))
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	_, plain, err := e.Repo.CreateAPIKey(ctx, "m1", "tablet")
	require.NoError(t, err)
	_, err = e.SetActorActive(ctx, "admin", "m1", false)
	require.NoError(t, err)
	for _, headers := range []map[string]string{as("m1"), {"X-Api-Key": plain}} {
		res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/issues", nil, headers)
		require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
		require.Equal(t, "forbidden", decodeError(t, data).Code)
	}
}

func TestBearerTokenTakesPrecedenceOverOtherCredentials(t *testing.T) {
	srv, _ := newTestServer(t)
	headers := map[string]string{"Authorization": "Bearer nope", "X-Actor-Id": "admin"}
	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/me", nil, headers)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "invalid_credentials", decodeError(t, data).Code)
}

func TestOpenAPIDocumentServedConcurrently(t *testing.T) {
	srv, _ := newTestServer(t)
	var wg sync.WaitGroup
	bodies := make([][]byte, 8)
	for i := range bodies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/openapi.json", nil)
			if err != nil {
				return
			}
			req.Header.Set("X-Actor-Id", "user")
			res, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			defer res.Body.Close()
			if res.StatusCode == http.StatusOK {
				bodies[i], _ = io.ReadAll(res.Body)
			}
		}()
	}
	wg.Wait()
	for _, b := range bodies {
		require.NotEmpty(t, b)
		require.Equal(t, bodies[0], b)
	}
	var doc map[string]any
	require.NoError(t, json.Unmarshal(bodies[0], &doc))
	require.Contains(t, doc, "paths")
}

func TestWebhookDispatcherPostsFilteredActivity(t *testing.T) {
	var mu sync.Mutex
	var received []webhookEvent
	var headers []http.Header
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		received = append(received, evt)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv, e := newTestServer(t)
	e.Config.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"comment_added"}, Secret: "s3cret"}}
	d := NewWebhookDispatcher(e, e.Log)
	require.NotNil(t, d)
	ctx := context.Background()

	issue := createIssue(t, srv, "Gate", "low")
	d.dispatchAll(ctx) // cursor starts after existing activity

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/issues/"+issue.ID+"/comments", map[string]any{"body": "hinge broken"}, as("user"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	res, data = doJSON(t, http.MethodPatch, srv.URL+"/v0/issues/"+issue.ID, map[string]any{"title": "Front gate"}, as("user"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, "comment_added", received[0].Type)
	require.Equal(t, issue.ID, received[0].IssueID)
	require.Equal(t, "comment_added", headers[0].Get("X-IssueHub-Event"))
	require.Equal(t, "s3cret", headers[0].Get("X-IssueHub-Secret"))
	require.Equal(t, "org-1", headers[0].Get("X-IssueHub-Org"))
}

func postComment(t *testing.T, srv *httptest.Server, issueID, body string) {
	t.Helper()
	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/issues/"+issueID+"/comments", map[string]any{"body": body}, as("user"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
}

func latestActivity(t *testing.T, e engine.Engine) int64 {
	t.Helper()
	id, err := e.Repo.LatestActivityID(context.Background(), "org-1")
	require.NoError(t, err)
	return id
}

func TestWebhookRejectionSkipsRowAndDeliversLaterActivity(t *testing.T) {
	var mu sync.Mutex
	var received []webhookEvent
	var rejectID int64
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		defer mu.Unlock()
		received = append(received, evt)
		if rejectID == 0 {
			rejectID = evt.ID
		}
		if evt.ID == rejectID {
			http.Error(w, "unsupported payload", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv, e := newTestServer(t)
	e.Config.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"comment_added"}}}
	d := NewWebhookDispatcher(e, e.Log)
	ctx := context.Background()

	issue := createIssue(t, srv, "Gate", "low")
	d.dispatchAll(ctx)

	postComment(t, srv, issue.ID, "first")
	postComment(t, srv, issue.ID, "second")
	postComment(t, srv, issue.ID, "third")
	for range 3 {
		d.dispatchAll(ctx)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 3)
	require.Equal(t, rejectID, received[0].ID)
	require.NotEqual(t, received[0].ID, received[1].ID)
	require.NotEqual(t, received[1].ID, received[2].ID)
	cur, ok := d.cursor(0)
	require.True(t, ok)
	require.Equal(t, latestActivity(t, e), cur)
}

func TestWebhookServerErrorKeepsCursorUntilHookRecovers(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	healthy := false
	var delivered []webhookEvent
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		defer mu.Unlock()
		if !healthy {
			attempts++
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		delivered = append(delivered, evt)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv, e := newTestServer(t)
	e.Config.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"comment_added"}}}
	d := NewWebhookDispatcher(e, e.Log)
	d.retryInterval = 10 * time.Millisecond
	d.maxRetry = 200 * time.Millisecond
	ctx := context.Background()

	issue := createIssue(t, srv, "Gate", "low")
	d.dispatchAll(ctx)
	start, ok := d.cursor(0)
	require.True(t, ok)

	postComment(t, srv, issue.ID, "hinge broken")
	d.dispatchAll(ctx)

	mu.Lock()
	require.GreaterOrEqual(t, attempts, 2)
	require.Empty(t, delivered)
	healthy = true
	mu.Unlock()
	cur, _ := d.cursor(0)
	require.Equal(t, start, cur)

	d.dispatchAll(ctx)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 1)
	require.Equal(t, issue.ID, delivered[0].IssueID)
	cur, _ = d.cursor(0)
	require.Equal(t, latestActivity(t, e), cur)
}

func TestWebhookCancelledContextKeepsCursor(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer hook.Close()

	srv, e := newTestServer(t)
	e.Config.Webhooks = []config.WebhookConfig{{URL: hook.URL}}
	d := NewWebhookDispatcher(e, e.Log)
	d.retryInterval = 10 * time.Millisecond

	issue := createIssue(t, srv, "Gate", "low")
	d.dispatchAll(ctx)
	start, ok := d.cursor(0)
	require.True(t, ok)

	postComment(t, srv, issue.ID, "first")
	postComment(t, srv, issue.ID, "second")
	done := make(chan struct{})
	go func() {
		d.dispatchAll(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not stop after cancellation")
	}

	mu.Lock()
	require.Equal(t, 1, hits)
	mu.Unlock()
	cur, _ := d.cursor(0)
	require.Equal(t, start, cur)

	// a pass that starts cancelled posts nothing
	d.dispatchAll(ctx)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, hits)
	cur, _ = d.cursor(0)
	require.Equal(t, start, cur)
}
