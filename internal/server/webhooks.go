package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"issuehub/internal/config"
	"issuehub/internal/domain"
	"issuehub/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
	defaultWebhookRetry    = 20 * time.Second
)

// WebhookDispatcher forwards organization activity to the configured hooks.
// Each hook keeps its own cursor, starting at the latest activity when the
// dispatcher first sees it. A row the hook rejects with a 4xx is skipped; a
// transport error or 5xx keeps the cursor on the row until a later tick.
type WebhookDispatcher struct {
	engine        engine.Engine
	org           string
	webhooks      []config.WebhookConfig
	client        *http.Client
	log           zerolog.Logger
	interval      time.Duration
	retryInterval time.Duration
	maxRetry      time.Duration

	mu      sync.Mutex
	cursors map[int]int64
}

// NewWebhookDispatcher returns nil when no webhook is configured.
func NewWebhookDispatcher(e engine.Engine, log zerolog.Logger) *WebhookDispatcher {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return nil
	}
	orgID := e.Config.Organization.ID
	if strings.TrimSpace(orgID) == "" {
		return nil
	}
	return &WebhookDispatcher{
		engine:        e,
		org:           orgID,
		webhooks:      e.Config.Webhooks,
		client:        &http.Client{Timeout: defaultWebhookTimeout},
		log:           log.With().Str("component", "webhooks").Logger(),
		interval:      defaultWebhookInterval,
		retryInterval: backoff.DefaultInitialInterval,
		maxRetry:      defaultWebhookRetry,
		cursors:       make(map[int]int64),
	}
}

// Run polls until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// dispatchAll runs one pass over every enabled hook. Hooks are served
// concurrently so one slow endpoint does not hold back the others.
func (d *WebhookDispatcher) dispatchAll(ctx context.Context) {
	var g errgroup.Group
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		g.Go(func() error {
			d.dispatchWebhook(ctx, i, hook)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor, err := d.cursorFor(ctx, idx)
	if err != nil {
		d.log.Error().Err(err).Msg("init webhook cursor failed")
		return
	}
	items, err := d.engine.Repo.ActivitiesAfter(ctx, d.org, cursor, defaultWebhookBatch)
	if err != nil {
		d.log.Error().Err(err).Msg("fetch activity failed")
		return
	}
	filter := newEventFilter(hook.Events)
	for _, a := range items {
		if ctx.Err() != nil {
			return
		}
		if !filter.match(a.ActivityType) {
			d.setCursor(idx, a.ID)
			continue
		}
		err := d.deliver(ctx, hook, a)
		var rejected *webhookRejected
		switch {
		case err == nil:
			d.engine.Metrics.Webhook(ctx, "delivered")
		case errors.As(err, &rejected):
			d.engine.Metrics.Webhook(ctx, "rejected")
			d.log.Warn().Err(err).Str("url", hook.URL).Int64("activity", a.ID).Msg("webhook rejected event, skipping")
		default:
			d.engine.Metrics.Webhook(ctx, "failed")
			d.log.Warn().Err(err).Str("url", hook.URL).Int64("activity", a.ID).Msg("webhook delivery failed, will retry")
			return
		}
		d.setCursor(idx, a.ID)
	}
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur, nil
	}
	cur, err := d.engine.Repo.LatestActivityID(ctx, d.org)
	if err != nil {
		return 0, err
	}
	d.cursors[idx] = cur
	return cur, nil
}

func (d *WebhookDispatcher) cursor(idx int) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.cursors[idx]
	return cur, ok
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	OrgID       string  `json:"org_id"`
	IssueID     string  `json:"issue_id"`
	ActorID     *string `json:"actor_id,omitempty"`
	Description string  `json:"description"`
	OldValue    *string `json:"old_value,omitempty"`
	NewValue    *string `json:"new_value,omitempty"`
	TS          string  `json:"ts"`
}

// webhookRejected is a 4xx answer. The hook will not accept the row on a
// later attempt either.
type webhookRejected struct {
	status int
	body   string
}

func (e *webhookRejected) Error() string {
	return fmt.Sprintf("rejected with status %d: %s", e.status, e.body)
}

// deliver posts one activity row, retrying transport errors and 5xx answers
// with exponential backoff until maxRetry elapses. A 4xx answer ends the
// attempt with a *webhookRejected.
func (d *WebhookDispatcher) deliver(ctx context.Context, hook config.WebhookConfig, a domain.Activity) error {
	data, err := json.Marshal(webhookEvent{
		ID:          a.ID,
		Type:        a.ActivityType,
		OrgID:       a.OrgID,
		IssueID:     a.IssueID,
		ActorID:     a.ActorID,
		Description: a.Description,
		OldValue:    a.OldValue,
		NewValue:    a.NewValue,
		TS:          a.CreatedAt,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != d.client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.retryInterval
	bo.MaxElapsedTime = d.maxRetry
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-IssueHub-Event", a.ActivityType)
		req.Header.Set("X-IssueHub-Delivery", fmt.Sprintf("%d", a.ID))
		req.Header.Set("X-IssueHub-Org", d.org)
		if strings.TrimSpace(hook.Secret) != "" {
			req.Header.Set("X-IssueHub-Secret", hook.Secret)
		}
		res, err := client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		msg := strings.TrimSpace(string(body))
		if res.StatusCode < 500 {
			return backoff.Permanent(&webhookRejected{status: res.StatusCode, body: msg})
		}
		return fmt.Errorf("status %d: %s", res.StatusCode, msg)
	}
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
