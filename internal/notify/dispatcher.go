package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"issuehub/internal/telemetry"
)

// TokenStore forgets device tokens the messaging backend rejected.
type TokenStore interface {
	ClearDeviceTokens(ctx context.Context, tokens []string) (int64, error)
}

type DispatcherOptions struct {
	QueueSize       int
	Workers         int
	MaxAttempts     int
	InitialInterval time.Duration
	MaxElapsed      time.Duration
	Metrics         *telemetry.Workflow
}

// Dispatcher delivers notifications off the request path.
type Dispatcher struct {
	sender  Sender
	store   TokenStore
	log     zerolog.Logger
	queue   chan Notification
	opts    DispatcherOptions
	metrics *telemetry.Workflow
}

func NewDispatcher(sender Sender, store TokenStore, log zerolog.Logger, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = 30 * time.Second
	}
	return &Dispatcher{
		sender:  sender,
		store:   store,
		log:     log.With().Str("component", "notify").Logger(),
		queue:   make(chan Notification, opts.QueueSize),
		opts:    opts,
		metrics: opts.Metrics,
	}
}

// Enqueue hands a notification to the workers without blocking. It reports
// false when the notification was dropped because the queue is full.
func (d *Dispatcher) Enqueue(n Notification) bool {
	if len(n.Tokens) == 0 {
		return true
	}
	select {
	case d.queue <- n:
		return true
	default:
		d.log.Warn().
			Str("type", n.Message.Data["notification_type"]).
			Int("tokens", len(n.Tokens)).
			Msg("notification queue full, dropping")
		d.metrics.Delivered(context.Background(), "dropped", len(n.Tokens))
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.opts.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case n := <-d.queue:
					d.deliver(ctx, n)
				}
			}
		})
	}
	return g.Wait()
}

var errTransient = errors.New("transient delivery failure")

func (d *Dispatcher) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.opts.InitialInterval
	bo.MaxElapsedTime = d.opts.MaxElapsed
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.opts.MaxAttempts-1)), ctx)
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) Result {
	var total Result
	pending := n.Tokens
	err := backoff.Retry(func() error {
		res, err := d.sender.Send(ctx, pending, n.Message)
		if err != nil {
			return err
		}
		total.Success += res.Success
		total.Failure += res.Failure
		total.InvalidTokens = append(total.InvalidTokens, res.InvalidTokens...)
		if len(res.Retry) > 0 {
			pending = res.Retry
			return fmt.Errorf("%w: %d tokens", errTransient, len(res.Retry))
		}
		pending = nil
		return nil
	}, d.newBackOff(ctx))
	if err != nil {
		total.Failure += len(pending)
		d.log.Error().Err(err).Int("tokens", len(pending)).Msg("notification delivery gave up")
	}
	if len(total.InvalidTokens) > 0 && d.store != nil {
		purged, err := d.store.ClearDeviceTokens(ctx, total.InvalidTokens)
		if err != nil {
			d.log.Error().Err(err).Msg("purge invalid device tokens")
		} else {
			d.log.Info().Int64("purged", purged).Msg("purged invalid device tokens")
		}
	}
	d.metrics.Delivered(ctx, "success", total.Success)
	d.metrics.Delivered(ctx, "failure", total.Failure)
	d.log.Debug().
		Str("type", n.Message.Data["notification_type"]).
		Int("success", total.Success).
		Int("failure", total.Failure).
		Msg("notification delivered")
	return total
}
