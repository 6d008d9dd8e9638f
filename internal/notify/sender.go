package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Result reports the outcome of one send. InvalidTokens should be purged from
// actor records; Retry lists tokens that failed transiently.
type Result struct {
	Success       int
	Failure       int
	InvalidTokens []string
	Retry         []string
}

// Sender delivers a message to device tokens.
type Sender interface {
	Send(ctx context.Context, tokens []string, msg Message) (Result, error)
}

// LogSender logs messages instead of delivering them. It is used when no
// messaging credentials are configured.
type LogSender struct {
	Log zerolog.Logger
}

func (s LogSender) Send(ctx context.Context, tokens []string, msg Message) (Result, error) {
	s.Log.Info().
		Str("title", msg.Title).
		Int("tokens", len(tokens)).
		Str("type", msg.Data["notification_type"]).
		Msg("push notification (not delivered, messaging disabled)")
	return Result{Success: len(tokens)}, nil
}
