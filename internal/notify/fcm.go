package notify

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// multicastLimit is the largest token batch FCM accepts per multicast call.
const multicastLimit = 500

// FCMSender delivers messages through Firebase Cloud Messaging.
type FCMSender struct {
	client *messaging.Client
}

// NewFCMSender initializes a Firebase app from a service account file.
func NewFCMSender(ctx context.Context, credentialsFile string) (*FCMSender, error) {
	if credentialsFile == "" {
		return nil, errors.New("notifications.credentials_file is required for FCM")
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return &FCMSender{client: client}, nil
}

func (s *FCMSender) Send(ctx context.Context, tokens []string, msg Message) (Result, error) {
	var res Result
	for start := 0; start < len(tokens); start += multicastLimit {
		end := start + multicastLimit
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[start:end]
		br, err := s.client.SendEachForMulticast(ctx, multicastMessage(batch, msg))
		if err != nil {
			return res, fmt.Errorf("fcm multicast: %w", err)
		}
		res.Success += br.SuccessCount
		for i, r := range br.Responses {
			if r.Success || i >= len(batch) {
				continue
			}
			switch classify(r.Error) {
			case tokenInvalid:
				res.Failure++
				res.InvalidTokens = append(res.InvalidTokens, batch[i])
			case tokenRetry:
				res.Retry = append(res.Retry, batch[i])
			default:
				res.Failure++
			}
		}
	}
	return res, nil
}

func multicastMessage(tokens []string, msg Message) *messaging.MulticastMessage {
	m := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
	}
	if msg.HighPriority {
		m.Android = &messaging.AndroidConfig{Priority: "high"}
	}
	return m
}

type tokenOutcome int

const (
	tokenFailed tokenOutcome = iota
	tokenInvalid
	tokenRetry
)

func classify(err error) tokenOutcome {
	switch {
	case err == nil:
		return tokenFailed
	case messaging.IsUnregistered(err), messaging.IsInvalidArgument(err), messaging.IsSenderIDMismatch(err):
		return tokenInvalid
	case messaging.IsUnavailable(err), messaging.IsInternal(err), messaging.IsQuotaExceeded(err):
		return tokenRetry
	}
	return tokenFailed
}
