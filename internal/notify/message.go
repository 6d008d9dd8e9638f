package notify

import (
	"fmt"
	"unicode/utf8"

	"issuehub/internal/domain"
)

const (
	MaxTitleLen = 80
	MaxBodyLen  = 200
)

// Notification kinds, sent as the notification_type data key.
const (
	KindIssueCreated  = "issue_created"
	KindIssueAssigned = "issue_assigned"
)

// Message is the payload handed to a Sender.
type Message struct {
	Title        string
	Body         string
	Data         map[string]string
	HighPriority bool
}

// Notification is a message addressed to a set of device tokens.
type Notification struct {
	Message Message
	Tokens  []string
}

// BuildIssueMessage composes the push payload for an issue event. The title
// is capped at MaxTitleLen and the composed body at MaxBodyLen characters.
func BuildIssueMessage(kind string, issue domain.Issue, by domain.Actor) Message {
	var title, body string
	switch kind {
	case KindIssueAssigned:
		title = "Issue Assigned: " + issue.Title
		body = fmt.Sprintf("Priority: %s | Assigned by: %s", domain.PriorityLabel(issue.Priority), by.DisplayName())
	default:
		title = "New Issue: " + issue.Title
		body = fmt.Sprintf("Priority: %s | Reporter: %s", domain.PriorityLabel(issue.Priority), by.DisplayName())
	}
	if issue.Description != "" {
		body += "\n" + issue.Description
	}
	return Message{
		Title: truncate(title, MaxTitleLen),
		Body:  truncate(body, MaxBodyLen),
		Data: map[string]string{
			"issue_id":          issue.ID,
			"priority":          issue.Priority,
			"status":            issue.Status,
			"notification_type": kind,
		},
		HighPriority: issue.Priority == domain.PriorityHigh || issue.Priority == domain.PriorityCritical,
	}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-3]) + "..."
}

// CollectTokens returns the non-empty device tokens of actors, deduplicated.
func CollectTokens(actors []domain.Actor) []string {
	seen := map[string]struct{}{}
	var tokens []string
	for _, a := range actors {
		if !a.Active || a.FCMToken == nil || *a.FCMToken == "" {
			continue
		}
		if _, ok := seen[*a.FCMToken]; ok {
			continue
		}
		seen[*a.FCMToken] = struct{}{}
		tokens = append(tokens, *a.FCMToken)
	}
	return tokens
}
