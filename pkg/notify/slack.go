package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/veslabs/maestro/pkg/module"
)

// SlackSink posts updates to a Slack incoming webhook.
type SlackSink struct {
	webhookURL string
}

// NewSlackSink creates a sink for one webhook URL.
func NewSlackSink(webhookURL string) *SlackSink {
	return &SlackSink{webhookURL: webhookURL}
}

// Deliver posts the update as a webhook message.
func (s *SlackSink) Deliver(ctx context.Context, u module.Update) error {
	text := u.Message
	if u.Title != "" {
		text = fmt.Sprintf("*%s*\n%s", u.Title, u.Message)
	}
	err := slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{
		Username: "maestro/" + u.ModuleID,
		Text:     text,
	})
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

var _ Sink = (*SlackSink)(nil)
