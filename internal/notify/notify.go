// Package notify delivers human-facing completion notices through a Slack
// incoming webhook.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/flightline/flightline/internal/config"
)

// Service posts relay notices to a Slack webhook. With no webhook configured
// every method is a no-op.
type Service struct {
	webhookURL string
}

// NewService builds a notifier from config.
func NewService(cfg config.NotifyConfig) *Service {
	return &Service{webhookURL: strings.TrimSpace(cfg.SlackWebhookURL)}
}

// Active reports whether notices will actually be sent.
func (s *Service) Active() bool {
	return s != nil && s.webhookURL != ""
}

// ItemCompleted announces that a work item finished the relay pipeline.
func (s *Service) ItemCompleted(ctx context.Context, issueID string, exitCode int) error {
	if !s.Active() {
		return nil
	}
	text := fmt.Sprintf(":airplane_arriving: Work item %s completed the relay pipeline.", issueID)
	if exitCode != 0 {
		text = fmt.Sprintf(":warning: Work item %s finished the relay pipeline with exit code %d.", issueID, exitCode)
	}
	if err := slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{Text: text}); err != nil {
		return fmt.Errorf("post completion notice: %w", err)
	}
	return nil
}
