// Package diagnostics implements the hub's own self-observation surface:
// health probing, a manual RPA submission tester, and the Slack sink the
// subscription reconciler posts renewal-failure alerts to.
package diagnostics

import (
	"context"

	"github.com/slack-go/slack"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/apperrors"
)

// SlackAlerter posts operator alerts to a Slack incoming webhook. It
// satisfies subscriptions.Alerter.
type SlackAlerter struct {
	webhookURL string
	channel    string
}

// NewSlackAlerter builds a SlackAlerter posting to webhookURL. channel
// overrides the webhook's default channel when non-empty.
func NewSlackAlerter(webhookURL, channel string) *SlackAlerter {
	return &SlackAlerter{webhookURL: webhookURL, channel: channel}
}

// Alert posts message to the configured webhook. A blank webhookURL makes
// Alert a no-op, so deployments without Slack configured don't need a
// conditional at every call site.
func (a *SlackAlerter) Alert(_ context.Context, message string) error {
	if a.webhookURL == "" {
		return nil
	}
	payload := &slack.WebhookMessage{
		Text:     message,
		Channel:  a.channel,
		Username: "webhook-hub",
	}
	if err := slack.PostWebhook(a.webhookURL, payload); err != nil {
		return apperrors.NetworkError("post slack alert", a.webhookURL, err)
	}
	return nil
}
