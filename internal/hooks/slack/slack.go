package slack

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/podwatch-sh/agent/internal/model"
)

// Publisher sends notifications to a Slack-compatible incoming webhook as a
// single HTTPS POST with a JSON text payload. Any 2xx response is success.
// Retrying is the dispatcher's job; the client itself does not retry.
type Publisher struct {
	client     *resty.Client
	webhookURL string
}

// payload is the webhook request body.
type payload struct {
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
}

// NewPublisher creates a webhook publisher.
func NewPublisher(webhookURL string) *Publisher {
	client := resty.New().
		SetTimeout(10 * time.Second)

	return &Publisher{
		client:     client,
		webhookURL: webhookURL,
	}
}

// Publish sends one notification to the webhook.
func (p *Publisher) Publish(ctx context.Context, msg model.NotificationMessage) error {
	logger := log.FromContext(ctx)

	body := payload{
		Text:      msg.Text,
		Username:  "k8s-pod-monitor",
		IconEmoji: ":robot_face:",
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(p.webhookURL)

	if err != nil {
		return fmt.Errorf("failed to send webhook notification: %w", err)
	}

	if !resp.IsSuccess() {
		return fmt.Errorf("webhook returned error status %d: %s", resp.StatusCode(), resp.String())
	}

	logger.V(1).Info("webhook notification delivered",
		"pod", msg.PodName,
		"kind", msg.Kind,
		"statusCode", resp.StatusCode(),
	)

	return nil
}
