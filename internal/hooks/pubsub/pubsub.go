package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/podwatch-sh/agent/internal/model"
)

// Publisher mirrors pod lifecycle notifications to Google Cloud Pub/Sub.
// It is an optional secondary sink next to the webhook.
type Publisher struct {
	client       *pubsub.Client
	publisher    *pubsub.Publisher
	topicPath    string
	clusterID    string
	agentVersion string
}

// ParseTopicPath parses a full Pub/Sub topic path and returns projectID and topicID.
// Expected format: projects/<project>/topics/<topic>
func ParseTopicPath(topicPath string) (projectID, topicID string, err error) {
	parts := strings.Split(topicPath, "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[2] != "topics" {
		return "", "", fmt.Errorf("invalid topic path %q: expected format projects/<project>/topics/<topic>", topicPath)
	}
	return parts[1], parts[3], nil
}

// NewPublisher creates a Pub/Sub publisher.
//
// Authentication is handled via Application Default Credentials (ADC):
//   - Workload Identity (GKE): auto-detected from the metadata server
//   - Service Account JSON key: GOOGLE_APPLICATION_CREDENTIALS env var
//   - Default credentials: gcloud auth application-default login
func NewPublisher(ctx context.Context, topicPath, clusterID, agentVersion string) (*Publisher, error) {
	projectID, topicID, err := ParseTopicPath(topicPath)
	if err != nil {
		return nil, err
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	// Ordering keeps notifications for the same pod in lifecycle order.
	// The subscription must also have message ordering enabled.
	publisher := client.Publisher(topicID)
	publisher.EnableMessageOrdering = true

	return &Publisher{
		client:       client,
		publisher:    publisher,
		topicPath:    topicPath,
		clusterID:    clusterID,
		agentVersion: agentVersion,
	}, nil
}

// event is the message structure published for one notification.
type event struct {
	ID        string               `json:"id"`
	Timestamp string               `json:"timestamp"`
	Source    model.SourceMetadata `json:"source"`
	PodName   string               `json:"podName"`
	EventKind model.EventKind      `json:"eventKind"`
	Text      string               `json:"text"`
}

// Publish sends one notification to Pub/Sub.
func (p *Publisher) Publish(ctx context.Context, msg model.NotificationMessage) error {
	logger := log.FromContext(ctx)

	evt := event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source: model.SourceMetadata{
			ClusterID:    p.clusterID,
			AgentVersion: p.agentVersion,
		},
		PodName:   msg.PodName,
		EventKind: msg.Kind,
		Text:      msg.Text,
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	attributes := map[string]string{
		"pod_name":   msg.PodName,
		"event_kind": string(msg.Kind),
	}
	if p.clusterID != "" {
		attributes["cluster_name"] = p.clusterID
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attributes,
		OrderingKey: msg.PodName,
	})

	msgID, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish event to pubsub: %w", err)
	}

	logger.V(1).Info("event published to Pub/Sub",
		"topic", p.topicPath,
		"eventID", evt.ID,
		"messageID", msgID,
		"pod", msg.PodName,
		"kind", msg.Kind,
	)

	return nil
}

// PublishHeartbeat sends a monitor heartbeat to Pub/Sub.
func (p *Publisher) PublishHeartbeat(ctx context.Context, payload model.MonitorHeartbeatPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"message_type": payload.MessageType,
			"namespace":    payload.Namespace,
		},
		OrderingKey: "heartbeat/" + payload.Namespace,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish heartbeat to pubsub: %w", err)
	}

	return nil
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
