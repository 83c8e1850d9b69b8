package hooks

import (
	"context"

	"github.com/podwatch-sh/agent/internal/model"
)

// NotificationPublisher delivers one notification to an external sink.
type NotificationPublisher interface {
	Publish(ctx context.Context, msg model.NotificationMessage) error
}

// HeartbeatPublisher delivers periodic liveness and inventory payloads.
type HeartbeatPublisher interface {
	PublishHeartbeat(ctx context.Context, payload model.MonitorHeartbeatPayload) error
}
