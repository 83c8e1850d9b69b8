package model

import (
	"time"

	"github.com/google/uuid"
)

// MonitorHeartbeatPayload reports that the monitor is alive together with the
// pod inventory of the watched namespace.
type MonitorHeartbeatPayload struct {
	EventID     string         `json:"eventId"`
	OccurredAt  time.Time      `json:"occurredAt"`
	Source      SourceMetadata `json:"source"`
	MessageType string         `json:"messageType"`
	Namespace   string         `json:"namespace"`
	PodUIDs     []string       `json:"podUids,omitempty"`
}

// NewMonitorHeartbeatPayload creates a new heartbeat payload.
func NewMonitorHeartbeatPayload(clusterID, agentVersion, namespace string, podUIDs []string) MonitorHeartbeatPayload {
	return MonitorHeartbeatPayload{
		EventID:    uuid.New().String(),
		OccurredAt: time.Now().UTC(),
		Source: SourceMetadata{
			ClusterID:    clusterID,
			AgentVersion: agentVersion,
		},
		MessageType: "HEARTBEAT",
		Namespace:   namespace,
		PodUIDs:     podUIDs,
	}
}
