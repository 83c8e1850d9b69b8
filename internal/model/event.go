package model

import (
	"time"
)

// EventKind is the lifecycle transition observed for a pod.
type EventKind string

const (
	EventKindCreated  EventKind = "CREATED"
	EventKindModified EventKind = "MODIFIED"
	EventKindDeleted  EventKind = "DELETED"
)

// PodEvent is a classified pod lifecycle transition, produced by the
// classifier from raw watch events.
type PodEvent struct {
	Kind            EventKind
	PodName         string
	Namespace       string
	ResourceVersion string
	ObservedAt      time.Time
}

// NewPodEvent creates a pod event stamped with the current time.
func NewPodEvent(kind EventKind, namespace, name, resourceVersion string) PodEvent {
	return PodEvent{
		Kind:            kind,
		PodName:         name,
		Namespace:       namespace,
		ResourceVersion: resourceVersion,
		ObservedAt:      time.Now().UTC(),
	}
}

// SourceMetadata identifies the agent instance that produced a payload.
type SourceMetadata struct {
	ClusterID    string `json:"clusterId,omitempty"`
	AgentVersion string `json:"agentVersion"`
}
