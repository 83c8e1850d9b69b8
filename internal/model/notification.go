package model

import "fmt"

// NotificationMessage is a single outbound notification. Immutable once
// enqueued except for AttemptCount, which the dispatcher increments on retry.
type NotificationMessage struct {
	Text         string
	PodName      string
	Kind         EventKind
	AttemptCount int
}

// NewNotification renders the message template for a pod event.
func NewNotification(event PodEvent) NotificationMessage {
	return NotificationMessage{
		Text:    messageText(event.Kind, event.PodName),
		PodName: event.PodName,
		Kind:    event.Kind,
	}
}

func messageText(kind EventKind, podName string) string {
	switch kind {
	case EventKindCreated:
		return fmt.Sprintf("Hello world from %s", podName)
	case EventKindModified:
		return fmt.Sprintf("Things have changed, %s", podName)
	case EventKindDeleted:
		return fmt.Sprintf("Goodbye world from, %s", podName)
	}
	return ""
}
