// Package metrics exposes the agent's Prometheus instrumentation, served from
// the health listener's /metrics path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts classified pod lifecycle events by kind.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podwatch_events_total",
		Help: "Pod lifecycle events accepted by the classifier, by kind.",
	}, []string{"kind"})

	// EventsDeduplicated counts raw watch events suppressed by the
	// (podName, resourceVersion) dedup check.
	EventsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podwatch_events_deduplicated_total",
		Help: "Raw watch events dropped because they were already processed.",
	})

	// RelistsTotal counts full listings performed by the watch session.
	RelistsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podwatch_relists_total",
		Help: "Full pod listings performed to (re)establish a watch baseline.",
	})

	// ReconnectsTotal counts watch session reconnect attempts after failures.
	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podwatch_reconnects_total",
		Help: "Watch session reconnections triggered by stream failures.",
	})

	// NotificationsSent counts notifications acknowledged by a sink.
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podwatch_notifications_sent_total",
		Help: "Notifications successfully delivered to a sink.",
	})

	// NotificationsDropped counts notifications lost to backpressure or
	// exhausted retries.
	NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podwatch_notifications_dropped_total",
		Help: "Notifications dropped, by reason.",
	}, []string{"reason"})

	// QueueDepth tracks the current dispatch queue occupancy.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "podwatch_dispatch_queue_depth",
		Help: "Number of notifications waiting in the dispatch queue.",
	})

	// SessionStreaming is 1 while the watch session is streaming events.
	SessionStreaming = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "podwatch_session_streaming",
		Help: "Whether the watch session is currently streaming (1) or not (0).",
	})
)

const (
	// DropReasonQueueFull marks notifications rejected by a full queue.
	DropReasonQueueFull = "queue_full"
	// DropReasonRetriesExhausted marks notifications abandoned after the
	// retry ceiling.
	DropReasonRetriesExhausted = "retries_exhausted"
	// DropReasonShutdown marks notifications discarded during shutdown drain.
	DropReasonShutdown = "shutdown"
)
