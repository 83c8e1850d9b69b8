package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/podwatch-sh/agent/internal/metrics"
	"github.com/podwatch-sh/agent/internal/model"
)

// DispatcherConfig tunes the notification dispatcher.
type DispatcherConfig struct {
	// QueueSize bounds the in-memory queue decoupling the watch pipeline
	// from sink latency.
	QueueSize int

	// MaxAttempts is the per-publisher send ceiling for one message.
	MaxAttempts int

	// RetryBase and RetryCap bound the exponential delay between attempts.
	RetryBase time.Duration
	RetryCap  time.Duration

	// DrainWindow is how long queued messages may keep flowing after
	// shutdown begins.
	DrainWindow time.Duration
}

// DefaultDispatcherConfig returns the dispatcher defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:   100,
		MaxAttempts: 3,
		RetryBase:   1 * time.Second,
		RetryCap:    10 * time.Second,
		DrainWindow: 5 * time.Second,
	}
}

// Dispatcher owns the bounded notification queue and a single worker that
// sends outbound notifications, preserving arrival order. Delivery is
// at-most-once: a message that exhausts its retries is dropped and recorded.
type Dispatcher struct {
	cfg        DispatcherConfig
	queue      chan model.NotificationMessage
	publishers []NotificationPublisher
	done       chan struct{}
}

// NewDispatcher creates a dispatcher; Loop must be started to drain the queue.
func NewDispatcher(cfg DispatcherConfig, publishers []NotificationPublisher) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		queue:      make(chan model.NotificationMessage, cfg.QueueSize),
		publishers: publishers,
		done:       make(chan struct{}),
	}
}

// Enqueue offers a message to the queue without blocking. When the queue is
// full the message is dropped and counted; the watch pipeline never stalls on
// a slow sink.
func (d *Dispatcher) Enqueue(msg model.NotificationMessage) bool {
	select {
	case d.queue <- msg:
		metrics.QueueDepth.Set(float64(len(d.queue)))
		return true
	default:
		metrics.NotificationsDropped.WithLabelValues(metrics.DropReasonQueueFull).Inc()
		return false
	}
}

// Done is closed once Loop has finished draining after cancellation.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Loop processes the queue until the context is cancelled, then drains
// whatever is left within the configured drain window.
func (d *Dispatcher) Loop(ctx context.Context) {
	logger := log.FromContext(ctx).WithName("dispatcher")
	defer close(d.done)

	logger.Info("notification dispatcher started",
		"publishers", len(d.publishers),
		"queueSize", d.cfg.QueueSize,
		"maxAttempts", d.cfg.MaxAttempts,
	)

	for {
		select {
		case <-ctx.Done():
			d.drain(logger)
			return
		case msg := <-d.queue:
			metrics.QueueDepth.Set(float64(len(d.queue)))
			d.deliver(ctx, logger, msg)
		}
	}
}

func (d *Dispatcher) drain(logger logr.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainWindow)
	defer cancel()

	for {
		select {
		case msg := <-d.queue:
			if ctx.Err() != nil {
				metrics.NotificationsDropped.WithLabelValues(metrics.DropReasonShutdown).Inc()
				logger.Info("discarding queued notification during shutdown", "pod", msg.PodName, "kind", msg.Kind)
				continue
			}
			d.deliver(ctx, logger, msg)
		default:
			metrics.QueueDepth.Set(0)
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, logger logr.Logger, msg model.NotificationMessage) {
	for _, publisher := range d.publishers {
		d.deliverTo(ctx, logger, publisher, msg)
	}
}

// deliverTo sends one message to one publisher, retrying with exponential
// backoff up to the attempt ceiling before dropping it.
func (d *Dispatcher) deliverTo(ctx context.Context, logger logr.Logger, publisher NotificationPublisher, msg model.NotificationMessage) {
	backoff := wait.Backoff{
		Duration: d.cfg.RetryBase,
		Factor:   2.0,
		Steps:    d.cfg.MaxAttempts,
		Cap:      d.cfg.RetryCap,
	}

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		msg.AttemptCount = attempt
		err := publisher.Publish(ctx, msg)
		if err == nil {
			metrics.NotificationsSent.Inc()
			logger.V(1).Info("notification sent",
				"publisher", fmt.Sprintf("%T", publisher),
				"pod", msg.PodName,
				"kind", msg.Kind,
				"attempt", attempt,
			)
			return
		}

		logger.Error(err, "notification send failed",
			"publisher", fmt.Sprintf("%T", publisher),
			"pod", msg.PodName,
			"kind", msg.Kind,
			"attempt", attempt,
		)

		if attempt == d.cfg.MaxAttempts {
			break
		}
		if !sleepCtx(ctx, backoff.Step()) {
			break
		}
	}

	metrics.NotificationsDropped.WithLabelValues(metrics.DropReasonRetriesExhausted).Inc()
	logger.Error(nil, "notification dropped after exhausting retries",
		"publisher", fmt.Sprintf("%T", publisher),
		"pod", msg.PodName,
		"kind", msg.Kind,
		"attempts", msg.AttemptCount,
	)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
