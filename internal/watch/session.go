// Package watch owns the long-running list-then-watch session against the
// Kubernetes API server. The session is the sole writer of the watch cursor
// and session state; everything else reads snapshots through Status.
package watch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	apiwatch "k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/podwatch-sh/agent/internal/metrics"
)

// State is the lifecycle state of the watch session.
type State string

const (
	StateConnecting   State = "Connecting"
	StateStreaming    State = "Streaming"
	StateReconnecting State = "Reconnecting"
	StateFailed       State = "Failed"
)

// Cursor is the session's position in the API server's event history.
type Cursor struct {
	ResourceVersion string
	LastAdvancedAt  time.Time
}

// Status is a read-only snapshot of the session, safe to hand to other
// goroutines.
type Status struct {
	State  State
	Cursor Cursor
}

// Config tunes the watch session.
type Config struct {
	Namespace string

	// IdleTimeout closes a stream that produced no event or bookmark within
	// the window; the session then reconnects as if the network had failed.
	IdleTimeout time.Duration

	// WatchTimeoutSeconds is the server-side watch window.
	WatchTimeoutSeconds int64

	// BackoffBase and BackoffCap bound the jittered exponential reconnect
	// backoff.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// SteadyStreamingReset is how long a stream must survive before the
	// reconnect backoff resets to its base.
	SteadyStreamingReset time.Duration

	// BufferSize is the capacity of the downstream item channel.
	BufferSize int
}

// DefaultConfig returns the session defaults.
func DefaultConfig(namespace string) Config {
	return Config{
		Namespace:            namespace,
		IdleTimeout:          30 * time.Second,
		WatchTimeoutSeconds:  300,
		BackoffBase:          1 * time.Second,
		BackoffCap:           30 * time.Second,
		SteadyStreamingReset: 3 * time.Minute,
		BufferSize:           256,
	}
}

// PodChange is a single streamed pod event.
type PodChange struct {
	Type apiwatch.EventType
	Pod  *corev1.Pod
}

// Relist is the full pod snapshot produced by a (re)list.
type Relist struct {
	Pods            []corev1.Pod
	ResourceVersion string
}

// Item is what the session emits downstream: exactly one of Relist or Change
// is set. A Relist item precedes the stream that follows it.
type Item struct {
	Relist *Relist
	Change *PodChange
}

var (
	errIdleTimeout  = errors.New("no events or bookmarks within idle window")
	errStreamClosed = errors.New("watch stream closed by server")
)

// Session maintains one watch session for a namespace.
type Session struct {
	client kubernetes.Interface
	cfg    Config
	items  chan Item

	mu     sync.RWMutex
	status Status
}

// New creates a session; Run must be called to start it.
func New(client kubernetes.Interface, cfg Config) *Session {
	return &Session{
		client: client,
		cfg:    cfg,
		items:  make(chan Item, cfg.BufferSize),
		status: Status{State: StateConnecting},
	}
}

// Items returns the downstream channel. It is closed when Run returns.
func (s *Session) Items() <-chan Item {
	return s.items
}

// Status returns a snapshot of the session state and cursor.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Run drives the session until the context is cancelled or a fatal error
// occurs. Transient failures and watch expiry are handled internally; only
// authorization failures and cancellation are returned.
func (s *Session) Run(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("watch-session").WithValues("namespace", s.cfg.Namespace)
	defer close(s.items)

	backoff := s.newBackoff()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		list, err := s.client.CoreV1().Pods(s.cfg.Namespace).List(ctx, metav1.ListOptions{})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isFatal(err) {
				s.setState(StateFailed)
				logger.Error(err, "not authorized to list pods")
				return fmt.Errorf("listing pods in %q: %w", s.cfg.Namespace, err)
			}
			s.setState(StateReconnecting)
			delay := backoff.Step()
			logger.Error(err, "pod list failed, backing off", "delay", delay)
			if !s.sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		metrics.RelistsTotal.Inc()
		s.advance(list.ResourceVersion)
		if !s.emit(ctx, Item{Relist: &Relist{Pods: list.Items, ResourceVersion: list.ResourceVersion}}) {
			return ctx.Err()
		}

		resourceVersion := list.ResourceVersion
		streamStart := time.Now()
		err = s.stream(ctx, &resourceVersion)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isFatal(err) {
			s.setState(StateFailed)
			logger.Error(err, "not authorized to watch pods")
			return fmt.Errorf("watching pods in %q: %w", s.cfg.Namespace, err)
		}

		s.setState(StateReconnecting)
		if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
			// State compaction invalidated our cursor. A fresh listing is the
			// designed recovery path, not an error.
			logger.Info("watch expired, relisting", "resourceVersion", resourceVersion)
			backoff = s.newBackoff()
			continue
		}

		metrics.ReconnectsTotal.Inc()
		if errors.Is(err, errIdleTimeout) || time.Since(streamStart) >= s.cfg.SteadyStreamingReset {
			backoff = s.newBackoff()
		}
		delay := backoff.Step()
		logger.Info("watch stream ended, reconnecting", "cause", err.Error(), "delay", delay)
		if !s.sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

// stream consumes one watch connection until it fails, expires, or goes idle.
// resourceVersion tracks the last version handed downstream so the caller can
// report where the stream stopped.
func (s *Session) stream(ctx context.Context, resourceVersion *string) error {
	timeout := s.cfg.WatchTimeoutSeconds
	w, err := s.client.CoreV1().Pods(s.cfg.Namespace).Watch(ctx, metav1.ListOptions{
		ResourceVersion:     *resourceVersion,
		TimeoutSeconds:      &timeout,
		AllowWatchBookmarks: true,
	})
	if err != nil {
		return err
	}
	defer w.Stop()

	s.setState(StateStreaming)

	idle := time.NewTimer(s.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			return errIdleTimeout
		case event, ok := <-w.ResultChan():
			if !ok {
				return errStreamClosed
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.cfg.IdleTimeout)

			switch event.Type {
			case apiwatch.Error:
				return apierrors.FromObject(event.Object)
			case apiwatch.Bookmark:
				if pod, ok := event.Object.(*corev1.Pod); ok {
					*resourceVersion = pod.ResourceVersion
					s.advance(pod.ResourceVersion)
				}
			case apiwatch.Added, apiwatch.Modified, apiwatch.Deleted:
				pod, ok := event.Object.(*corev1.Pod)
				if !ok {
					continue
				}
				*resourceVersion = pod.ResourceVersion
				s.advance(pod.ResourceVersion)
				if !s.emit(ctx, Item{Change: &PodChange{Type: event.Type, Pod: pod}}) {
					return ctx.Err()
				}
			}
		}
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.status.State = state
	s.mu.Unlock()

	if state == StateStreaming {
		metrics.SessionStreaming.Set(1)
	} else {
		metrics.SessionStreaming.Set(0)
	}
}

// advance moves the cursor forward. Resource versions are opaque, but when
// both sides parse as integers a regression is refused so the cursor stays
// non-decreasing across relists.
func (s *Session) advance(resourceVersion string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if resourceVersion != "" && !regressed(s.status.Cursor.ResourceVersion, resourceVersion) {
		s.status.Cursor.ResourceVersion = resourceVersion
	}
	s.status.Cursor.LastAdvancedAt = time.Now()
}

func regressed(current, next string) bool {
	if current == "" {
		return false
	}
	c, errC := strconv.ParseUint(current, 10, 64)
	n, errN := strconv.ParseUint(next, 10, 64)
	if errC != nil || errN != nil {
		return false
	}
	return n < c
}

func (s *Session) emit(ctx context.Context, item Item) bool {
	select {
	case <-ctx.Done():
		return false
	case s.items <- item:
		return true
	}
}

func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) newBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: s.cfg.BackoffBase,
		Factor:   2.0,
		Jitter:   0.2,
		Steps:    100,
		Cap:      s.cfg.BackoffCap,
	}
}

func isFatal(err error) bool {
	return apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err)
}
