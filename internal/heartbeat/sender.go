package heartbeat

import (
	"context"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/podwatch-sh/agent/internal/hooks"
	"github.com/podwatch-sh/agent/internal/model"
)

// Config holds configuration for the heartbeat sender.
type Config struct {
	Interval     time.Duration
	Namespace    string
	ClusterID    string
	AgentVersion string
}

// DefaultConfig returns the default heartbeat configuration.
func DefaultConfig(namespace string) Config {
	return Config{
		Interval:  5 * time.Minute,
		Namespace: namespace,
	}
}

// Sender periodically reports the monitored namespace's pod inventory to
// heartbeat-capable sinks. It never touches the watch session's state.
type Sender struct {
	config     Config
	client     kubernetes.Interface
	publishers []hooks.HeartbeatPublisher
}

// NewSender creates a new heartbeat sender.
func NewSender(config Config, client kubernetes.Interface, publishers []hooks.HeartbeatPublisher) *Sender {
	return &Sender{
		config:     config,
		client:     client,
		publishers: publishers,
	}
}

// Start runs the heartbeat loop until the context is cancelled.
func (s *Sender) Start(ctx context.Context) {
	logger := log.FromContext(ctx).WithName("heartbeat-sender")

	logger.Info("starting heartbeat sender",
		"interval", s.config.Interval,
		"namespace", s.config.Namespace,
		"publishers", len(s.publishers),
	)

	// Send initial heartbeat immediately
	s.sendHeartbeat(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sendHeartbeat(ctx)
		case <-ctx.Done():
			logger.Info("heartbeat sender stopped")
			return
		}
	}
}

func (s *Sender) sendHeartbeat(ctx context.Context) {
	logger := log.FromContext(ctx).WithName("heartbeat-sender")

	podUIDs, err := s.collectPodUIDs(ctx)
	if err != nil {
		logger.Error(err, "failed to collect pod UIDs")
	}

	payload := model.NewMonitorHeartbeatPayload(
		s.config.ClusterID,
		s.config.AgentVersion,
		s.config.Namespace,
		podUIDs,
	)

	logger.V(1).Info("sending heartbeat",
		"eventID", payload.EventID,
		"podCount", len(podUIDs),
	)

	for _, publisher := range s.publishers {
		if err := publisher.PublishHeartbeat(ctx, payload); err != nil {
			logger.Error(err, "failed to publish heartbeat")
		}
	}
}

func (s *Sender) collectPodUIDs(ctx context.Context) ([]string, error) {
	podList, err := s.client.CoreV1().Pods(s.config.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}

	uids := make([]string, 0, len(podList.Items))
	for _, pod := range podList.Items {
		uids = append(uids, string(pod.UID))
	}

	return uids, nil
}
