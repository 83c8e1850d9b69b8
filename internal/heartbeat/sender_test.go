package heartbeat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/podwatch-sh/agent/internal/hooks"
	"github.com/podwatch-sh/agent/internal/model"
)

type capturingPublisher struct {
	mu       sync.Mutex
	payloads []model.MonitorHeartbeatPayload
}

func (p *capturingPublisher) PublishHeartbeat(_ context.Context, payload model.MonitorHeartbeatPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *capturingPublisher) last(t *testing.T) model.MonitorHeartbeatPayload {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.payloads) == 0 {
		t.Fatal("no heartbeat published")
	}
	return p.payloads[len(p.payloads)-1]
}

func podWithUID(name, namespace, uid string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			UID:       types.UID(uid),
		},
	}
}

func TestSenderReportsPodInventory(t *testing.T) {
	client := fake.NewClientset(
		podWithUID("web-1", "default", "uid-1"),
		podWithUID("web-2", "default", "uid-2"),
		podWithUID("other", "staging", "uid-3"),
	)

	publisher := &capturingPublisher{}
	cfg := DefaultConfig("default")
	cfg.ClusterID = "cluster-a"
	cfg.AgentVersion = "1.2.3"
	s := NewSender(cfg, client, []hooks.HeartbeatPublisher{publisher})

	s.sendHeartbeat(context.Background())

	payload := publisher.last(t)
	if payload.MessageType != "HEARTBEAT" {
		t.Errorf("expected message type HEARTBEAT, got %q", payload.MessageType)
	}
	if payload.Namespace != "default" {
		t.Errorf("expected namespace default, got %q", payload.Namespace)
	}
	if payload.Source.ClusterID != "cluster-a" || payload.Source.AgentVersion != "1.2.3" {
		t.Errorf("unexpected source metadata: %+v", payload.Source)
	}
	if payload.EventID == "" {
		t.Error("expected a generated event id")
	}

	got := append([]string(nil), payload.PodUIDs...)
	sort.Strings(got)
	want := []string{"uid-1", "uid-2"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected pod UIDs %v from the watched namespace only, got %v", want, got)
	}
}

func TestSenderHeartbeatsEvenWhenListFails(t *testing.T) {
	client := fake.NewClientset()
	client.PrependReactor("list", "pods",
		func(_ k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, errors.New("apiserver unavailable")
		})

	publisher := &capturingPublisher{}
	s := NewSender(DefaultConfig("default"), client, []hooks.HeartbeatPublisher{publisher})

	s.sendHeartbeat(context.Background())

	payload := publisher.last(t)
	if len(payload.PodUIDs) != 0 {
		t.Errorf("expected empty inventory when listing fails, got %v", payload.PodUIDs)
	}
}
