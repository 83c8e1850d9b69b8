package hooks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onsi/gomega"

	"github.com/podwatch-sh/agent/internal/model"
)

// fakePublisher fails the first `failures` sends, then succeeds.
type fakePublisher struct {
	mu        sync.Mutex
	failures  int
	calls     []time.Time
	attempts  []int
	delivered []model.NotificationMessage
}

func (f *fakePublisher) Publish(_ context.Context, msg model.NotificationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, time.Now())
	f.attempts = append(f.attempts, msg.AttemptCount)
	if len(f.calls) <= f.failures {
		return errors.New("sink unreachable")
	}
	f.delivered = append(f.delivered, msg)
	return nil
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePublisher) deliveredTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	texts := make([]string, 0, len(f.delivered))
	for _, msg := range f.delivered {
		texts = append(texts, msg.Text)
	}
	return texts
}

func testDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:   10,
		MaxAttempts: 3,
		RetryBase:   20 * time.Millisecond,
		RetryCap:    200 * time.Millisecond,
		DrainWindow: time.Second,
	}
}

func notificationFor(kind model.EventKind, pod string) model.NotificationMessage {
	return model.NewNotification(model.NewPodEvent(kind, "default", pod, "100"))
}

func TestDispatcherPreservesOrder(t *testing.T) {
	g := gomega.NewWithT(t)

	publisher := &fakePublisher{}
	d := NewDispatcher(testDispatcherConfig(), []NotificationPublisher{publisher})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Loop(ctx)

	for _, kind := range []model.EventKind{model.EventKindCreated, model.EventKindModified, model.EventKindDeleted} {
		if !d.Enqueue(notificationFor(kind, "web-1")) {
			t.Fatal("enqueue rejected with a non-full queue")
		}
	}

	g.Eventually(publisher.deliveredTexts, "3s", "10ms").Should(gomega.Equal([]string{
		"Hello world from web-1",
		"Things have changed, web-1",
		"Goodbye world from, web-1",
	}))
}

func TestDispatcherRetriesWithIncreasingBackoffThenDrops(t *testing.T) {
	g := gomega.NewWithT(t)

	publisher := &fakePublisher{failures: 1000}
	d := NewDispatcher(testDispatcherConfig(), []NotificationPublisher{publisher})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Loop(ctx)

	d.Enqueue(notificationFor(model.EventKindCreated, "web-1"))

	g.Eventually(publisher.callCount, "3s", "10ms").Should(gomega.Equal(3))
	g.Consistently(publisher.callCount, "300ms", "20ms").Should(gomega.Equal(3),
		"message must be dropped after the attempt ceiling")

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if got := publisher.attempts; len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected attempt counts [1 2 3], got %v", got)
	}
	gapFirst := publisher.calls[1].Sub(publisher.calls[0])
	gapSecond := publisher.calls[2].Sub(publisher.calls[1])
	if gapSecond <= gapFirst {
		t.Errorf("expected strictly increasing backoff, got %v then %v", gapFirst, gapSecond)
	}
}

func TestDispatcherContinuesAfterDroppedMessage(t *testing.T) {
	g := gomega.NewWithT(t)

	// First message exhausts all three attempts; the next one goes through.
	publisher := &fakePublisher{failures: 3}
	d := NewDispatcher(testDispatcherConfig(), []NotificationPublisher{publisher})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Loop(ctx)

	d.Enqueue(notificationFor(model.EventKindCreated, "web-1"))
	d.Enqueue(notificationFor(model.EventKindDeleted, "web-2"))

	g.Eventually(publisher.deliveredTexts, "3s", "10ms").Should(gomega.Equal([]string{
		"Goodbye world from, web-2",
	}))
}

func TestDispatcherEnqueueDropsWhenQueueFull(t *testing.T) {
	cfg := testDispatcherConfig()
	cfg.QueueSize = 1
	d := NewDispatcher(cfg, nil)

	if !d.Enqueue(notificationFor(model.EventKindCreated, "web-1")) {
		t.Fatal("first enqueue should succeed")
	}
	if d.Enqueue(notificationFor(model.EventKindCreated, "web-2")) {
		t.Fatal("second enqueue should be rejected by the full queue")
	}
}

func TestDispatcherDrainsQueueOnShutdown(t *testing.T) {
	publisher := &fakePublisher{}
	d := NewDispatcher(testDispatcherConfig(), []NotificationPublisher{publisher})

	d.Enqueue(notificationFor(model.EventKindCreated, "web-1"))
	d.Enqueue(notificationFor(model.EventKindModified, "web-1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	go d.Loop(ctx)

	select {
	case <-d.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("dispatcher did not finish draining")
	}

	if texts := publisher.deliveredTexts(); len(texts) != 2 {
		t.Fatalf("expected both queued messages delivered during drain, got %v", texts)
	}
}
