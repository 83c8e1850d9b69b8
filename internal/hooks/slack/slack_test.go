package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/podwatch-sh/agent/internal/model"
)

func notification(kind model.EventKind, pod string) model.NotificationMessage {
	return model.NewNotification(model.NewPodEvent(kind, "default", pod, "100"))
}

func TestPublisherSendsWebhookPayload(t *testing.T) {
	var mu sync.Mutex
	var bodies []payload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json content type, got %q", ct)
		}
		var body payload
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewPublisher(server.URL)
	ctx := context.Background()

	for _, kind := range []model.EventKind{model.EventKindCreated, model.EventKindModified, model.EventKindDeleted} {
		if err := p.Publish(ctx, notification(kind, "web-1")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	expected := []string{
		"Hello world from web-1",
		"Things have changed, web-1",
		"Goodbye world from, web-1",
	}
	if len(bodies) != len(expected) {
		t.Fatalf("expected %d webhook calls, got %d", len(expected), len(bodies))
	}
	for i, want := range expected {
		if bodies[i].Text != want {
			t.Errorf("call %d: expected text %q, got %q", i, want, bodies[i].Text)
		}
		if bodies[i].Username != "k8s-pod-monitor" {
			t.Errorf("call %d: expected username k8s-pod-monitor, got %q", i, bodies[i].Username)
		}
		if bodies[i].IconEmoji != ":robot_face:" {
			t.Errorf("call %d: expected icon :robot_face:, got %q", i, bodies[i].IconEmoji)
		}
	}
}

func TestPublisherReturnsErrorOnServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try later", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewPublisher(server.URL)
	if err := p.Publish(context.Background(), notification(model.EventKindCreated, "web-1")); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestPublisherReturnsErrorOnTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	p := NewPublisher(server.URL)
	if err := p.Publish(context.Background(), notification(model.EventKindCreated, "web-1")); err == nil {
		t.Fatal("expected error when the sink is unreachable")
	}
}
