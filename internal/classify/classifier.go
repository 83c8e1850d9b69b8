// Package classify turns raw watch items into typed pod lifecycle events and
// suppresses replays introduced by relist-driven reconnection.
package classify

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	apiwatch "k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/podwatch-sh/agent/internal/filter"
	"github.com/podwatch-sh/agent/internal/metrics"
	"github.com/podwatch-sh/agent/internal/model"
	"github.com/podwatch-sh/agent/internal/watch"
)

type knownPod struct {
	resourceVersion string
	namespace       string
}

// Classifier maps raw watch events to Created/Modified/Deleted transitions.
// It remembers the last accepted resourceVersion per pod, which makes it
// idempotent under the replay a relist can introduce. Not safe for concurrent
// use; a single pipeline goroutine owns it.
type Classifier struct {
	filter *filter.PodFilter
	known  map[string]knownPod
}

// New creates a classifier with an empty baseline, meaning every pod in the
// first listing is announced as created.
func New(f *filter.PodFilter) *Classifier {
	return &Classifier{
		filter: f,
		known:  make(map[string]knownPod),
	}
}

// Apply processes one watch item and returns the lifecycle events it implies.
func (c *Classifier) Apply(item watch.Item) []model.PodEvent {
	switch {
	case item.Relist != nil:
		return c.resync(item.Relist)
	case item.Change != nil:
		if event, ok := c.classify(item.Change); ok {
			return []model.PodEvent{event}
		}
	}
	return nil
}

// resync reconciles the known-pod baseline against a full listing. Pods
// unchanged across the relist boundary produce nothing; pods that appeared or
// changed while disconnected produce Created/Modified; pods that vanished
// produce Deleted.
func (c *Classifier) resync(relist *watch.Relist) []model.PodEvent {
	present := make(map[string]struct{}, len(relist.Pods))
	var events []model.PodEvent

	for i := range relist.Pods {
		pod := &relist.Pods[i]
		if !c.filter.Allow(pod.Namespace, pod.Labels) {
			continue
		}
		present[pod.Name] = struct{}{}
	}

	for name, last := range c.known {
		if _, ok := present[name]; !ok {
			delete(c.known, name)
			events = append(events, model.NewPodEvent(model.EventKindDeleted, last.namespace, name, relist.ResourceVersion))
		}
	}

	for i := range relist.Pods {
		pod := &relist.Pods[i]
		if _, ok := present[pod.Name]; !ok {
			continue
		}
		last, tracked := c.known[pod.Name]
		switch {
		case !tracked:
			events = append(events, c.accept(model.EventKindCreated, pod))
		case last.resourceVersion == pod.ResourceVersion:
			metrics.EventsDeduplicated.Inc()
		default:
			events = append(events, c.accept(model.EventKindModified, pod))
		}
	}

	return events
}

func (c *Classifier) classify(change *watch.PodChange) (model.PodEvent, bool) {
	pod := change.Pod
	if pod == nil {
		return model.PodEvent{}, false
	}
	if !c.filter.Allow(pod.Namespace, pod.Labels) {
		// A tracked pod that drifts into the filter leaves the pipeline the
		// same way a relist would report it: as a deletion.
		if _, tracked := c.known[pod.Name]; tracked {
			delete(c.known, pod.Name)
			return model.NewPodEvent(model.EventKindDeleted, pod.Namespace, pod.Name, pod.ResourceVersion), true
		}
		return model.PodEvent{}, false
	}

	last, tracked := c.known[pod.Name]
	switch change.Type {
	case apiwatch.Added, apiwatch.Modified:
		if tracked && last.resourceVersion == pod.ResourceVersion {
			metrics.EventsDeduplicated.Inc()
			return model.PodEvent{}, false
		}
		// An untracked pod is always announced as created first, whatever the
		// raw change type said; a deleted pod must not reappear as modified.
		kind := model.EventKindModified
		if !tracked {
			kind = model.EventKindCreated
		}
		return c.accept(kind, pod), true
	case apiwatch.Deleted:
		if !tracked {
			return model.PodEvent{}, false
		}
		delete(c.known, pod.Name)
		return model.NewPodEvent(model.EventKindDeleted, pod.Namespace, pod.Name, pod.ResourceVersion), true
	}
	return model.PodEvent{}, false
}

func (c *Classifier) accept(kind model.EventKind, pod *corev1.Pod) model.PodEvent {
	c.known[pod.Name] = knownPod{
		resourceVersion: pod.ResourceVersion,
		namespace:       pod.Namespace,
	}
	return model.NewPodEvent(kind, pod.Namespace, pod.Name, pod.ResourceVersion)
}

// Run consumes session items until the channel closes or the context is
// cancelled, handing each classified event to the sink.
func Run(ctx context.Context, items <-chan watch.Item, c *Classifier, sink func(model.PodEvent)) {
	logger := log.FromContext(ctx).WithName("classifier")

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			for _, event := range c.Apply(item) {
				metrics.EventsTotal.WithLabelValues(string(event.Kind)).Inc()
				logger.V(1).Info("pod event",
					"kind", event.Kind,
					"pod", event.PodName,
					"namespace", event.Namespace,
					"resourceVersion", event.ResourceVersion,
				)
				sink(event)
			}
		}
	}
}
