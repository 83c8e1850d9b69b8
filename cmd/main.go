/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/podwatch-sh/agent/internal/buildinfo"
	"github.com/podwatch-sh/agent/internal/classify"
	"github.com/podwatch-sh/agent/internal/filter"
	"github.com/podwatch-sh/agent/internal/health"
	"github.com/podwatch-sh/agent/internal/heartbeat"
	"github.com/podwatch-sh/agent/internal/hooks"
	"github.com/podwatch-sh/agent/internal/hooks/pubsub"
	"github.com/podwatch-sh/agent/internal/hooks/slack"
	"github.com/podwatch-sh/agent/internal/model"
	"github.com/podwatch-sh/agent/internal/watch"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

var setupLog = ctrl.Log.WithName("setup")

// config holds all command-line configuration
type config struct {
	slackWebhookURL   string
	namespace         string
	kubeconfig        string
	clusterID         string
	pubsubTopic       string
	healthAddr        string
	healthWindow      time.Duration
	idleTimeout       time.Duration
	queueSize         int
	maxAttempts       int
	drainWindow       time.Duration
	heartbeatInterval time.Duration
	excludeNamespaces string
	requireLabels     string
	excludeLabels     string
}

func main() {
	cfg := parseFlags()
	agentVersion := buildinfo.Version()

	if cfg.slackWebhookURL == "" {
		setupLog.Error(nil, "SLACK_WEBHOOK_URL is required (or --slack-webhook-url)")
		os.Exit(1)
	}

	client, err := newKubeClient(cfg.kubeconfig)
	if err != nil {
		setupLog.Error(err, "unable to create Kubernetes client")
		os.Exit(1)
	}

	publishers, heartbeatPublishers := setupPublishers(cfg, agentVersion)

	sessionCfg := watch.DefaultConfig(cfg.namespace)
	sessionCfg.IdleTimeout = cfg.idleTimeout
	session := watch.New(client, sessionCfg)

	dispatcherCfg := hooks.DefaultDispatcherConfig()
	dispatcherCfg.QueueSize = cfg.queueSize
	dispatcherCfg.MaxAttempts = cfg.maxAttempts
	dispatcherCfg.DrainWindow = cfg.drainWindow
	dispatcher := hooks.NewDispatcher(dispatcherCfg, publishers)

	classifier := classify.New(filter.New(filterConfig(cfg)))
	healthServer := health.NewServer(cfg.healthAddr, session, cfg.healthWindow)

	ctx := ctrl.SetupSignalHandler()

	// The dispatcher outlives the watch context so it can drain the queue
	// after the watch side has stopped admitting events.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	go dispatcher.Loop(dispatchCtx)

	go func() {
		if err := healthServer.Start(ctx); err != nil {
			setupLog.Error(err, "health server failed")
		}
	}()

	if len(heartbeatPublishers) > 0 {
		heartbeatCfg := heartbeat.DefaultConfig(cfg.namespace)
		heartbeatCfg.Interval = cfg.heartbeatInterval
		heartbeatCfg.ClusterID = cfg.clusterID
		heartbeatCfg.AgentVersion = agentVersion
		go heartbeat.NewSender(heartbeatCfg, client, heartbeatPublishers).Start(ctx)
	}

	pipelineLog := ctrl.Log.WithName("pipeline")
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		classify.Run(ctx, session.Items(), classifier, func(event model.PodEvent) {
			if !dispatcher.Enqueue(model.NewNotification(event)) {
				pipelineLog.Error(nil, "notification queue full, dropping event",
					"pod", event.PodName,
					"kind", event.Kind,
				)
			}
		})
	}()

	setupLog.Info("starting pod monitor",
		"namespace", cfg.namespace,
		"version", agentVersion,
	)

	runErr := session.Run(ctx)
	<-pipelineDone

	stopDispatch()
	<-dispatcher.Done()

	if runErr != nil && ctx.Err() == nil {
		setupLog.Error(runErr, "watch session failed")
		os.Exit(1)
	}
	setupLog.Info("shutdown complete")
}

func parseFlags() config {
	var cfg config

	flag.StringVar(&cfg.slackWebhookURL, "slack-webhook-url", os.Getenv("SLACK_WEBHOOK_URL"),
		"The Slack-compatible webhook URL notifications are sent to (env SLACK_WEBHOOK_URL)")
	flag.StringVar(&cfg.namespace, "namespace", envOr("NAMESPACE", "default"),
		"The namespace whose pods are monitored (env NAMESPACE)")
	flag.StringVar(&cfg.kubeconfig, "kubeconfig", clientcmd.RecommendedHomeFile,
		"Path to a kubeconfig file, used when not running in-cluster")
	flag.StringVar(&cfg.clusterID, "cluster-id", os.Getenv("CLUSTER_ID"),
		"Optional cluster identifier attached to Pub/Sub payloads")
	flag.StringVar(&cfg.pubsubTopic, "pubsub-topic", os.Getenv("PUBSUB_TOPIC"),
		"Optional Google Cloud Pub/Sub topic path (projects/<project>/topics/<topic>) to mirror notifications to")
	flag.StringVar(&cfg.healthAddr, "health-bind-address", ":8080",
		"The address the /health and /metrics endpoints bind to")
	flag.DurationVar(&cfg.healthWindow, "health-window", 45*time.Second,
		"How recently the watch cursor must have advanced for /health to report healthy")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", 30*time.Second,
		"Reconnect the watch if no event or heartbeat arrives within this window")
	flag.IntVar(&cfg.queueSize, "queue-size", 100,
		"Capacity of the notification dispatch queue")
	flag.IntVar(&cfg.maxAttempts, "max-attempts", 3,
		"Send attempts per notification before it is dropped")
	flag.DurationVar(&cfg.drainWindow, "drain-window", 5*time.Second,
		"How long queued notifications may keep flowing during shutdown")
	flag.DurationVar(&cfg.heartbeatInterval, "heartbeat-interval", 5*time.Minute,
		"Interval between inventory heartbeats when a heartbeat-capable sink is configured")
	flag.StringVar(&cfg.excludeNamespaces, "exclude-namespaces", strings.Join(filter.DefaultExcludedNamespaces(), ","),
		"Comma-separated list of namespace patterns whose pods are ignored")
	flag.StringVar(&cfg.requireLabels, "require-labels", "",
		"Comma-separated list of label keys a pod must carry to be reported")
	flag.StringVar(&cfg.excludeLabels, "exclude-labels", "",
		"Comma-separated list of label key=value pairs that suppress a pod")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	return cfg
}

// newKubeClient prefers the in-cluster service account and falls back to the
// local kubeconfig for development.
func newKubeClient(kubeconfig string) (kubernetes.Interface, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("no in-cluster config and no usable kubeconfig at %s: %w", kubeconfig, err)
		}
		setupLog.Info("using kubeconfig", "path", kubeconfig)
	} else {
		setupLog.Info("using in-cluster Kubernetes configuration")
	}

	restCfg.QPS = 20
	restCfg.Burst = 50

	return kubernetes.NewForConfig(restCfg)
}

func setupPublishers(cfg config, agentVersion string) ([]hooks.NotificationPublisher, []hooks.HeartbeatPublisher) {
	publishers := []hooks.NotificationPublisher{slack.NewPublisher(cfg.slackWebhookURL)}
	setupLog.Info("webhook publisher enabled")

	var heartbeatPublishers []hooks.HeartbeatPublisher
	if cfg.pubsubTopic != "" {
		pubsubPublisher, err := pubsub.NewPublisher(context.Background(), cfg.pubsubTopic, cfg.clusterID, agentVersion)
		if err != nil {
			setupLog.Error(err, "unable to create Pub/Sub publisher",
				"hint", "Ensure valid credentials via Workload Identity, GOOGLE_APPLICATION_CREDENTIALS, or gcloud auth")
			os.Exit(1)
		}
		publishers = append(publishers, pubsubPublisher)
		heartbeatPublishers = append(heartbeatPublishers, pubsubPublisher)
		setupLog.Info("Pub/Sub publisher enabled",
			"topic", cfg.pubsubTopic,
			"clusterID", cfg.clusterID)
	}

	return publishers, heartbeatPublishers
}

func filterConfig(cfg config) filter.PodFilterConfig {
	fc := filter.DefaultConfig()
	fc.ExcludeNamespaces = splitAndTrim(cfg.excludeNamespaces)
	fc.RequireLabels = splitAndTrim(cfg.requireLabels)
	fc.ExcludeLabels = splitAndTrim(cfg.excludeLabels)
	return fc
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitAndTrim splits a comma-separated string and trims whitespace from each element
func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
