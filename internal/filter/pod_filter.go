package filter

import (
	"path/filepath"
	"strings"
)

// PodFilterConfig holds the configuration for pod filtering.
type PodFilterConfig struct {
	// Namespace filtering
	ExcludeNamespaces []string // Glob patterns for namespaces to suppress (e.g., "kube-*")

	// Label filtering
	RequireLabels        []string // Label keys that must be present
	ExcludeLabels        []string // Label key=value pairs that cause exclusion
	ExcludeLabelPrefixes []string // Label key prefixes that cause exclusion (e.g., "k8s-app")
}

// DefaultConfig returns the filter configuration used when nothing is
// overridden: system namespaces and system-labelled pods are suppressed.
func DefaultConfig() PodFilterConfig {
	return PodFilterConfig{
		ExcludeNamespaces:    DefaultExcludedNamespaces(),
		ExcludeLabelPrefixes: []string{"k8s-app"},
	}
}

// PodFilter decides which pods produce notifications.
type PodFilter struct {
	config PodFilterConfig
}

// New creates a new pod filter.
func New(config PodFilterConfig) *PodFilter {
	return &PodFilter{config: config}
}

// Allow returns true if a pod with the given namespace and labels should be
// forwarded to the notification pipeline.
func (f *PodFilter) Allow(namespace string, labels map[string]string) bool {
	for _, pattern := range f.config.ExcludeNamespaces {
		if matchGlob(pattern, namespace) {
			return false
		}
	}

	for _, requiredKey := range f.config.RequireLabels {
		if _, exists := labels[requiredKey]; !exists {
			return false
		}
	}

	for _, exclusion := range f.config.ExcludeLabels {
		key, value := parseKeyValue(exclusion)
		if labelValue, exists := labels[key]; exists {
			if value == "" || labelValue == value {
				return false
			}
		}
	}

	for _, prefix := range f.config.ExcludeLabelPrefixes {
		for key := range labels {
			if strings.HasPrefix(key, prefix) {
				return false
			}
		}
	}

	return true
}

// matchGlob performs a simple glob match (supports * wildcard)
func matchGlob(pattern, s string) bool {
	matched, err := filepath.Match(pattern, s)
	if err != nil {
		return false
	}
	return matched
}

// parseKeyValue parses a "key=value" or "key" string
func parseKeyValue(s string) (key, value string) {
	parts := strings.SplitN(s, "=", 2)
	key = parts[0]
	if len(parts) > 1 {
		value = parts[1]
	}
	return
}

// DefaultExcludedNamespaces returns the default list of namespaces to exclude
func DefaultExcludedNamespaces() []string {
	return []string{
		"kube-system",
		"kube-public",
		"kube-node-lease",
	}
}
