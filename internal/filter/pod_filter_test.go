package filter

import "testing"

func TestPodFilterAllow(t *testing.T) {
	tests := []struct {
		name      string
		config    PodFilterConfig
		namespace string
		labels    map[string]string
		expected  bool
	}{
		{
			name:      "plain pod in default namespace",
			config:    DefaultConfig(),
			namespace: "default",
			labels:    map[string]string{"app": "web"},
			expected:  true,
		},
		{
			name:      "kube-system pod excluded",
			config:    DefaultConfig(),
			namespace: "kube-system",
			labels:    nil,
			expected:  false,
		},
		{
			name:      "system label prefix excluded",
			config:    DefaultConfig(),
			namespace: "default",
			labels:    map[string]string{"k8s-app": "kube-dns"},
			expected:  false,
		},
		{
			name:      "system label prefix with suffix excluded",
			config:    DefaultConfig(),
			namespace: "default",
			labels:    map[string]string{"k8s-app-component": "proxy"},
			expected:  false,
		},
		{
			name: "namespace glob exclusion",
			config: PodFilterConfig{
				ExcludeNamespaces: []string{"staging-*"},
			},
			namespace: "staging-eu",
			labels:    nil,
			expected:  false,
		},
		{
			name: "required label missing",
			config: PodFilterConfig{
				RequireLabels: []string{"app.kubernetes.io/managed-by"},
			},
			namespace: "default",
			labels:    map[string]string{"app": "web"},
			expected:  false,
		},
		{
			name: "required label present",
			config: PodFilterConfig{
				RequireLabels: []string{"app.kubernetes.io/managed-by"},
			},
			namespace: "default",
			labels:    map[string]string{"app.kubernetes.io/managed-by": "helm"},
			expected:  true,
		},
		{
			name: "exclusion label key=value match",
			config: PodFilterConfig{
				ExcludeLabels: []string{"monitor/ignore=true"},
			},
			namespace: "default",
			labels:    map[string]string{"monitor/ignore": "true"},
			expected:  false,
		},
		{
			name: "exclusion label value mismatch allowed",
			config: PodFilterConfig{
				ExcludeLabels: []string{"monitor/ignore=true"},
			},
			namespace: "default",
			labels:    map[string]string{"monitor/ignore": "false"},
			expected:  true,
		},
		{
			name: "bare exclusion key matches any value",
			config: PodFilterConfig{
				ExcludeLabels: []string{"monitor/ignore"},
			},
			namespace: "default",
			labels:    map[string]string{"monitor/ignore": "whatever"},
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.config)
			if got := f.Allow(tt.namespace, tt.labels); got != tt.expected {
				t.Errorf("Allow(%q, %v) = %v, expected %v", tt.namespace, tt.labels, got, tt.expected)
			}
		})
	}
}
