package adapters

import (
	"maps"
	"runtime"
)

// MetricsProvider supplies device/platform metrics such as _os and
// _os_version. Returned maps are owned by the caller.
type MetricsProvider interface {
	Metrics() map[string]string
}

// StaticMetricsProvider returns a fixed set of metrics.
type StaticMetricsProvider map[string]string

func (s StaticMetricsProvider) Metrics() map[string]string {
	return maps.Clone(map[string]string(s))
}

// OSMetricsProvider reports the running operating system. Values set in
// Overrides win over detected ones.
type OSMetricsProvider struct {
	Overrides map[string]string
}

var _ MetricsProvider = (*OSMetricsProvider)(nil)

// NewOSMetricsProvider creates a provider with the given overrides.
func NewOSMetricsProvider(overrides map[string]string) *OSMetricsProvider {
	return &OSMetricsProvider{Overrides: overrides}
}

func (o *OSMetricsProvider) Metrics() map[string]string {
	m := map[string]string{
		"_os":         osName(),
		"_os_version": osRelease(),
	}
	if m["_os_version"] == "" {
		delete(m, "_os_version")
	}
	for k, v := range o.Overrides {
		m[k] = v
	}
	return m
}

func osName() string {
	switch runtime.GOOS {
	case "linux":
		return "Linux"
	case "darwin":
		return "Darwin"
	case "windows":
		return "Windows_NT"
	default:
		return runtime.GOOS
	}
}
