// Package metrics exposes the proxy's Prometheus collectors. Everything is
// registered on the default registry and served via /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Launches counts launch attempts by result: ok, pull_failed,
	// launch_failed, unhealthy, runtime_error.
	Launches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lazygate_launches_total",
		Help: "Container launch attempts by result.",
	}, []string{"result"})

	// ProxiedRequests counts forwarded requests by response status code.
	ProxiedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lazygate_proxied_requests_total",
		Help: "Requests forwarded to backends by status code.",
	}, []string{"code"})

	// ReapedContainers counts containers stopped and removed for idleness.
	ReapedContainers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lazygate_reaped_containers_total",
		Help: "Containers reclaimed by the idle reaper.",
	})

	// ReapedImages counts remote-origin images removed for idleness.
	ReapedImages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lazygate_reaped_images_total",
		Help: "Images reclaimed by the idle reaper.",
	})

	// RunningTargets tracks how many targets currently have a running
	// container. Refreshed on every reaper sweep.
	RunningTargets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lazygate_running_targets",
		Help: "Targets with a running container.",
	})
)
