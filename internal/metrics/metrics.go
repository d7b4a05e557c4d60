package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rollout",
			Subsystem: "update",
			Name:      "downloads_total",
			Help:      "Number of package downloads by result.",
		}, []string{"result"},
	)
	downloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rollout",
			Subsystem: "update",
			Name:      "download_bytes_total",
			Help:      "Total bytes of verified downloaded artifacts.",
		},
	)
	installs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rollout",
			Subsystem: "update",
			Name:      "installs_total",
			Help:      "Number of package installs by result.",
		}, []string{"result"},
	)
	activations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rollout",
			Subsystem: "update",
			Name:      "activations_total",
			Help:      "Number of version activations by result.",
		}, []string{"result"},
	)
	cleanups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rollout",
			Subsystem: "update",
			Name:      "cleanups_total",
			Help:      "Number of retention cleanup passes by result.",
		}, []string{"result"},
	)
	rollbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rollout",
			Subsystem: "update",
			Name:      "rollbacks_total",
			Help:      "Number of automatic or requested rollbacks.",
		},
	)
	healthProbeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rollout",
			Subsystem: "update",
			Name:      "health_probe_failures_total",
			Help:      "Number of failed post-activation health probes.",
		},
	)
	activationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rollout",
			Subsystem: "update",
			Name:      "activation_duration_seconds",
			Help:      "Wall time of activation attempts including health gate.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	currentVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rollout",
			Subsystem: "update",
			Name:      "current_version",
			Help:      "Active version (1 for the active version label, 0 otherwise).",
		}, []string{"version"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		downloads, downloadBytes, installs, activations, cleanups,
		rollbacks, healthProbeFailures, activationDuration, currentVersion,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route and server.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func IncDownload(ok bool) {
	if regOK.Load() {
		downloads.WithLabelValues(result(ok)).Inc()
	}
}
func AddDownloadBytes(n int64) {
	if regOK.Load() && n > 0 {
		downloadBytes.Add(float64(n))
	}
}
func IncInstall(ok bool) {
	if regOK.Load() {
		installs.WithLabelValues(result(ok)).Inc()
	}
}
func IncActivation(ok bool) {
	if regOK.Load() {
		activations.WithLabelValues(result(ok)).Inc()
	}
}
func IncCleanup(ok bool) {
	if regOK.Load() {
		cleanups.WithLabelValues(result(ok)).Inc()
	}
}
func IncRollback() {
	if regOK.Load() {
		rollbacks.Inc()
	}
}
func IncHealthProbeFailure() {
	if regOK.Load() {
		healthProbeFailures.Inc()
	}
}
func ObserveActivationDuration(seconds float64) {
	if regOK.Load() {
		activationDuration.Observe(seconds)
	}
}

// SetCurrentVersion marks version as the single active one.
func SetCurrentVersion(version string) {
	if !regOK.Load() || version == "" {
		return
	}
	currentVersion.Reset()
	currentVersion.WithLabelValues(version).Set(1)
}
