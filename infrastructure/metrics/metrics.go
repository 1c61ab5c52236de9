// Package metrics provides Prometheus metrics collection for the license
// engine's verification and trusted-time subsystems.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics exposed by the license engine.
// A nil *Collector is valid everywhere it is accepted — every method on it
// is a no-op when the receiver is nil, so callers never need to branch on
// whether metrics collection is enabled.
type Collector struct {
	// Validation metrics
	ValidationsTotal   *prometheus.CounterVec
	ValidationDuration *prometheus.HistogramVec

	// Signature metrics
	SignatureFailuresTotal *prometheus.CounterVec

	// Trusted-time oracle metrics
	ExternalProbeTotal    *prometheus.CounterVec
	ExternalProbeDuration *prometheus.HistogramVec
	ClockUntrustedTotal   prometheus.Counter

	// Sealed checkpoint store metrics
	CheckpointReselsTotal  *prometheus.CounterVec
	CheckpointCorruptTotal prometheus.Counter

	// Entitlement metrics
	EntitlementQueriesTotal *prometheus.CounterVec

	// Engine info
	EngineInfo *prometheus.GaugeVec
}

// New creates a new Collector with all collectors registered against the
// default Prometheus registry.
func New(engineName string) *Collector {
	return NewWithRegistry(engineName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Collector with a custom registry.
func NewWithRegistry(engineName string, registerer prometheus.Registerer) *Collector {
	c := &Collector{
		ValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "license_validations_total",
				Help: "Total number of validate() calls, partitioned by result",
			},
			[]string{"engine", "result"},
		),
		ValidationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "license_validation_duration_seconds",
				Help:    "validate() duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"engine"},
		),

		SignatureFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "license_signature_failures_total",
				Help: "Total number of RSA-PSS signature verification failures",
			},
			[]string{"engine"},
		),

		ExternalProbeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trusted_time_external_probe_total",
				Help: "Total number of external time source probes, partitioned by source and status",
			},
			[]string{"engine", "source", "status"},
		),
		ExternalProbeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trusted_time_external_probe_duration_seconds",
				Help:    "External time source probe duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"engine", "source"},
		),
		ClockUntrustedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trusted_time_clock_untrusted_total",
				Help: "Total number of times the trusted-time oracle reported an untrusted clock",
			},
		),

		CheckpointReselsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkpoint_reseals_total",
				Help: "Total number of sealed checkpoint store ratchet operations, partitioned by status",
			},
			[]string{"engine", "status"},
		),
		CheckpointCorruptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "checkpoint_corrupt_total",
				Help: "Total number of times the sealed checkpoint store failed to reach quorum",
			},
		),

		EntitlementQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlement_queries_total",
				Help: "Total number of entitlement queries, partitioned by feature type and result",
			},
			[]string{"engine", "feature_type", "granted"},
		),

		EngineInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "license_engine_info",
				Help: "License engine build information",
			},
			[]string{"engine", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			c.ValidationsTotal,
			c.ValidationDuration,
			c.SignatureFailuresTotal,
			c.ExternalProbeTotal,
			c.ExternalProbeDuration,
			c.ClockUntrustedTotal,
			c.CheckpointReselsTotal,
			c.CheckpointCorruptTotal,
			c.EntitlementQueriesTotal,
			c.EngineInfo,
		)
	}

	c.EngineInfo.WithLabelValues(engineName, "1.0.0").Set(1)

	return c
}

// RecordValidation records the outcome of a validate() call.
func (c *Collector) RecordValidation(engine string, ok bool, duration time.Duration) {
	if c == nil {
		return
	}
	result := "valid"
	if !ok {
		result = "invalid"
	}
	c.ValidationsTotal.WithLabelValues(engine, result).Inc()
	c.ValidationDuration.WithLabelValues(engine).Observe(duration.Seconds())
}

// RecordSignatureFailure records an RSA-PSS signature verification failure.
func (c *Collector) RecordSignatureFailure(engine string) {
	if c == nil {
		return
	}
	c.SignatureFailuresTotal.WithLabelValues(engine).Inc()
}

// RecordExternalProbe records the outcome of a trusted-time external probe.
func (c *Collector) RecordExternalProbe(engine, source string, ok bool, duration time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failure"
	}
	c.ExternalProbeTotal.WithLabelValues(engine, source, status).Inc()
	c.ExternalProbeDuration.WithLabelValues(engine, source).Observe(duration.Seconds())
}

// RecordClockUntrusted records an untrusted-clock determination by the oracle.
func (c *Collector) RecordClockUntrusted() {
	if c == nil {
		return
	}
	c.ClockUntrustedTotal.Inc()
}

// RecordCheckpointReseal records a sealed checkpoint store ratchet attempt.
func (c *Collector) RecordCheckpointReseal(engine string, ok bool) {
	if c == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failure"
	}
	c.CheckpointReselsTotal.WithLabelValues(engine, status).Inc()
}

// RecordCheckpointCorrupt records a sealed checkpoint store quorum failure.
func (c *Collector) RecordCheckpointCorrupt() {
	if c == nil {
		return
	}
	c.CheckpointCorruptTotal.Inc()
}

// RecordEntitlementQuery records an entitlement lookup.
func (c *Collector) RecordEntitlementQuery(engine, featureType string, granted bool) {
	if c == nil {
		return
	}
	c.EntitlementQueriesTotal.WithLabelValues(engine, featureType, boolLabel(granted)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !isProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func isProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("ENVIRONMENT")), "production")
}

// Global metrics instance

var (
	globalCollector *Collector
	globalMu        sync.Mutex
)

// Init initializes the global Collector instance.
func Init(engineName string) *Collector {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalCollector == nil {
		globalCollector = New(engineName)
	}
	return globalCollector
}

// Global returns the global Collector instance.
func Global() *Collector {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalCollector == nil {
		globalCollector = New("unknown")
	}
	return globalCollector
}
