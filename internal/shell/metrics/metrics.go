// Package metrics exposes Prometheus collectors for deploys, builds, port
// allocation, log delivery and the HTTP surface.
//
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "launchpad"

var (
	histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
	buildBuckets     = []float64{1, 5, 10, 30, 60, 120, 300, 600}
)

// Recorder holds the orchestrator's collectors.
type Recorder struct {
	deploysTotal   *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec
	buildLines     prometheus.Counter
	portWarnings   prometheus.Counter
	portsIssued    prometheus.Counter
	sinkDropped    prometheus.Counter
	inFlight       prometheus.Gauge
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	reconcileRuns  *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors with reg.
// Collectors already registered by an earlier Recorder are reused.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		deploysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "deploys_total",
			Help:      "Count of build-and-deploy runs by outcome and failing stage",
		}, []string{"outcome", "stage"}),
		deployDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "deploy_duration_seconds",
			Help:      "Wall time of build-and-deploy runs",
			Buckets:   buildBuckets,
		}, []string{"outcome"}),
		buildLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "output_lines_total",
			Help:      "Build output lines forwarded to the log sink",
		}),
		portWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ports",
			Name:      "reconcile_failures_total",
			Help:      "Port allocations issued without runtime reconciliation",
		}),
		portsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ports",
			Name:      "issued_total",
			Help:      "Host ports issued by the allocator",
		}),
		sinkDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "logsink",
			Name:      "dropped_events_total",
			Help:      "Build log events dropped because the sink buffer was full",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "deploys_in_flight",
			Help:      "Deploys currently running",
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "runs_total",
			Help:      "Reconciliation passes by result",
		}, []string{"result"}),
	}

	if reg == nil {
		return r
	}

	r.deploysTotal = register(reg, r.deploysTotal)
	r.deployDuration = register(reg, r.deployDuration)
	r.buildLines = register(reg, r.buildLines)
	r.portWarnings = register(reg, r.portWarnings)
	r.portsIssued = register(reg, r.portsIssued)
	r.sinkDropped = register(reg, r.sinkDropped)
	r.inFlight = register(reg, r.inFlight)
	r.requestTotal = register(reg, r.requestTotal)
	r.requestLatency = register(reg, r.requestLatency)
	r.reconcileRuns = register(reg, r.reconcileRuns)

	return r
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// DeployFinished records the outcome of one build-and-deploy run.
// stage is empty on success.
func (r *Recorder) DeployFinished(stage string, err error, took time.Duration) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.deploysTotal.WithLabelValues(outcome, stage).Inc()
	r.deployDuration.WithLabelValues(outcome).Observe(took.Seconds())
}

// DeployStarted tracks in-flight deploys. Call the returned func when done.
func (r *Recorder) DeployStarted() func() {
	if r == nil {
		return func() {}
	}
	r.inFlight.Inc()
	return r.inFlight.Dec
}

// BuildLine counts one forwarded build output line.
func (r *Recorder) BuildLine() {
	if r == nil {
		return
	}
	r.buildLines.Inc()
}

// PortIssued counts an issued port; reconciled is false when the runtime
// could not be queried.
func (r *Recorder) PortIssued(reconciled bool) {
	if r == nil {
		return
	}
	r.portsIssued.Inc()
	if !reconciled {
		r.portWarnings.Inc()
	}
}

// SinkDropped counts a dropped log event.
func (r *Recorder) SinkDropped() {
	if r == nil {
		return
	}
	r.sinkDropped.Inc()
}

// Reconciled counts a reconciler pass.
func (r *Recorder) Reconciled(err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.reconcileRuns.WithLabelValues(result).Inc()
}

// HTTPRequest records one served request.
func (r *Recorder) HTTPRequest(method, route string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.requestTotal.With(labels).Inc()
	r.requestLatency.With(labels).Observe(duration.Seconds())
}
