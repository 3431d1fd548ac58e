// Package metrics exposes Prometheus collectors for the decision support
// checks and the HTTP surface. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ehr/cdsengine/internal/platform/db"
)

// Check names used as the "check" label.
const (
	CheckInteractions = "interactions"
	CheckAllergies    = "allergies"
	CheckDuplicates   = "duplicates"
	CheckLabFlag      = "lab_flag"
	CheckLabDelta     = "lab_delta"
	CheckSafety       = "investigation_safety"
)

// Outcome label values.
const (
	OutcomeClear       = "clear"
	OutcomeAdvisory    = "advisory"
	OutcomeUnavailable = "unavailable"
	OutcomeInvalid     = "invalid"
)

// Recorder owns a registry and the collectors registered on it.
type Recorder struct {
	registry *prometheus.Registry

	checksTotal       *prometheus.CounterVec
	advisoriesTotal   *prometheus.CounterVec
	portDuration      *prometheus.HistogramVec
	labFlagsTotal     *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates a Recorder with its own registry, including Go runtime and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cds_checks_total",
				Help: "Total number of decision support checks by outcome",
			},
			[]string{"check", "outcome"},
		),
		advisoriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cds_advisories_total",
				Help: "Total number of advisories produced by check and severity",
			},
			[]string{"check", "severity"},
		),
		portDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cds_port_duration_seconds",
				Help:    "Duration of reference data lookups in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"port"},
		),
		labFlagsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lab_flags_total",
				Help: "Total number of automated lab flags by flag",
			},
			[]string{"flag"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.checksTotal,
		r.advisoriesTotal,
		r.portDuration,
		r.labFlagsTotal,
		r.httpRequestsTotal,
		r.httpDuration,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Check counts one completed check.
func (r *Recorder) Check(check, outcome string) {
	if r == nil {
		return
	}
	r.checksTotal.WithLabelValues(check, outcome).Inc()
}

// Advisory counts one advisory emitted by check.
func (r *Recorder) Advisory(check, severity string) {
	if r == nil {
		return
	}
	r.advisoriesTotal.WithLabelValues(check, severity).Inc()
}

// ObservePort records how long a reference data lookup took.
func (r *Recorder) ObservePort(port string, started time.Time) {
	if r == nil {
		return
	}
	r.portDuration.WithLabelValues(port).Observe(time.Since(started).Seconds())
}

// LabFlag counts one automated lab flag.
func (r *Recorder) LabFlag(flag string) {
	if r == nil {
		return
	}
	r.labFlagsTotal.WithLabelValues(flag).Inc()
}

// HTTPRequest records a served request.
func (r *Recorder) HTTPRequest(method, route, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Outcome picks the outcome label for a finished check. Errors other than
// data unavailability are caller input errors.
func Outcome(advisories int, err error) string {
	switch {
	case db.IsUnavailable(err):
		return OutcomeUnavailable
	case err != nil:
		return OutcomeInvalid
	case advisories > 0:
		return OutcomeAdvisory
	default:
		return OutcomeClear
	}
}
