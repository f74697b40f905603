// Package metrics exposes Prometheus instruments for pipeline activity. A nil
// *Recorder is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "recast"

// Recorder holds pipeline instruments.
type Recorder struct {
	stageDuration   *prometheus.HistogramVec
	stageOutcomes   *prometheus.CounterVec
	targetOutcomes  *prometheus.CounterVec
	quotaRejections *prometheus.CounterVec
	autoRetries     *prometheus.CounterVec
	poolInFlight    *prometheus.GaugeVec
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
}

// New registers the pipeline metrics on the provided registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		return &Recorder{}
	}
	r := &Recorder{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stage executions in seconds.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"stage", "outcome"}),
		stageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_outcomes_total",
			Help:      "Pipeline stage executions by outcome and error kind.",
		}, []string{"stage", "outcome", "kind"}),
		targetOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "target_outcomes_total",
			Help:      "Publication target uploads by platform and outcome.",
		}, []string{"platform", "outcome"}),
		quotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Admissions rejected by tenant quota.",
		}, []string{"tenant", "resource"}),
		autoRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_retries_total",
			Help:      "Automatic resumes scheduled after transient failures.",
		}, []string{"stage"}),
		poolInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_in_flight",
			Help:      "Tasks currently executing per worker pool.",
		}, []string{"pool"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests partitioned by status code, method and route.",
		}, []string{"code", "method", "path"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency partitioned by status code, method and route.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5},
		}, []string{"code", "method", "path"}),
	}
	reg.MustRegister(r.stageDuration, r.stageOutcomes, r.targetOutcomes, r.quotaRejections, r.autoRetries, r.poolInFlight,
		r.httpRequests, r.httpLatency)
	return r
}

// ObserveStage records one finished stage execution.
func (r *Recorder) ObserveStage(stage, outcome, kind string, d time.Duration) {
	if r == nil || r.stageDuration == nil {
		return
	}
	r.stageDuration.WithLabelValues(label(stage), label(outcome)).Observe(d.Seconds())
	r.stageOutcomes.WithLabelValues(label(stage), label(outcome), label(kind)).Inc()
}

// ObserveTarget records one finished upload.
func (r *Recorder) ObserveTarget(platform, outcome string) {
	if r == nil || r.targetOutcomes == nil {
		return
	}
	r.targetOutcomes.WithLabelValues(label(platform), label(outcome)).Inc()
}

// IncQuotaRejection counts a rejected admission.
func (r *Recorder) IncQuotaRejection(tenant, resource string) {
	if r == nil || r.quotaRejections == nil {
		return
	}
	r.quotaRejections.WithLabelValues(label(tenant), label(resource)).Inc()
}

// IncAutoRetry counts a scheduled automatic resume.
func (r *Recorder) IncAutoRetry(stage string) {
	if r == nil || r.autoRetries == nil {
		return
	}
	r.autoRetries.WithLabelValues(label(stage)).Inc()
}

// PoolAdd adjusts the in-flight gauge for pool.
func (r *Recorder) PoolAdd(pool string, delta float64) {
	if r == nil || r.poolInFlight == nil {
		return
	}
	r.poolInFlight.WithLabelValues(label(pool)).Add(delta)
}

// ObserveHTTP records one API request. path is the route pattern, not the
// raw URL, to keep label cardinality bounded.
func (r *Recorder) ObserveHTTP(code int, method, path string, d time.Duration) {
	if r == nil || r.httpRequests == nil {
		return
	}
	status := strconv.Itoa(code)
	r.httpRequests.WithLabelValues(status, method, label(path)).Inc()
	r.httpLatency.WithLabelValues(status, method, label(path)).Observe(d.Seconds())
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
