package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	jobReasonDeadlineExceeded = "deadline_exceeded"
	jobReasonCanceled         = "canceled"
	jobReasonFailed           = "failed"
)

type jobMetrics struct {
	runs     *prometheus.CounterVec
	errors   *prometheus.CounterVec
	timeouts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	removed  *prometheus.CounterVec
}

func newJobMetrics(reg prometheus.Registerer) *jobMetrics {
	if reg == nil {
		return nil
	}
	m := &jobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanledger_scheduler_job_runs_total",
			Help: "Housekeeping job runs.",
		}, []string{"job"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanledger_scheduler_job_errors_total",
			Help: "Housekeeping job failures by reason.",
		}, []string{"job", "reason"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanledger_scheduler_job_timeouts_total",
			Help: "Housekeeping jobs that hit their deadline.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanledger_scheduler_job_duration_seconds",
			Help:    "Housekeeping job duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanledger_scheduler_removed_total",
			Help: "Records and files removed by housekeeping.",
		}, []string{"job"}),
	}
	for _, c := range []prometheus.Collector{m.runs, m.errors, m.timeouts, m.duration, m.removed} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil
			}
		}
	}
	return m
}

func (m *jobMetrics) incRun(job string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(job).Inc()
}

func (m *jobMetrics) observeDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *jobMetrics) incTimeout(job string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(job).Inc()
}

func (m *jobMetrics) incError(job string, err error) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(job, errorReason(err)).Inc()
}

func (m *jobMetrics) addRemoved(job string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.removed.WithLabelValues(job).Add(float64(n))
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return jobReasonDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return jobReasonCanceled
	default:
		return jobReasonFailed
	}
}
