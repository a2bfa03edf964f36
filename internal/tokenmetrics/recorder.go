package tokenmetrics

import (
	"strings"
)

// Recorder receives token-economy events from domain services.
type Recorder interface {
	RecordLedger(kind, source, outcome string, amount int64)
	RecordExport(operation, outcome string)
	RecordWebhook(provider, outcome string)
}

type recorder struct {
	metrics *metrics
}

// NopRecorder discards every event. Services fall back to it when no
// registry is wired, as in the grant command.
type NopRecorder struct{}

func (NopRecorder) RecordLedger(string, string, string, int64) {}
func (NopRecorder) RecordExport(string, string)                {}
func (NopRecorder) RecordWebhook(string, string)               {}

// OrNop returns rec, or NopRecorder when rec is nil.
func OrNop(rec Recorder) Recorder {
	if rec == nil {
		return NopRecorder{}
	}
	return rec
}

func (r *recorder) RecordLedger(kind, source, outcome string, amount int64) {
	if r == nil || r.metrics == nil {
		return
	}
	kind, source = normalizeLabel(kind), normalizeLabel(source)
	r.metrics.ledgerOperations.WithLabelValues(kind, source, normalizeLabel(outcome)).Inc()
	if outcome == OutcomeApplied && amount > 0 {
		r.metrics.ledgerTokens.WithLabelValues(kind, source).Add(float64(amount))
	}
}

func (r *recorder) RecordExport(operation, outcome string) {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.exports.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

func (r *recorder) RecordWebhook(provider, outcome string) {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.webhookEvents.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
