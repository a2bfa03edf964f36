package tokenmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	ledgerOperations  *prometheus.CounterVec
	ledgerTokens      *prometheus.CounterVec
	exports           *prometheus.CounterVec
	webhookEvents     *prometheus.CounterVec
	accountsTotal     prometheus.Gauge
	outstandingTokens prometheus.Gauge
	memoryBytes       prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer, instanceID, version string) *metrics {
	constLabels := prometheus.Labels{
		"instance_id": normalizeLabel(instanceID),
		"version":     normalizeLabel(version),
	}

	m := &metrics{
		ledgerOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "scanledger_ledger_operations_total",
			Help:        "Ledger mutations by kind, source and outcome.",
			ConstLabels: constLabels,
		}, []string{"kind", "source", "outcome"}),
		ledgerTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "scanledger_ledger_tokens_total",
			Help:        "Tokens moved by applied ledger mutations.",
			ConstLabels: constLabels,
		}, []string{"kind", "source"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "scanledger_exports_total",
			Help:        "Export, resend and download requests by outcome.",
			ConstLabels: constLabels,
		}, []string{"operation", "outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "scanledger_webhook_events_total",
			Help:        "Payment webhook deliveries by provider and outcome.",
			ConstLabels: constLabels,
		}, []string{"provider", "outcome"}),
		accountsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "scanledger_accounts_total",
			Help:        "Registered accounts.",
			ConstLabels: constLabels,
		}),
		outstandingTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "scanledger_outstanding_tokens",
			Help:        "Unspent tokens across all accounts.",
			ConstLabels: constLabels,
		}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "scanledger_memory_sys_bytes",
			Help:        "Bytes of memory obtained from the OS.",
			ConstLabels: constLabels,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ledgerOperations,
			m.ledgerTokens,
			m.exports,
			m.webhookEvents,
			m.accountsTotal,
			m.outstandingTokens,
			m.memoryBytes,
		)
	}
	return m
}
