package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	executeDuration *prom.HistogramVec
	executeResults  *prom.CounterVec
	queries         *prom.CounterVec
	dispatched      *prom.CounterVec
	transactions    *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the host metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		executeDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "handoff",
			Name:      "execute_duration_seconds",
			Help:      "Duration of execute handlers by service kind and action",
			Buckets:   prom.DefBuckets,
		}, []string{"kind", "action"}),
		executeResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "handoff",
			Name:      "execute_results_total",
			Help:      "Execute results by service kind, action and outcome",
		}, []string{"kind", "action", "result"}),
		queries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "handoff",
			Name:      "queries_total",
			Help:      "Queries by service kind and outcome",
		}, []string{"kind", "result"}),
		dispatched: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "handoff",
			Name:      "messages_dispatched_total",
			Help:      "Service-to-service messages delivered, by receiving kind",
		}, []string{"kind"}),
		transactions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "handoff",
			Name:      "transactions_total",
			Help:      "Host transactions by outcome",
		}, []string{"result"}),
	}
	reg.MustRegister(pr.executeDuration, pr.executeResults, pr.queries, pr.dispatched, pr.transactions)
	return pr
}

func (p *PrometheusRecorder) ObserveExecute(kind, action string, d time.Duration, result ResultLabel) {
	p.executeDuration.WithLabelValues(kind, action).Observe(d.Seconds())
	p.executeResults.WithLabelValues(kind, action, string(result)).Inc()
}

func (p *PrometheusRecorder) IncQuery(kind string, result ResultLabel) {
	p.queries.WithLabelValues(kind, string(result)).Inc()
}

func (p *PrometheusRecorder) IncMessageDispatched(kind string) {
	p.dispatched.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) IncTransaction(result ResultLabel) {
	p.transactions.WithLabelValues(string(result)).Inc()
}

// HTTPHandler returns an http.Handler that serves Prometheus metrics for the provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
