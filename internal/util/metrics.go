package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_completed_total",
		Help: "Total number of settled checkouts",
	})

	CheckoutsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_failed_total",
		Help: "Total number of failed checkouts",
	}, []string{"reason"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Latency of checkout settlement",
		Buckets: prometheus.DefBuckets,
	})

	UnitsSoldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_units_sold_total",
		Help: "Total number of inventory units sold",
	})

	DepositsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deposits_completed_total",
		Help: "Total number of deposits credited",
	})

	DepositsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deposits_expired_total",
		Help: "Total number of deposits expired by the sweep",
	})

	DepositWebhooksRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_webhooks_rejected_total",
		Help: "Total number of webhook deliveries that did not credit",
	}, []string{"reason"})

	SweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deposit_sweep_runs_total",
		Help: "Total number of deposit expiry sweep runs",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
