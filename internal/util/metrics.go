package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_delivered_total",
		Help: "Total number of orders delivered",
	})

	OrdersCanceledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_canceled_total",
		Help: "Total number of orders canceled",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of rejected order submissions",
	}, []string{"reason"})

	LoyaltyRedemptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_redemptions_total",
		Help: "Total number of orders with loyalty-redeemed units",
	})

	LateRefundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "late_refunds_total",
		Help: "Total number of late-delivery compensations applied",
	})

	LateRefundAmountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "late_refund_amount_total",
		Help: "Total money credited back for late deliveries",
	})

	SweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sweep_duration_seconds",
		Help:    "Duration of late-delivery reconciliation passes",
		Buckets: prometheus.DefBuckets,
	})

	SweepFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweep_failures_total",
		Help: "Total number of per-order failures during sweep passes",
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
