package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "techstore_orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techstore_orders_failed_total",
		Help: "Total number of rejected order submissions",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "techstore_orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrderStatusChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techstore_order_status_changes_total",
		Help: "Order lifecycle transitions by target status",
	}, []string{"status"})

	OrderValueTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "techstore_order_value_total",
		Help: "Sum of order totals in currency units",
	})

	StockReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "techstore_stock_reserve_latency_seconds",
		Help:    "Latency of stock reservation for a whole order",
		Buckets: prometheus.DefBuckets,
	})

	StockReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techstore_stock_reservations_failed_total",
		Help: "Total number of failed stock reservations",
	}, []string{"reason"})

	CartMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techstore_cart_mutations_total",
		Help: "Cart ledger mutations by operation",
	}, []string{"op"})

	AuthAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techstore_auth_attempts_total",
		Help: "Register and login attempts by result",
	}, []string{"op", "result"})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techstore_rate_limited_requests_total",
		Help: "Requests rejected by a rate limiter",
	}, []string{"limiter"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techstore_events_published_total",
		Help: "Order events written to Kafka",
	}, []string{"type", "result"})

	EventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techstore_events_consumed_total",
		Help: "Order events handled by background workers",
	}, []string{"type", "result"})

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
