// Package telemetry exposes the bot's Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TicksTotal counts decision ticks per direction.
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_ticks_total",
			Help: "Total decision ticks computed, by direction",
		},
		[]string{"direction"},
	)

	// ProfitableTicksTotal counts ticks whose net edge cleared the threshold.
	ProfitableTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_profitable_ticks_total",
			Help: "Ticks with net edge above the configured threshold",
		},
		[]string{"direction"},
	)

	// NetEdgeBps is the latest net edge per direction.
	NetEdgeBps = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arb_net_edge_bps",
			Help: "Latest net edge in basis points, by direction",
		},
		[]string{"direction"},
	)

	// TradesTotal counts executed trades by type and status.
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_trades_total",
			Help: "Executed trades, by trade type and status",
		},
		[]string{"type", "status"},
	)

	// CumulativeProfitUSD tracks realised profit in USD.
	CumulativeProfitUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arb_cumulative_profit_usd",
			Help: "Cumulative realised profit in USD",
		},
	)

	// LoopDuration observes one orchestrator iteration.
	LoopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arb_loop_duration_seconds",
			Help:    "Duration of one decision loop iteration",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	// PriceAgeSeconds is the age of the freshest quote per exchange.
	PriceAgeSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arb_price_age_seconds",
			Help: "Age of the most recent quote, by exchange",
		},
		[]string{"exchange"},
	)

	// WSReconnectsTotal counts Binance websocket reconnects.
	WSReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arb_ws_reconnects_total",
			Help: "Binance websocket reconnect attempts",
		},
	)

	// FXRate is the latest FX rate per pair.
	FXRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arb_fx_rate",
			Help: "Latest FX conversion rate, by pair",
		},
		[]string{"pair"},
	)

	// TickQueueDepth is the current depth of the persistence queue.
	TickQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arb_tick_queue_depth",
			Help: "Ticks waiting for the background writer",
		},
	)

	// TickQueueDroppedTotal counts ticks dropped on queue overflow.
	TickQueueDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arb_tick_queue_dropped_total",
			Help: "Ticks dropped because the persistence queue was full",
		},
	)

	// ConsecutiveErrors is the orchestrator's error streak.
	ConsecutiveErrors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arb_consecutive_errors",
			Help: "Consecutive decision loop errors",
		},
	)

	// HTTPRequestsTotal counts outbound REST requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_http_requests_total",
			Help: "Outbound HTTP requests, by host and method",
		},
		[]string{"host", "method"},
	)

	// HTTPErrorsTotal counts outbound REST failures.
	HTTPErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_http_errors_total",
			Help: "Outbound HTTP failures, by host and method",
		},
		[]string{"host", "method"},
	)

	// HTTPRequestDuration observes outbound REST latency.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arb_http_request_duration_seconds",
			Help:    "Outbound HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		ProfitableTicksTotal,
		NetEdgeBps,
		TradesTotal,
		CumulativeProfitUSD,
		LoopDuration,
		PriceAgeSeconds,
		WSReconnectsTotal,
		FXRate,
		TickQueueDepth,
		TickQueueDroppedTotal,
		ConsecutiveErrors,
		HTTPRequestsTotal,
		HTTPErrorsTotal,
		HTTPRequestDuration,
	)
}
