package metrics

import (
	"context"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "bend/lending"

// LendingMetrics records pool activity in Prometheus and mirrors it to the
// OpenTelemetry meter so OTLP collectors receive the same signals. It
// satisfies the lending package's Observer interface.
type LendingMetrics struct {
	operations      *prometheus.CounterVec
	liquidityIndex  *prometheus.GaugeVec
	borrowIndex     *prometheus.GaugeVec
	loanTransitions *prometheus.CounterVec
	loansByState    *prometheus.GaugeVec
	auctionBids     *prometheus.CounterVec
	stalePrices     *prometheus.CounterVec

	otelOperations  metric.Int64Counter
	otelTransitions metric.Int64Counter
	otelBids        metric.Int64Counter
	otelStale       metric.Int64Counter
	otelBorrowIndex metric.Float64Gauge
	otelSupplyIndex metric.Float64Gauge
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = newLendingMetrics(otel.GetMeterProvider().Meter(meterName))
		prometheus.MustRegister(lendingRegistry.collectors()...)
	})
	return lendingRegistry
}

func newLendingMetrics(meter metric.Meter) *LendingMetrics {
	m := &LendingMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_operations_total",
			Help: "Count of pool entry point calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		liquidityIndex: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lending_liquidity_index",
			Help: "Latest liquidity index per reserve, as a multiple of one.",
		}, []string{"reserve"}),
		borrowIndex: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lending_borrow_index",
			Help: "Latest borrow index per reserve, as a multiple of one.",
		}, []string{"reserve"}),
		loanTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_loan_transitions_total",
			Help: "Count of loan state changes.",
		}, []string{"from", "to"}),
		loansByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lending_loans",
			Help: "Number of loans per state.",
		}, []string{"state"}),
		auctionBids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_auction_bids_total",
			Help: "Count of accepted auction bids by collection.",
		}, []string{"collection"}),
		stalePrices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_stale_prices_total",
			Help: "Count of valuations that used a stale price, by oracle.",
		}, []string{"source"}),
	}
	m.initMeter(meter)
	return m
}

// initMeter creates the OpenTelemetry instruments, falling back to no-op
// instruments when the meter refuses one.
func (m *LendingMetrics) initMeter(meter metric.Meter) {
	fallback := noop.NewMeterProvider().Meter(meterName)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}
	gauge := func(name, desc string) metric.Float64Gauge {
		g, err := meter.Float64Gauge(name, metric.WithDescription(desc))
		if err != nil {
			g, _ = fallback.Float64Gauge(name)
		}
		return g
	}
	m.otelOperations = counter("bend.lending.operations", "Pool entry point calls by operation and outcome.")
	m.otelTransitions = counter("bend.lending.loan_transitions", "Loan state changes.")
	m.otelBids = counter("bend.lending.auction_bids", "Accepted auction bids by collection.")
	m.otelStale = counter("bend.lending.stale_prices", "Valuations that used a stale price, by oracle.")
	m.otelBorrowIndex = gauge("bend.lending.borrow_index", "Latest borrow index per reserve.")
	m.otelSupplyIndex = gauge("bend.lending.liquidity_index", "Latest liquidity index per reserve.")
}

func (m *LendingMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.operations,
		m.liquidityIndex,
		m.borrowIndex,
		m.loanTransitions,
		m.loansByState,
		m.auctionBids,
		m.stalePrices,
	}
}

func (m *LendingMetrics) OperationCompleted(op, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(label(op), label(outcome)).Inc()
	m.otelOperations.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("op", label(op)),
		attribute.String("outcome", label(outcome)),
	))
}

func (m *LendingMetrics) ReserveIndexes(reserve string, liquidityIndex, borrowIndex float64) {
	if m == nil {
		return
	}
	m.liquidityIndex.WithLabelValues(label(reserve)).Set(liquidityIndex)
	m.borrowIndex.WithLabelValues(label(reserve)).Set(borrowIndex)
	attrs := metric.WithAttributes(attribute.String("reserve", label(reserve)))
	m.otelSupplyIndex.Record(context.Background(), liquidityIndex, attrs)
	m.otelBorrowIndex.Record(context.Background(), borrowIndex, attrs)
}

// LoanTransition counts the transition and moves one loan between the state
// gauges. Loans enter from "none".
func (m *LendingMetrics) LoanTransition(from, to string) {
	if m == nil {
		return
	}
	m.loanTransitions.WithLabelValues(label(from), label(to)).Inc()
	if from != "none" {
		m.loansByState.WithLabelValues(label(from)).Dec()
	}
	m.loansByState.WithLabelValues(label(to)).Inc()
	m.otelTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("from", label(from)),
		attribute.String("to", label(to)),
	))
}

func (m *LendingMetrics) AuctionBid(collection string) {
	if m == nil {
		return
	}
	m.auctionBids.WithLabelValues(label(collection)).Inc()
	m.otelBids.Add(context.Background(), 1, metric.WithAttributes(attribute.String("collection", label(collection))))
}

func (m *LendingMetrics) StalePrice(source string) {
	if m == nil {
		return
	}
	m.stalePrices.WithLabelValues(label(source)).Inc()
	m.otelStale.Add(context.Background(), 1, metric.WithAttributes(attribute.String("source", label(source))))
}

// SetLoanCount overwrites a state gauge, used after restoring a snapshot.
func (m *LendingMetrics) SetLoanCount(state string, count int) {
	if m == nil {
		return
	}
	m.loansByState.WithLabelValues(label(state)).Set(float64(count))
}

func label(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
