package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestLendingMetricsTrackLoanStates(t *testing.T) {
	m := newLendingMetrics(noop.NewMeterProvider().Meter(meterName))
	m.LoanTransition("none", "active")
	m.LoanTransition("none", "active")
	m.LoanTransition("active", "auction")
	m.LoanTransition("auction", "defaulted")

	if got := testutil.ToFloat64(m.loansByState.WithLabelValues("active")); got != 1 {
		t.Fatalf("active loans = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.loansByState.WithLabelValues("auction")); got != 0 {
		t.Fatalf("auction loans = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.loanTransitions.WithLabelValues("none", "active")); got != 2 {
		t.Fatalf("none->active transitions = %v, want 2", got)
	}
}

func TestLendingMetricsLabels(t *testing.T) {
	m := newLendingMetrics(noop.NewMeterProvider().Meter(meterName))
	m.OperationCompleted("borrow", "")
	m.ReserveIndexes("0xWETH", 1.05, 1.1)
	m.StalePrice(" NFT ")

	if got := testutil.ToFloat64(m.operations.WithLabelValues("borrow", "unknown")); got != 1 {
		t.Fatalf("operations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.borrowIndex.WithLabelValues("0xweth")); got != 1.1 {
		t.Fatalf("borrow index = %v, want 1.1", got)
	}
	if got := testutil.ToFloat64(m.stalePrices.WithLabelValues("nft")); got != 1 {
		t.Fatalf("stale prices = %v, want 1", got)
	}

	var nilMetrics *LendingMetrics
	nilMetrics.AuctionBid("0xapes")
}

func TestLendingMetricsExportToMeter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newLendingMetrics(provider.Meter(meterName))

	m.OperationCompleted("borrow", "ok")
	m.OperationCompleted("borrow", "ok")
	m.LoanTransition("none", "active")
	m.ReserveIndexes("0xWETH", 1.05, 1.1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	found := map[string]metricdata.Aggregation{}
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			found[md.Name] = md.Data
		}
	}

	ops, ok := found["bend.lending.operations"].(metricdata.Sum[int64])
	require.True(t, ok, "operations counter missing")
	require.Len(t, ops.DataPoints, 1)
	require.Equal(t, int64(2), ops.DataPoints[0].Value)
	op, _ := ops.DataPoints[0].Attributes.Value("op")
	require.Equal(t, "borrow", op.AsString())

	index, ok := found["bend.lending.borrow_index"].(metricdata.Gauge[float64])
	require.True(t, ok, "borrow index gauge missing")
	require.Len(t, index.DataPoints, 1)
	require.Equal(t, 1.1, index.DataPoints[0].Value)
	require.Contains(t, found, "bend.lending.loan_transitions")
}
