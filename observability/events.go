package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Transfer directions relative to the pool custody account.
const (
	FlowIn       = "in"
	FlowOut      = "out"
	FlowExternal = "external"
)

type eventMetrics struct {
	transfers *prometheus.CounterVec
	nftsHeld  *prometheus.GaugeVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking custody transfers.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bend",
				Subsystem: "custody",
				Name:      "transfers_total",
				Help:      "Custody transfers segmented by token standard, asset and direction relative to the pool.",
			}, []string{"standard", "asset", "flow"}),
			nftsHeld: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "bend",
				Subsystem: "custody",
				Name:      "pool_nfts",
				Help:      "Collateral NFTs currently held by the pool per collection.",
			}, []string{"collection"}),
		}
		prometheus.MustRegister(eventRegistry.transfers, eventRegistry.nftsHeld)
	})
	return eventRegistry
}

// RecordTransfer counts one transfer. NFT transfers into or out of the pool
// also move the held-collateral gauge.
func (m *eventMetrics) RecordTransfer(nft bool, asset, flow string) {
	if m == nil {
		return
	}
	standard := "erc20"
	if nft {
		standard = "erc721"
	}
	label := labelAsset(asset)
	m.transfers.WithLabelValues(standard, label, flow).Inc()
	if !nft {
		return
	}
	switch flow {
	case FlowIn:
		m.nftsHeld.WithLabelValues(label).Inc()
	case FlowOut:
		m.nftsHeld.WithLabelValues(label).Dec()
	}
}

// SetPoolNFTs resets the held-collateral gauge, used after a restore.
func (m *eventMetrics) SetPoolNFTs(collection string, count int) {
	if m == nil {
		return
	}
	m.nftsHeld.WithLabelValues(labelAsset(collection)).Set(float64(count))
}

// Flow classifies a transfer between from and to relative to pool.
func Flow(pool, from, to [20]byte) string {
	switch pool {
	case to:
		return FlowIn
	case from:
		return FlowOut
	default:
		return FlowExternal
	}
}
