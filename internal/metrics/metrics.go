// Package metrics exposes the replication counters §7 requires so
// operators can detect stalls without observing individual errors, as
// prometheus/client_golang collectors held in a Metrics struct and
// registered on a caller-supplied registry.
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the node's replication counters and gauges. The
// replication engine updates the item, sync-error and retry counters;
// BanEvents, GroupExchanges and PeersByState are registered and reported
// but nothing in the node updates them.
type Metrics struct {
	ItemsStored          prometheus.Counter
	ItemsDuplicate       prometheus.Counter
	ItemsRejected        prometheus.Counter
	SyncErrors           prometheus.Counter
	PushRetriesExhausted prometheus.Counter
	BanEvents            prometheus.Counter
	GroupExchanges       prometheus.Counter

	PeersByState *prometheus.GaugeVec
}

// New registers and returns a fresh Metrics bundle against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the
// default global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ItemsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cordelia_items_stored_total",
			Help: "Items accepted into storage via push or anti-entropy.",
		}),
		ItemsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cordelia_items_duplicate_total",
			Help: "Items rejected as already-present duplicates (the loop-stopper).",
		}),
		ItemsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cordelia_items_rejected_total",
			Help: "Items rejected by a gate, LWW, checksum, or size check.",
		}),
		SyncErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cordelia_sync_errors_total",
			Help: "Anti-entropy sync rounds that failed to complete.",
		}),
		PushRetriesExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cordelia_push_retries_exhausted_total",
			Help: "Eager push attempts that exhausted their retry budget.",
		}),
		BanEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cordelia_ban_events_total",
			Help: "Peer ban transitions issued by the governor.",
		}),
		GroupExchanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cordelia_group_exchanges_total",
			Help: "GroupExchange rounds completed.",
		}),
		PeersByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cordelia_peers_by_state",
			Help: "Current peer pool population by lifecycle state.",
		}, []string{"state"}),
	}

	reg.MustRegister(
		m.ItemsStored, m.ItemsDuplicate, m.ItemsRejected,
		m.SyncErrors, m.PushRetriesExhausted, m.BanEvents,
		m.GroupExchanges, m.PeersByState,
	)
	return m
}

// Snapshot reads the current value of every counter, for the
// diagnostics endpoint (§6.2) so operators can see stall indicators
// without scraping a separate /metrics port.
func (m *Metrics) Snapshot() map[string]float64 {
	return map[string]float64{
		"items_stored":           counterValue(m.ItemsStored),
		"items_duplicate":        counterValue(m.ItemsDuplicate),
		"items_rejected":         counterValue(m.ItemsRejected),
		"sync_errors":            counterValue(m.SyncErrors),
		"push_retries_exhausted": counterValue(m.PushRetriesExhausted),
		"ban_events":             counterValue(m.BanEvents),
		"group_exchanges":        counterValue(m.GroupExchanges),
	}
}

func counterValue(c prometheus.Counter) float64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	return out.GetCounter().GetValue()
}
