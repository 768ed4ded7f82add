package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"sharemarket/core/events"
	"sharemarket/core/types"
	"sharemarket/native/market"
)

type eventMetrics struct {
	trades *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured market events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			trades: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sharemarket",
				Subsystem: "events",
				Name:      "trades_total",
				Help:      "Count of settled trades segmented by direction.",
			}, []string{"direction"}),
		}
		prometheus.MustRegister(eventRegistry.trades)
	})
	return eventRegistry
}

// RecordTrade increments the trade counter for the supplied direction.
func (m *eventMetrics) RecordTrade(direction string) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(direction).Inc()
}

type tradeCounter struct{}

// TradeCounter returns an emitter that records trade events into the metrics
// registry. It is typically combined with other emitters via events.Fanout.
func TradeCounter() events.Emitter { return tradeCounter{} }

func (tradeCounter) Emit(evt events.Event) {
	if evt == nil || evt.EventType() != market.EventTypeTrade {
		return
	}
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok || carrier.Event() == nil {
		return
	}
	direction := carrier.Event().Attributes["direction"]
	if direction == "" {
		direction = "unknown"
	}
	Events().RecordTrade(direction)
}
