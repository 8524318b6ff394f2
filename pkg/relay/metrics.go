package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// callbacksTotal counts provider callbacks by outcome:
	// fulfilled|failed|duplicate|unknown|registered.
	callbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_callbacks_total",
		Help: "Provider callbacks received, by outcome",
	}, []string{"outcome"})

	// deliveriesTotal counts terminal results handed to a consumer, by
	// transport: poll|websocket.
	deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_deliveries_total",
		Help: "Terminal results delivered to consumers, by transport",
	}, []string{"transport"})

	sessionsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_sessions_expired_total",
		Help: "Sessions evicted by the expiration sweeper",
	})

	wsConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_ws_connections_active",
		Help: "Open websocket push connections",
	})
)

// RegisterMetrics registers the relay collectors plus an active-session gauge
// backed by the store and returns the handler for /metrics. Re-registration
// is tolerated so tests can assemble multiple servers.
func RegisterMetrics(reg prometheus.Registerer, store Store) (http.Handler, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	sessionsActive := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "relay_sessions_active",
		Help: "Sessions currently held in the store",
	}, func() float64 {
		return float64(store.Len())
	})

	collectors := []prometheus.Collector{
		callbacksTotal,
		deliveriesTotal,
		sessionsExpiredTotal,
		wsConnectionsActive,
		sessionsActive,
	}
	for _, collector := range collectors {
		if err := registerCollector(reg, collector); err != nil {
			return nil, err
		}
	}
	return promhttp.Handler(), nil
}

func registerCollector(reg prometheus.Registerer, collector prometheus.Collector) error {
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}
