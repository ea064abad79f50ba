// Package metrics exposes Prometheus instrumentation for the router core's
// service-health surface: NetDB store size, floodfill count, tunnel build
// outcomes, and garlic session count.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry groups the counters/gauges the router core updates. A zero-value
// Registry is not ready for use; call New.
type Registry struct {
	NetDBRouterInfos  prometheus.Gauge
	NetDBLeaseSets    prometheus.Gauge
	NetDBFloodfills   prometheus.Gauge
	TunnelBuildTotal  *prometheus.CounterVec // labeled "outcome" = established|build_failed|timeout
	TunnelsEstablished prometheus.Gauge
	TransitTunnels    prometheus.Gauge
	GarlicSessions    prometheus.Gauge
	LookupLatency     prometheus.Histogram
}

// New registers and returns a Registry against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across parallel test runs.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		NetDBRouterInfos: factory.NewGauge(prometheus.GaugeOpts{
			Name: "i2pcore_netdb_routerinfos",
			Help: "Number of RouterInfos currently held in the NetDB store.",
		}),
		NetDBLeaseSets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "i2pcore_netdb_leasesets",
			Help: "Number of LeaseSets currently held in the NetDB store.",
		}),
		NetDBFloodfills: factory.NewGauge(prometheus.GaugeOpts{
			Name: "i2pcore_netdb_floodfills",
			Help: "Number of known floodfill routers.",
		}),
		TunnelBuildTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "i2pcore_tunnel_build_total",
			Help: "Tunnel build attempts by outcome.",
		}, []string{"outcome"}),
		TunnelsEstablished: factory.NewGauge(prometheus.GaugeOpts{
			Name: "i2pcore_tunnels_established",
			Help: "Number of currently established local tunnels.",
		}),
		TransitTunnels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "i2pcore_transit_tunnels",
			Help: "Number of transit tunnels this router currently participates in.",
		}),
		GarlicSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "i2pcore_garlic_sessions",
			Help: "Number of active outbound garlic sessions.",
		}),
		LookupLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "i2pcore_netdb_lookup_seconds",
			Help:    "NetDB lookup round-trip latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
