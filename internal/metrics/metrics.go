package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RegisteredWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediasoup_room_registered_workers",
		Help: "Number of workers currently present in the balancer registry",
	})

	WorkerEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediasoup_room_worker_evictions_total",
		Help: "Total workers evicted for missed heartbeats",
	})

	HeartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediasoup_room_heartbeats_total",
		Help: "Total worker status reports accepted",
	})

	ProxiedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediasoup_room_proxied_requests_total",
		Help: "Total client requests proxied to workers",
	}, []string{"operation", "outcome"}) // outcome: "ok" | "no_worker" | "upstream_error"

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediasoup_room_active_rooms",
		Help: "Rooms hosted by this worker",
	})

	ActivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediasoup_room_active_peers",
		Help: "Peers registered on this worker",
	})

	ActiveTransports = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediasoup_room_active_transports",
		Help: "Open transports on this worker",
	})

	ActiveProducers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediasoup_room_active_producers",
		Help: "Open producers on this worker",
	})

	ActiveConsumers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediasoup_room_active_consumers",
		Help: "Open consumers on this worker",
	})

	ActiveSignalConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediasoup_room_active_signal_connections",
		Help: "Open websocket connections on the gateway",
	})

	SignalMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediasoup_room_signal_messages_total",
		Help: "Total signaling messages handled by the gateway",
	}, []string{"type"})
)
