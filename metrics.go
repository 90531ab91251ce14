package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	connectedSockets = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carewire",
		Subsystem: "relay",
		Name:      "sockets",
		Help:      "Open websocket connections.",
	})
	framesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carewire",
		Subsystem: "relay",
		Name:      "frames_total",
		Help:      "Inbound frames by type and outcome.",
	}, []string{"type", "result"})
	deliveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carewire",
		Subsystem: "relay",
		Name:      "delivered_total",
		Help:      "Frames written to local sockets, by origin.",
	}, []string{"origin"})
	clusterTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carewire",
		Subsystem: "relay",
		Name:      "cluster_messages_total",
		Help:      "Messages exchanged over the redis cluster channel.",
	}, []string{"direction"})
)

func init() {
	prometheus.MustRegister(connectedSockets, framesTotal, deliveredTotal, clusterTotal)
}

const (
	resultOK      = "ok"
	resultDropped = "dropped"
	resultLimited = "limited"
	resultDenied  = "denied"

	originLocal   = "local"
	originCluster = "cluster"
	originAdmin   = "admin"
)

func countFrame(t, result string) {
	if t == "" {
		t = "invalid"
	}
	framesTotal.WithLabelValues(t, result).Inc()
}
