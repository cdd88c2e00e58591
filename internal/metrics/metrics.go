// Package metrics declares the process-wide Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RateLimitDenied counts denied admission checks per limiter class.
	RateLimitDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_ratelimit_denied_total",
		Help: "Admission checks denied, by limiter class.",
	}, []string{"class"})

	// ExchangeOutcomes counts invite exchange results by stable error code.
	ExchangeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_token_exchange_total",
		Help: "Invite token exchange outcomes.",
	}, []string{"outcome"})

	// ActiveSessions tracks live interview session instances.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_active_sessions",
		Help: "Interview sessions currently registered.",
	})

	// SessionsFinished counts terminal transitions by final status.
	SessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_sessions_finished_total",
		Help: "Sessions reaching a terminal state, by status.",
	}, []string{"status"})

	// FramesIn counts accepted inbound protocol frames by type tag.
	FramesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_ws_frames_in_total",
		Help: "Inbound websocket frames accepted by the codec, by type.",
	}, []string{"type"})
)
