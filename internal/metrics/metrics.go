// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LobbyPlayers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_lobby_players",
		Help: "Number of players currently known to the lobby registry",
	})

	ReadyPlayers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_ready_players",
		Help: "Number of players currently in the ready queue",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_sessions",
		Help: "Number of live game sessions",
	})

	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_sessions_created_total",
		Help: "Total number of game sessions created by the matchmaker",
	})

	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_relayed_total",
		Help: "Total number of game messages relayed between session members, by type",
	}, []string{"type"})

	StaleSocketsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_stale_sockets_evicted_total",
		Help: "Total number of lobby players evicted after a failed broadcast write",
	})
)
