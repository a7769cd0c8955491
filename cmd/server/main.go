// cmd/server/main.go
package main

import (
	"log"
	"net/http"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/superbgame/relay/internal/config"
	"github.com/superbgame/relay/internal/handlers"
	"github.com/superbgame/relay/internal/lobby"
	"github.com/superbgame/relay/internal/middleware"
	"github.com/superbgame/relay/internal/session"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	lobbyReg := lobby.NewRegistry(logger, cfg.ReconnectGrace)
	sessionReg := session.NewRegistry(logger, cfg.SessionCleanupGrace)

	mux := http.NewServeMux()

	mux.HandleFunc("/", handlers.RootHandler)
	mux.HandleFunc("/health", handlers.HealthHandler)
	mux.Handle("/metrics", promhttp.Handler())

	mux.Handle("/ws/lobby", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.LobbyWSHandler(logger, lobbyReg, sessionReg, cfg.OriginPatterns()),
	)))
	mux.Handle("/ws/game/", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.GameWSHandler(logger, sessionReg, cfg.OriginPatterns()),
	)))

	handler := middleware.CORS(cfg.CORSOrigins)(mux)

	logger.Infof("Running on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
