package main

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"pawchat/config"
	"pawchat/internal/auth"
	"pawchat/internal/hub"
	"pawchat/internal/metrics"
	chatredis "pawchat/internal/redis"
	"pawchat/pkg/logger"
)

const presenceTTL = 24 * time.Hour

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.AppMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var presence hub.PresenceStore = hub.NewMemoryPresence()
	backend := "memory"
	if cfg.Hub.RedisAddr != "" {
		client := chatredis.NewClient(chatredis.Config{
			Addr:     cfg.Hub.RedisAddr,
			Password: cfg.Hub.RedisPassword,
			DB:       cfg.Hub.RedisDB,
		})
		defer client.Close()
		if err := chatredis.Ping(context.Background(), client, 5*time.Second); err != nil {
			log.Fatalf("Failed to connect to redis at %s: %v", cfg.Hub.RedisAddr, err)
		}
		presence = chatredis.NewPresenceStore(client, presenceTTL)
		backend = "redis"
	}

	h := hub.NewHub(hub.Options{
		Presence: presence,
		Logger:   l.Logger,
		Metrics:  metrics.NewHub(reg),
	})
	l.Logger.Info("hub ready", zap.String("presence", backend))

	server := hub.NewServer(hub.ServerConfig{
		Port:            cfg.Hub.Port,
		AppMode:         cfg.AppMode,
		PresenceBackend: backend,
	}, h, auth.NewIssuer(cfg.Hub.JWTSecret, 0), reg, l)

	if err := server.Start(); err != nil {
		log.Fatalf("Hub stopped with error: %v", err)
	}
}
