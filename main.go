package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatrelay/internal/config"
	"chatrelay/internal/database/db_client"
	"chatrelay/internal/http/http_server"
	"chatrelay/internal/redis/redis_client"
	"chatrelay/internal/services/message"
	"chatrelay/internal/syncpresence"
	"chatrelay/internal/syncreceipts"
	"chatrelay/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	var err error
	var cfg *config.Config
	var redisClient *redis.Client
	var msgService message.IMessageService

	// 1. Load configuration
	cfg, err = config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis
	redisClient, err = redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort))
	if err != nil {
		Log.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()
	Log.Debug("Redis client created successfully")

	// 4. Postgres db client
	pgDb, err := db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	if err != nil {
		Log.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()

	// 5. Authoritative write path + authorization seam
	msgService = message.NewMessageService(pgDb)

	// 6. WebSockets: registry, hub, Redis fan-out
	registry := ws.NewRegistry()
	hub := ws.NewHub()
	fanout := ws.NewRedisFanout(redisClient)

	wsSrv := ws.NewWsServer(hub, registry, redisClient, fanout, msgService, ws.WsConfig{
		WriteWait:         time.Duration(cfg.WriteWaitMS) * time.Millisecond,
		MaxMessageBytes:   int64(cfg.MaxMessageBytes),
		HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalSec) * time.Second,
	})

	// 7. Background: heartbeat liveness cycle
	go wsSrv.RunLiveness(ctx)

	// 8. Background: presence mirror + delivery receipt persister
	syncpresence.Run(ctx, redisClient, hub, time.Duration(cfg.PresenceMirrorSec)*time.Second)
	syncreceipts.Run(ctx, redisClient, pgDb)

	// 9. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, msgService, hub, fanout)
	if err := httpServer.Start(); err != nil {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}
