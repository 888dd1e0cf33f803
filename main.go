//go:generate go tool swag init -g main.go -o api_specs --outputTypes json,yaml

// @title			roomchat API
// @version		1.0
// @description	Room presence and messaging coordinator: administrative REST endpoints.
// @BasePath		/
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomchat/internal/config"
	"roomchat/internal/database/db_client"
	"roomchat/internal/events"
	"roomchat/internal/heartbeat"
	"roomchat/internal/http/http_server"
	"roomchat/internal/http/roomhandler"
	"roomchat/internal/nats/nats_client"
	"roomchat/internal/redis/redis_client"
	"roomchat/internal/redis/redis_functions"
	"roomchat/internal/redis/watcher/instancewatcher"
	"roomchat/internal/services/member"
	"roomchat/internal/services/presence"
	"roomchat/internal/services/ratelimit"
	"roomchat/internal/services/room"
	"roomchat/internal/syncevents"
	"roomchat/internal/ws"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
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
	var pgDb *sql.DB

	// 1. Load configuration
	cfg, err = config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = ulid.Make().String()
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis, when any component is backed by it
	useRedis := cfg.RateLimitBackend == "redis" || cfg.FanoutDriver == "redis" || cfg.EventBusDriver == "redis"
	if useRedis {
		redisClient, err = redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort), cfg.InstanceID)
		if err != nil {
			Log.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		Log.Debug("Redis client created successfully")
	}

	// 4. Registries
	var rooms room.IRoomRegistry
	var members member.IMemberRegistry
	switch cfg.StoreDriver {
	case "postgres":
		pgDb, err = db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
		if err != nil {
			Log.Fatal("pg-open", zap.Error(err))
		}
		defer pgDb.Close()
		if err := db_client.Migrate(ctx, pgDb); err != nil {
			Log.Fatal("pg-migrate", zap.Error(err))
		}
		rooms = room.NewPostgresRoomRegistry(pgDb)
		members = member.NewPostgresMemberRegistry(pgDb)
	default:
		rooms = room.NewMemoryRoomRegistry()
		members = member.NewMemoryMemberRegistry()
	}

	// 5. Rate limiter
	limitOpts := ratelimit.Options{Points: cfg.RateLimitPoints, Window: cfg.RateLimitWindow}
	var limiter ratelimit.IRateLimiter
	switch cfg.RateLimitBackend {
	case "redis":
		// Load the Redis Functions lua
		if err := redis_functions.LoadAll(ctx, redisClient); err != nil {
			Log.Fatal("load-redis-funcs", zap.Error(err))
		}
		limiter = ratelimit.NewRedisLimiter(redisClient, limitOpts)
	default:
		mem := ratelimit.NewMemoryLimiter(limitOpts)
		go mem.RunJanitor(ctx)
		limiter = mem
	}
	limiter = ratelimit.Bounded(limiter, cfg.RateLimitTimeout)

	// 6. Integration event bus
	var bus events.Bus
	switch cfg.EventBusDriver {
	case "redis":
		bus = events.NewRedisStreamBus(redisClient, cfg.EventStreamMaxLen)
	case "nats":
		nc, err := nats_client.Connect(cfg.NatsURL, cfg.NatsUser, cfg.NatsPassword, cfg.InstanceID)
		if err != nil {
			Log.Fatal("nats-connect", zap.Error(err))
		}
		defer nc.Drain()
		bus = events.NewNatsBus(nc)
	default:
		bus = events.LogBus{}
	}
	publisher := events.NewPublisher(bus, cfg.EventPublishTimeout)

	// 7. WebSockets hub + fan-out
	var fanoutClient *redis.Client
	if cfg.FanoutDriver == "redis" {
		fanoutClient = redisClient
	}
	hub := ws.NewHub(fanoutClient)
	go hub.Run(ctx)

	// 8. Presence coordinator
	coord := presence.NewCoordinator(limiter, rooms, members, publisher, hub, presence.Options{
		InstanceID:             cfg.InstanceID,
		DisplacePreviousDevice: cfg.DisplacePreviousDevice,
	})

	// 9. Background: heartbeat + reaping of dead instances
	reaping := useRedis && cfg.StoreDriver == "postgres"
	if reaping {
		heartbeat.Run(ctx, redisClient, cfg.InstanceID, cfg.HeartbeatInterval, cfg.HeartbeatTTL)
		go instancewatcher.Run(ctx, redisClient, coord)
		if err := instancewatcher.SweepOrphans(ctx, redisClient, members, coord, cfg.InstanceID); err != nil {
			Log.Warn("orphan-sweep", zap.Error(err))
		}
	}

	// 10. Background: membership activity log
	var activity roomhandler.ActivityReader
	if cfg.EventBusDriver == "redis" && pgDb != nil {
		store := syncevents.NewStore(pgDb)
		syncevents.Run(ctx, redisClient, store)
		activity = store
	}

	// 11. HTTP + WS server
	wsSrv := ws.NewWsServer(hub, coord, ws.ServerOptions{
		ReadLimit:    cfg.WsReadLimit,
		SendQueue:    cfg.WsSendQueue,
		EventTimeout: cfg.EventTimeout,
	})
	checks := map[string]http_server.HealthCheck{}
	if pgDb != nil {
		checks["postgres"] = pgDb.PingContext
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, roomhandler.New(rooms, members, activity), checks)

	go func() {
		if err := httpServer.Start(); err != nil {
			Log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()
	Log.Info("roomchat started",
		zap.String("instance_id", cfg.InstanceID),
		zap.Uint16("port", cfg.HttpServerPort))

	<-ctx.Done()

	// 12. Shutdown: stop accepting, release our members, flush the bus
	_ = httpServer.Dispose()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	n, err := coord.ReapInstance(shutdownCtx, cfg.InstanceID)
	if err != nil {
		// Keep the heartbeat key so its expiry lets another instance finish.
		Log.Error("release-members", zap.Error(err))
	} else {
		Log.Debug("members released", zap.Int("count", n))
		if reaping {
			_ = heartbeat.Stop(shutdownCtx, redisClient, cfg.InstanceID)
		}
	}
	coord.Wait()
}
