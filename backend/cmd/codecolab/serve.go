package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"codeColab/backend/config"
	"codeColab/backend/internal/activity"
	"codeColab/backend/internal/cache"
	"codeColab/backend/internal/httpapi"
	"codeColab/backend/internal/httpapi/handlers"
	"codeColab/backend/internal/logging"
	"codeColab/backend/internal/store"
	"codeColab/backend/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the room presence and voice signaling server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return fmt.Errorf("init config failed: %w", err)
		}
		logging.Init(cfg.Log.Level)
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	if cfg.Running.Mode != "" {
		gin.SetMode(cfg.Running.Mode)
	}

	var (
		sinks       activity.Fanout
		dispatchers []*activity.Dispatcher
		closers     []func()
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()
	// 所有下游共用一个在途写入上限
	sem := activity.NewSemaphoreControl(activity.DefaultMaxSemaphore)
	addSink := func(sink activity.Sink, opt activity.DispatcherOptions) {
		d := activity.NewDispatcher(sink, sem, opt)
		dispatchers = append(dispatchers, d)
		sinks = append(sinks, d)
	}

	// === Redis 名单镜像 ===
	var (
		rdb    redis.UniversalClient
		roster cache.RosterCache
	)
	if len(cfg.Redis.Addrs) > 0 {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, func() { rdb.Close() })
		roster = cache.NewRedisRoster(rdb)

		opt := activity.DefaultDispatcherOptions()
		// 同一房间的加入/离开必须按顺序写入
		opt.Workers = 1
		addSink(cache.NewRosterMirror(roster, cfg.Redis.RosterTTL), opt)
	}

	// === MySQL 房间统计 ===
	var stats handlers.StatsReader
	if cfg.Mysql.DSN != "" {
		db, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			return fmt.Errorf("connect mysql: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			closers = append(closers, func() { sqlDB.Close() })
		}
		repo := store.NewRoomStatsStore(db)
		statsCache := cache.NewStatsCache(rdb, repo)
		stats = statsCache
		addSink(cache.NewStatsSink(repo, statsCache), activity.DefaultDispatcherOptions())
	}

	// === Kafka 活动流 ===
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := activity.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		closers = append(closers, func() { producer.Close() })
		addSink(activity.NewKafkaSink(producer, cfg.Kafka.Topic), activity.DefaultDispatcherOptions())
	}

	var events activity.Publisher = activity.Discard{}
	if len(sinks) > 0 {
		events = sinks
	}
	hubOpt := ws.HubOptions{}
	if roster != nil {
		hubOpt.RefreshInterval = cfg.Redis.RosterTTL / 2
	}
	hub := ws.NewHub(events, hubOpt)
	manager := ws.NewManager(hub, cfg.Cors.AllowOrigins)

	if cfg.Auth.Secret == "" {
		slog.Warn("Auth.secret is empty, every presented token will be rejected")
	}
	router := httpapi.NewRouter(httpapi.Deps{
		WebSocket:    manager.WebSocketConnect,
		Live:         hub,
		Stats:        stats,
		Presence:     roster,
		AuthSecret:   cfg.Auth.Secret,
		AuthRequired: cfg.Auth.Required,
		AllowOrigins: cfg.Cors.AllowOrigins,
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Running.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("codecolab listening", "addr", srv.Addr, "redis", roster != nil, "mysql", stats != nil, "kafka", len(cfg.Kafka.Brokers) > 0)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	// 先停 Hub 断开所有 websocket，再关闭 HTTP 服务，最后把队列里的事件发完
	stopHub()
	<-hubDone
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	for _, d := range dispatchers {
		d.Close()
	}
	return serveErr
}
