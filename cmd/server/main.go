package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/sessions"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/cache"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/comments"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/config"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/database"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/database/migrations"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/events"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/handler"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/refstore"
	"github.com/koopa0/system-design/14-catalog-read-path/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// 有 .env 時載入（不覆蓋已存在的環境變數）
	_ = godotenv.Load()

	// 載入配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 設定日誌
	log, closeLog, err := logger.New(logger.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    cfg.Log.Output,
		AddSource: cfg.Log.AddSource,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx := context.Background()

	// 連接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	// 執行資料庫遷移
	if cfg.Postgres.AutoMigrate {
		if err := migrations.Run(cfg.PostgresURL(), log); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	// 連接 PostgreSQL
	tracer := database.NewTracer(log, cfg.Postgres.SlowQuery)
	pool, err := database.NewPool(ctx, cfg, tracer)
	if err != nil {
		return err
	}
	defer pool.Close()

	conns := database.NewProvider(pool, log)
	productCache := cache.New(cache.NewRedisBackend(redisClient), log)

	// 載入參考資料：失敗時不開始服務
	store, err := loadReferenceStore(ctx, cfg, conns, productCache, log)
	if err != nil {
		return err
	}

	// 事件發布
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATS.URL != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			return err
		}
		publisher = natsPublisher
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("failed to close publisher", "error", err)
		}
	}()

	sessionStore := sessions.NewCookieStore([]byte(cfg.Session.Secret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   cfg.Session.MaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	h := handler.New(handler.Deps{
		Store:     store,
		Cache:     productCache,
		Conns:     conns,
		Batcher:   comments.NewBatcher(log, comments.WithPreviewLimit(cfg.Catalog.CommentPreview)),
		Publisher: publisher,
		Sessions:  sessionStore,
		Checks: map[string]func(ctx context.Context) error{
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
			"postgres": pool.Ping,
		},
		Logger: log,
	}, handler.Options{
		PageSize:           cfg.Catalog.PageSize,
		SessionName:        cfg.Session.Name,
		ProductCacheLookup: cfg.Catalog.ProductCacheLookup,
	})

	// 設定 HTTP 伺服器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// 啟動伺服器
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", cfg.Server.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("failed to shutdown server", "error", err)
			// 強制關閉伺服器
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("failed to force close server", "error", closeErr)
			}
		}
	}

	stats := conns.Stats()
	log.Info("connection stats",
		"acquired", stats.Acquired,
		"released", stats.Released,
		"queries", tracer.Queries(),
		"failed_queries", tracer.Failed())

	return nil
}

// loadReferenceStore 從快照檔或 products 表載入參考資料
func loadReferenceStore(ctx context.Context, cfg *config.Config, conns *database.Provider, productCache *cache.Facade, log *slog.Logger) (*refstore.Store, error) {
	var store *refstore.Store

	err := conns.With(ctx, func(q database.Querier) error {
		var source refstore.ProductSource = refstore.TableSource{Q: q}
		if cfg.Catalog.ProductsBlob != "" {
			source = refstore.BlobSource{Path: cfg.Catalog.ProductsBlob}
		}

		params := refstore.LoadParams{
			Products: source,
			Users:    q,
			Logger:   log,
		}
		if cfg.Catalog.WarmCache {
			params.Cache = productCache
		}

		var err error
		store, err = refstore.Load(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}
