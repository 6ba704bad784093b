// Package testutils 提供測試用的共用工具和輔助函數
//
// 本套件實作了測試容器（testcontainers）的管理，包括：
//   - Redis 測試容器
//   - PostgreSQL 測試容器（以內嵌遷移建立 schema）
//   - 種子資料與清理
//
// 所有測試容器都會在測試結束時自動清理。
package testutils

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/catalog"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/database"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/database/migrations"
)

// TestEnvironment 封裝測試環境
type TestEnvironment struct {
	RedisClient    *redis.Client
	PostgresPool   *pgxpool.Pool
	Tracer         *database.Tracer
	Provider       *database.Provider
	RedisContainer tc.Container
	PgContainer    tc.Container
	RedisAddr      string
	PostgresDSN    string
	Logger         *slog.Logger
	ctx            context.Context
}

// SetupTestEnvironment 設置完整的測試環境
//
// 這個函數會：
//  1. 啟動 Redis 容器
//  2. 啟動 PostgreSQL 容器並執行遷移
//  3. 建立帶查詢計數 tracer 的連線池
//  4. 註冊清理函數
//
// -short 模式下跳過（需要 Docker）。
func SetupTestEnvironment(t testing.TB) *TestEnvironment {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container tests in short mode")
	}

	ctx := context.Background()
	env := &TestEnvironment{
		ctx: ctx,
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn, // 測試時減少日誌噪音
		})),
	}

	t.Cleanup(env.Cleanup)

	env.setupRedis(t)
	env.setupPostgreSQL(t)

	return env
}

// setupRedis 啟動 Redis 測試容器
func (env *TestEnvironment) setupRedis(t testing.TB) {
	t.Helper()

	ctx := env.ctx

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	env.RedisContainer = redisContainer

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	env.RedisAddr = endpoint

	env.RedisClient = redis.NewClient(&redis.Options{
		Addr:         endpoint,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := env.RedisClient.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
}

// setupPostgreSQL 啟動 PostgreSQL 測試容器並執行遷移
func (env *TestEnvironment) setupPostgreSQL(t testing.TB) {
	t.Helper()

	ctx := env.ctx

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	env.PgContainer = pgContainer

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	env.PostgresDSN = dsn

	// 遷移與正式啟動走同一份內嵌 SQL
	if err := migrations.Run(dsn, env.Logger); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("failed to parse postgres config: %v", err)
	}

	env.Tracer = database.NewTracer(env.Logger, time.Second)

	config.MaxConns = 10
	config.MinConns = 1
	config.ConnConfig.Tracer = env.Tracer

	env.PostgresPool, err = pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}

	if err := env.PostgresPool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}

	env.Provider = database.NewProvider(env.PostgresPool, env.Logger)
}

// Cleanup 清理測試環境
func (env *TestEnvironment) Cleanup() {
	ctx := context.Background()

	if env.RedisClient != nil {
		_ = env.RedisClient.Close()
	}

	if env.PostgresPool != nil {
		env.PostgresPool.Close()
	}

	if env.RedisContainer != nil {
		_ = env.RedisContainer.Terminate(ctx)
	}

	if env.PgContainer != nil {
		_ = env.PgContainer.Terminate(ctx)
	}
}

// FlushRedis 清空 Redis 資料（用於測試之間的清理）
func (env *TestEnvironment) FlushRedis(t testing.TB) {
	t.Helper()

	if err := env.RedisClient.FlushDB(env.ctx).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
}

// TruncatePostgresTables 清空所有表並重設序列
func (env *TestEnvironment) TruncatePostgresTables(t testing.TB) {
	t.Helper()

	const query = `TRUNCATE TABLE histories, comments, products, users RESTART IDENTITY CASCADE`
	if _, err := env.PostgresPool.Exec(env.ctx, query); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

// ResetTestData 重置所有測試資料
func (env *TestEnvironment) ResetTestData(t testing.TB) {
	t.Helper()

	env.FlushRedis(t)
	env.TruncatePostgresTables(t)
}

// SeedUsers 寫入用戶（保留給定的 id）
func (env *TestEnvironment) SeedUsers(t testing.TB, users []catalog.User) {
	t.Helper()

	for _, u := range users {
		_, err := env.PostgresPool.Exec(env.ctx,
			`INSERT INTO users (id, name, email, password, last_login) VALUES ($1, $2, $3, $4, $5)`,
			u.ID, u.Name, u.Email, u.Password, u.LastLogin)
		if err != nil {
			t.Fatalf("failed to seed user %d: %v", u.ID, err)
		}
	}
}

// SeedProducts 寫入商品（保留給定的 id）
func (env *TestEnvironment) SeedProducts(t testing.TB, products []catalog.Product) {
	t.Helper()

	for _, p := range products {
		_, err := env.PostgresPool.Exec(env.ctx,
			`INSERT INTO products (id, name, description, image_path, price, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			p.ID, p.Name, p.Description, p.ImagePath, p.Price, p.CreatedAt)
		if err != nil {
			t.Fatalf("failed to seed product %d: %v", p.ID, err)
		}
	}
}

// SeedComment 寫入一筆留言，返回 id
func (env *TestEnvironment) SeedComment(t testing.TB, productID, userID int64, content string, createdAt time.Time) int64 {
	t.Helper()

	var id int64
	err := env.PostgresPool.QueryRow(env.ctx,
		`INSERT INTO comments (product_id, user_id, content, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		productID, userID, content, createdAt).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed comment: %v", err)
	}
	return id
}
