// Package config 載入服務配置
//
// 載入順序：預設值 → config.yaml → 環境變數。
// 環境變數覆蓋在容器部署時最常用（DATABASE_URL 等）。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPageSize 首頁每頁商品數
const DefaultPageSize = 50

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Postgres struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		User            string        `yaml:"user"`
		Password        string        `yaml:"password"`
		DBName          string        `yaml:"dbname"`
		SSLMode         string        `yaml:"sslmode"`
		MaxConns        int32         `yaml:"max_conns"`
		MinConns        int32         `yaml:"min_conns"`
		MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
		MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
		SlowQuery       time.Duration `yaml:"slow_query"`
		AutoMigrate     bool          `yaml:"auto_migrate"`

		// DSN 由 DATABASE_URL 設定時優先使用
		DSN string `yaml:"-"`
	} `yaml:"postgres"`

	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		MinIdleConns int           `yaml:"min_idle_conns"`
		MaxRetries   int           `yaml:"max_retries"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	NATS struct {
		// URL 為空時不發布事件
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Catalog struct {
		// ProductsBlob 商品快照檔；為空時改從 products 表載入
		ProductsBlob       string `yaml:"products_blob"`
		PageSize           int    `yaml:"page_size"`
		CommentPreview     int    `yaml:"comment_preview"`
		WarmCache          bool   `yaml:"warm_cache"`
		ProductCacheLookup bool   `yaml:"product_cache_lookup"`
	} `yaml:"catalog"`

	Session struct {
		Secret string `yaml:"secret"`
		Name   string `yaml:"name"`
		MaxAge int    `yaml:"max_age"`
	} `yaml:"session"`

	Log struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		Output    string `yaml:"output"`
		AddSource bool   `yaml:"add_source"`
	} `yaml:"log"`
}

// Default 返回預設配置
func Default() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 5 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Postgres.Host = "127.0.0.1"
	cfg.Postgres.Port = 5432
	cfg.Postgres.User = "catalog"
	cfg.Postgres.DBName = "catalog"
	cfg.Postgres.SSLMode = "disable"
	cfg.Postgres.MaxConns = 16
	cfg.Postgres.MinConns = 2
	cfg.Postgres.MaxConnLifetime = 30 * time.Minute
	cfg.Postgres.MaxConnIdleTime = 5 * time.Minute
	cfg.Postgres.SlowQuery = 200 * time.Millisecond

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.PoolSize = 16
	cfg.Redis.MinIdleConns = 2
	cfg.Redis.MaxRetries = 3
	cfg.Redis.DialTimeout = 5 * time.Second
	cfg.Redis.ReadTimeout = 3 * time.Second
	cfg.Redis.WriteTimeout = 3 * time.Second

	cfg.NATS.SubjectPrefix = "catalog"

	cfg.Catalog.PageSize = DefaultPageSize
	cfg.Catalog.CommentPreview = 5
	cfg.Catalog.WarmCache = true
	cfg.Catalog.ProductCacheLookup = true

	cfg.Session.Secret = strings.Repeat("showwin_happy", 10)
	cfg.Session.Name = "catalog.session"
	cfg.Session.MaxAge = 86400

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Log.Output = "stdout"

	return cfg
}

// Load 從檔案載入配置並套用環境變數
//
// path 為空或檔案不存在時只使用預設值與環境變數。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - path 由命令列旗標指定，非使用者輸入
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// 沒有配置檔時使用預設值
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv 套用環境變數覆蓋
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("DATABASE_URL", &c.Postgres.DSN)
	str("CATALOG_DB_HOST", &c.Postgres.Host)
	str("CATALOG_DB_USER", &c.Postgres.User)
	str("CATALOG_DB_PASSWORD", &c.Postgres.Password)
	str("CATALOG_DB_NAME", &c.Postgres.DBName)
	str("CATALOG_REDIS_ADDR", &c.Redis.Addr)
	str("CATALOG_NATS_URL", &c.NATS.URL)
	str("CATALOG_SESSION_SECRET", &c.Session.Secret)
	str("CATALOG_PRODUCTS_BLOB", &c.Catalog.ProductsBlob)

	if v, ok := lookup("CATALOG_DB_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse CATALOG_DB_PORT: %w", err)
		}
		c.Postgres.Port = port
	}

	return nil
}

// Validate 檢查配置是否合法
func (c *Config) Validate() error {
	var errs []error

	if c.Catalog.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("catalog.page_size must be positive, got %d", c.Catalog.PageSize))
	}
	if c.Catalog.CommentPreview < 0 {
		errs = append(errs, fmt.Errorf("catalog.comment_preview must not be negative, got %d", c.Catalog.CommentPreview))
	}
	if c.Postgres.MaxConns <= 0 {
		errs = append(errs, fmt.Errorf("postgres.max_conns must be positive, got %d", c.Postgres.MaxConns))
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		errs = append(errs, fmt.Errorf("postgres.min_conns (%d) exceeds max_conns (%d)", c.Postgres.MinConns, c.Postgres.MaxConns))
	}
	if c.Session.Secret == "" {
		errs = append(errs, errors.New("session.secret must not be empty"))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr must not be empty"))
	}

	return errors.Join(errs...)
}

// PostgresDSN 生成 PostgreSQL 連線字串（pgx 使用）
func (c *Config) PostgresDSN() string {
	if c.Postgres.DSN != "" {
		return c.Postgres.DSN
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

// PostgresURL 生成 URL 形式的連線字串（golang-migrate 使用）
func (c *Config) PostgresURL() string {
	if c.Postgres.DSN != "" && strings.Contains(c.Postgres.DSN, "://") {
		return c.Postgres.DSN
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     fmt.Sprintf("%s:%d", c.Postgres.Host, c.Postgres.Port),
		Path:     "/" + c.Postgres.DBName,
		RawQuery: "sslmode=" + c.Postgres.SSLMode,
	}
	return u.String()
}
