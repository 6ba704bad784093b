// Package database 提供 PostgreSQL 連線管理
//
// 連線模型：
//
//	一個請求 = 一個 Scope = 最多一條連線
//
// 原本的做法是每個 worker 執行緒在 thread-local 變數裡懶建立一條連線並永久持有。
// 這裡改成明確的作用域：handler 在請求開始時建立 Scope，第一次需要資料庫時才從
// pgxpool 取得連線並在 Scope 內重用，請求結束時 defer Close() 歸還。
//
//  1. 連線不跨請求共享 → 不需要連線層級的鎖
//  2. 連線總數 = pool.MaxConns（由部署配置限制，等同 worker 數上限）
//  3. 取得連線失敗直接回報給呼叫端，這一層不重試
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrScopeClosed Scope 已關閉後再取連線
var ErrScopeClosed = errors.New("database: scope closed")

// Querier 查詢介面
//
// *pgxpool.Conn、*pgxpool.Pool、pgx.Tx 都滿足此介面。
// 讀取路徑的元件只依賴這三個方法，不關心連線從哪裡來。
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pooledConn 可歸還的連線
type pooledConn interface {
	Querier
	Release()
}

// acquireFunc 從連線池取得連線
type acquireFunc func(ctx context.Context) (pooledConn, error)

// Provider 連線提供者
type Provider struct {
	pool    *pgxpool.Pool
	acquire acquireFunc
	logger  *slog.Logger

	acquired atomic.Int64
	released atomic.Int64
}

// NewProvider 創建連線提供者
func NewProvider(pool *pgxpool.Pool, logger *slog.Logger) *Provider {
	return newProvider(pool, func(ctx context.Context) (pooledConn, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}, logger)
}

func newProvider(pool *pgxpool.Pool, acquire acquireFunc, logger *slog.Logger) *Provider {
	return &Provider{
		pool:    pool,
		acquire: acquire,
		logger:  logger,
	}
}

// Pool 返回底層連線池（健康檢查與啟動載入使用）
func (p *Provider) Pool() *pgxpool.Pool {
	return p.pool
}

// Scope 建立一個請求作用域
func (p *Provider) Scope() *Scope {
	return &Scope{provider: p}
}

// With 在新的 Scope 中執行 fn，結束時保證歸還連線
func (p *Provider) With(ctx context.Context, fn func(q Querier) error) error {
	scope := p.Scope()
	defer scope.Close()

	q, err := scope.Conn(ctx)
	if err != nil {
		return err
	}
	return fn(q)
}

// Stats 連線取得/歸還次數
type Stats struct {
	Acquired int64
	Released int64
}

// Stats 返回統計資訊
func (p *Provider) Stats() Stats {
	return Stats{
		Acquired: p.acquired.Load(),
		Released: p.released.Load(),
	}
}

// Scope 請求作用域內的連線
//
// 第一次呼叫 Conn 時取得連線並記住，之後同一個 Scope 內的呼叫都回傳同一條連線。
// 取得失敗不會被記住：同一個 Scope 之後再呼叫會重新嘗試。
type Scope struct {
	provider *Provider

	mu     sync.Mutex
	conn   pooledConn
	closed bool
}

// Conn 返回此作用域的連線，必要時懶建立
func (s *Scope) Conn(ctx context.Context) (Querier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrScopeClosed
	}
	if s.conn != nil {
		return s.conn, nil
	}

	conn, err := s.provider.acquire(ctx)
	if err != nil {
		s.provider.logger.Error("acquire connection failed", "error", err)
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	s.provider.acquired.Add(1)
	s.conn = conn
	return conn, nil
}

// Acquired 是否已取得連線
func (s *Scope) Acquired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close 歸還連線（可重複呼叫）
func (s *Scope) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	if s.conn != nil {
		s.conn.Release()
		s.conn = nil
		s.provider.released.Add(1)
	}
}
