package database

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

type traceKey struct{}

type counterKey struct{}

// Tracer 實作 pgx.QueryTracer
//
//  1. 慢查詢記錄（超過 slow 門檻以 Warn 輸出）
//  2. 全域查詢計數
//  3. 請求層級計數：context 帶有 QueryCounter 時一併累加
//
// 請求層級計數讓 logging middleware 可以記錄「這個頁面打了幾次資料庫」，
// 首頁的批次查詢不論頁面大小都應該是固定 2 次。
type Tracer struct {
	logger *slog.Logger
	slow   time.Duration

	queries atomic.Int64
	failed  atomic.Int64
}

// NewTracer 創建查詢追蹤器
func NewTracer(logger *slog.Logger, slow time.Duration) *Tracer {
	return &Tracer{
		logger: logger,
		slow:   slow,
	}
}

// TraceQueryStart 記錄開始時間
func (t *Tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, queryTrace{
		sql:   data.SQL,
		start: time.Now(),
	})
}

// TraceQueryEnd 累加計數並記錄慢查詢
func (t *Tracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	t.queries.Add(1)
	if counter, ok := ctx.Value(counterKey{}).(*QueryCounter); ok {
		counter.n.Add(1)
	}
	if data.Err != nil {
		t.failed.Add(1)
	}

	trace, ok := ctx.Value(traceKey{}).(queryTrace)
	if !ok {
		return
	}
	elapsed := time.Since(trace.start)

	if data.Err != nil {
		t.logger.DebugContext(ctx, "query failed",
			"sql", trace.sql,
			"duration", elapsed,
			"error", data.Err)
		return
	}

	if t.slow > 0 && elapsed >= t.slow {
		t.logger.WarnContext(ctx, "slow query",
			"sql", trace.sql,
			"duration", elapsed,
			"rows", data.CommandTag.RowsAffected())
	}
}

// Queries 返回累計查詢數
func (t *Tracer) Queries() int64 {
	return t.queries.Load()
}

// Failed 返回累計失敗查詢數
func (t *Tracer) Failed() int64 {
	return t.failed.Load()
}

type queryTrace struct {
	sql   string
	start time.Time
}

// QueryCounter 請求層級的查詢計數
type QueryCounter struct {
	n atomic.Int64
}

// Count 返回目前計數
func (c *QueryCounter) Count() int64 {
	return c.n.Load()
}

// WithQueryCounter 在 context 上掛載查詢計數器
func WithQueryCounter(ctx context.Context) (context.Context, *QueryCounter) {
	counter := &QueryCounter{}
	return context.WithValue(ctx, counterKey{}, counter), counter
}
