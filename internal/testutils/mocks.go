package testutils

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/database"
)

// MockBackend 實作 cache.Backend 的記憶體 mock
type MockBackend struct {
	mu   sync.RWMutex
	data map[string]string

	// 記錄呼叫次數
	GetCalls atomic.Int32
	SetCalls atomic.Int32

	// 錯誤注入
	GetErr error
	SetErr error
}

// NewMockBackend 創建 mock 快取後端
func NewMockBackend() *MockBackend {
	return &MockBackend{
		data: make(map[string]string),
	}
}

// Get 實作 Backend
func (m *MockBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.GetCalls.Add(1)

	if m.GetErr != nil {
		return "", false, m.GetErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	return v, ok, nil
}

// Set 實作 Backend
func (m *MockBackend) Set(_ context.Context, key, value string) error {
	m.SetCalls.Add(1)

	if m.SetErr != nil {
		return m.SetErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = value
	return nil
}

// Value 直接讀取（不計入呼叫次數）
func (m *MockBackend) Value(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	return v, ok
}

// Len 目前的鍵數量
func (m *MockBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// ErrUnexpectedQuery 不應該發生的查詢
var ErrUnexpectedQuery = errors.New("testutils: unexpected query")

// UnusedQuerier 任何呼叫都讓測試失敗
//
// 用來驗證某條路徑完全不碰資料庫。
type UnusedQuerier struct {
	T testing.TB
}

var _ database.Querier = UnusedQuerier{}

// Exec 實作 Querier
func (u UnusedQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	u.T.Errorf("unexpected Exec: %s", sql)
	return pgconn.CommandTag{}, ErrUnexpectedQuery
}

// Query 實作 Querier
func (u UnusedQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	u.T.Errorf("unexpected Query: %s", sql)
	return nil, ErrUnexpectedQuery
}

// QueryRow 實作 Querier
func (u UnusedQuerier) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	u.T.Errorf("unexpected QueryRow: %s", sql)
	return errRow{err: ErrUnexpectedQuery}
}

// FailingQuerier 每次呼叫都返回 Err，並記錄呼叫次數
type FailingQuerier struct {
	Err   error
	Calls atomic.Int32
}

var _ database.Querier = (*FailingQuerier)(nil)

// Exec 實作 Querier
func (f *FailingQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	f.Calls.Add(1)
	return pgconn.CommandTag{}, f.Err
}

// Query 實作 Querier
func (f *FailingQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	f.Calls.Add(1)
	return nil, f.Err
}

// QueryRow 實作 Querier
func (f *FailingQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	f.Calls.Add(1)
	return errRow{err: f.Err}
}

// CountingQuerier 包裝真實的 Querier 並計數
type CountingQuerier struct {
	Q     database.Querier
	Calls atomic.Int32
}

var _ database.Querier = (*CountingQuerier)(nil)

// Exec 實作 Querier
func (c *CountingQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.Calls.Add(1)
	return c.Q.Exec(ctx, sql, args...)
}

// Query 實作 Querier
func (c *CountingQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	c.Calls.Add(1)
	return c.Q.Query(ctx, sql, args...)
}

// QueryRow 實作 Querier
func (c *CountingQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	c.Calls.Add(1)
	return c.Q.QueryRow(ctx, sql, args...)
}

type errRow struct {
	err error
}

func (r errRow) Scan(...any) error {
	return r.err
}
