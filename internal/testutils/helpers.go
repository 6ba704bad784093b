package testutils

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/catalog"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/config"
	"github.com/koopa0/system-design/14-catalog-read-path/pkg/logger"
)

// BaseTime 種子資料的基準時間
var BaseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultTestConfig 返回測試用的預設配置
func DefaultTestConfig() *config.Config {
	cfg := config.Default()

	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 1

	cfg.Catalog.WarmCache = true
	cfg.Catalog.ProductCacheLookup = true

	cfg.Log.Level = "warn"
	cfg.Log.Format = "text"

	return cfg
}

// NewTestLogger 丟棄輸出的日誌記錄器
func NewTestLogger() *slog.Logger {
	return logger.NewWithWriter(io.Discard, logger.Options{Level: "debug"})
}

// SampleProducts 產生 id 為 1..n 的商品
func SampleProducts(n int) []catalog.Product {
	products := make([]catalog.Product, n)
	for i := range products {
		id := int64(i + 1)
		products[i] = catalog.Product{
			ID:          id,
			Name:        fmt.Sprintf("product %d", id),
			Description: fmt.Sprintf("description of product %d", id),
			ImagePath:   fmt.Sprintf("/images/image%d.jpg", id%5),
			Price:       id * 100,
			CreatedAt:   BaseTime.Add(time.Duration(id) * time.Minute),
		}
	}
	return products
}

// SampleUsers 產生 id 為 1..n 的用戶，密碼為 password<id>
func SampleUsers(n int) []catalog.User {
	users := make([]catalog.User, n)
	for i := range users {
		id := int64(i + 1)
		users[i] = catalog.User{
			ID:        id,
			Name:      fmt.Sprintf("user %d", id),
			Email:     fmt.Sprintf("user%d@example.com", id),
			Password:  fmt.Sprintf("password%d", id),
			LastLogin: BaseTime,
		}
	}
	return users
}

// MakeHTTPRequest 執行 HTTP 請求的輔助函數
func MakeHTTPRequest(t testing.TB, handler http.Handler, method, path string, body io.Reader, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for _, c := range cookies {
		req.AddCookie(c)
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	return recorder
}

// PostForm 以 application/x-www-form-urlencoded 送出表單
func PostForm(t testing.TB, handler http.Handler, path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	return recorder
}

// ParseJSONResponse 解析 JSON 響應
func ParseJSONResponse(t testing.TB, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()

	err := json.NewDecoder(recorder.Body).Decode(target)
	require.NoError(t, err, "failed to parse JSON response")
}

// RunConcurrently 並發執行測試函數
func RunConcurrently(t testing.TB, concurrency int, iterations int, fn func(workerID, iteration int)) {
	t.Helper()

	done := make(chan struct{})
	for i := 0; i < concurrency; i++ {
		workerID := i
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < iterations; j++ {
				fn(workerID, j)
			}
		}()
	}

	// 等待所有 goroutine 完成
	for i := 0; i < concurrency; i++ {
		<-done
	}
}
