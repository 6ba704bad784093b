package handler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/cache"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/comments"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/database"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/events"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/handler"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/refstore"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/testutils"
	apperrors "github.com/koopa0/system-design/14-catalog-read-path/pkg/errors"
)

// recordingPublisher 記錄發布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) all() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

type productResponse struct {
	Product struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Price int64  `json:"price"`
	} `json:"product"`
	AlreadyBought bool `json:"already_bought"`
	CurrentUser   *struct {
		ID int64 `json:"id"`
	} `json:"current_user"`
}

type indexResponse struct {
	Page     int `json:"page"`
	Products []struct {
		ID           int64 `json:"id"`
		CommentCount int64 `json:"comment_count"`
		Comments     []struct {
			ID       int64  `json:"id"`
			Content  string `json:"content"`
			UserName string `json:"user_name"`
		} `json:"comments"`
	} `json:"products"`
	CurrentUser *struct {
		ID int64 `json:"id"`
	} `json:"current_user"`
}

type userPageResponse struct {
	User struct {
		ID int64 `json:"id"`
	} `json:"user"`
	Products []struct {
		ID int64 `json:"id"`
	} `json:"products"`
	TotalPay int64 `json:"total_pay"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

func newSessionStore() sessions.Store {
	return sessions.NewCookieStore([]byte("test-session-secret-0123456789abcdef"))
}

// newUnitHandler 不連資料庫的 handler；只能測不需要連線的路徑
func newUnitHandler(t *testing.T, backend cache.Backend) (http.Handler, *recordingPublisher) {
	t.Helper()

	log := testutils.NewTestLogger()
	store, err := refstore.FromSnapshot(testutils.SampleProducts(120), testutils.SampleUsers(3))
	require.NoError(t, err)

	facade := cache.New(backend, log)
	require.NoError(t, facade.WarmProducts(context.Background(), store.Products()))

	publisher := &recordingPublisher{}
	h := handler.New(handler.Deps{
		Store:     store,
		Cache:     facade,
		Conns:     database.NewProvider(nil, log),
		Batcher:   comments.NewBatcher(log),
		Publisher: publisher,
		Sessions:  newSessionStore(),
		Logger:    log,
	}, handler.Options{
		PageSize:           50,
		ProductCacheLookup: true,
	})

	return h.Routes(), publisher
}

func login(t *testing.T, routes http.Handler, email, password string) []*http.Cookie {
	t.Helper()

	rec := testutils.PostForm(t, routes, "/login", url.Values{
		"email":    {email},
		"password": {password},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, "/", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies
}

func TestHandler_Health(t *testing.T) {
	routes, _ := newUnitHandler(t, testutils.NewMockBackend())

	rec := testutils.MakeHTTPRequest(t, routes, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(handler.RequestIDHeader))
}

func TestHandler_RequestIDPropagated(t *testing.T) {
	routes, _ := newUnitHandler(t, testutils.NewMockBackend())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(handler.RequestIDHeader, "upstream-id")
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-id", rec.Header().Get(handler.RequestIDHeader))

	first := testutils.MakeHTTPRequest(t, routes, http.MethodGet, "/health", nil)
	second := testutils.MakeHTTPRequest(t, routes, http.MethodGet, "/health", nil)
	assert.NotEqual(t,
		first.Header().Get(handler.RequestIDHeader),
		second.Header().Get(handler.RequestIDHeader),
		"fresh id per request")
}

func TestHandler_Ready(t *testing.T) {
	log := testutils.NewTestLogger()
	store, err := refstore.FromSnapshot(nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name           string
		checks         map[string]func(context.Context) error
		expectedStatus int
	}{
		{
			name: "all checks pass",
			checks: map[string]func(context.Context) error{
				"redis": func(context.Context) error { return nil },
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "a check fails",
			checks: map[string]func(context.Context) error{
				"postgres": func(context.Context) error { return errors.New("down") },
			},
			expectedStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handler.New(handler.Deps{
				Store:    store,
				Conns:    database.NewProvider(nil, log),
				Batcher:  comments.NewBatcher(log),
				Sessions: newSessionStore(),
				Checks:   tt.checks,
				Logger:   log,
			}, handler.Options{})

			rec := testutils.MakeHTTPRequest(t, h.Routes(), http.MethodGet, "/ready", nil)
			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}

// TestHandler_IndexBeyondLastPage 超出範圍的頁面：空列表，不取連線
func TestHandler_IndexBeyondLastPage(t *testing.T) {
	routes, _ := newUnitHandler(t, testutils.NewMockBackend())

	rec := testutils.MakeHTTPRequest(t, routes, http.MethodGet, "/?page=10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp indexResponse
	testutils.ParseJSONResponse(t, rec, &resp)
	assert.Equal(t, 10, resp.Page)
	assert.Empty(t, resp.Products)
	assert.Nil(t, resp.CurrentUser)
}

func TestHandler_Product(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		getErr         error
		expectedStatus int
		expectedID     int64
		expectedCode   string
	}{
		{name: "served from cache", path: "/products/42", expectedStatus: http.StatusOK, expectedID: 42},
		{name: "cache failure falls back", path: "/products/42", getErr: apperrors.ErrCacheUnavailable, expectedStatus: http.StatusOK, expectedID: 42},
		{name: "unknown product", path: "/products/9999", expectedStatus: http.StatusNotFound, expectedCode: apperrors.ErrCodeNotFound},
		{name: "non numeric id", path: "/products/abc", expectedStatus: http.StatusBadRequest, expectedCode: apperrors.ErrCodeInvalidInput},
		{name: "zero id", path: "/products/0", expectedStatus: http.StatusBadRequest, expectedCode: apperrors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := testutils.NewMockBackend()
			routes, _ := newUnitHandler(t, backend)
			backend.GetErr = tt.getErr

			rec := testutils.MakeHTTPRequest(t, routes, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())

			if tt.expectedCode != "" {
				var resp errorResponse
				testutils.ParseJSONResponse(t, rec, &resp)
				assert.False(t, resp.Success)
				assert.Equal(t, tt.expectedCode, resp.Code)
				return
			}

			var resp productResponse
			testutils.ParseJSONResponse(t, rec, &resp)
			assert.Equal(t, tt.expectedID, resp.Product.ID)
			assert.Equal(t, fmt.Sprintf("product %d", tt.expectedID), resp.Product.Name)
			assert.False(t, resp.AlreadyBought)
			assert.Nil(t, resp.CurrentUser)
		})
	}
}

func TestHandler_ProductReadsCache(t *testing.T) {
	backend := testutils.NewMockBackend()
	routes, _ := newUnitHandler(t, backend)
	before := backend.GetCalls.Load()

	rec := testutils.MakeHTTPRequest(t, routes, http.MethodGet, "/products/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, before+1, backend.GetCalls.Load())
}

func TestHandler_Login(t *testing.T) {
	routes, _ := newUnitHandler(t, testutils.NewMockBackend())

	t.Run("valid credentials set a session", func(t *testing.T) {
		cookies := login(t, routes, "user1@example.com", "password1")

		rec := testutils.MakeHTTPRequest(t, routes, http.MethodGet, "/?page=10", nil, cookies...)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp indexResponse
		testutils.ParseJSONResponse(t, rec, &resp)
		require.NotNil(t, resp.CurrentUser)
		assert.Equal(t, int64(1), resp.CurrentUser.ID)
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		rec := testutils.PostForm(t, routes, "/login", url.Values{
			"email":    {"user1@example.com"},
			"password": {"nope"},
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		var resp errorResponse
		testutils.ParseJSONResponse(t, rec, &resp)
		assert.Equal(t, apperrors.ErrCodeUnauthorized, resp.Code)
	})

	t.Run("logout clears the session", func(t *testing.T) {
		cookies := login(t, routes, "user2@example.com", "password2")

		rec := testutils.MakeHTTPRequest(t, routes, http.MethodGet, "/logout", nil, cookies...)
		require.Equal(t, http.StatusSeeOther, rec.Code)

		cleared := rec.Result().Cookies()
		require.NotEmpty(t, cleared)

		rec = testutils.MakeHTTPRequest(t, routes, http.MethodGet, "/?page=10", nil, cleared...)
		var resp indexResponse
		testutils.ParseJSONResponse(t, rec, &resp)
		assert.Nil(t, resp.CurrentUser)
	})

	t.Run("forged cookie is ignored", func(t *testing.T) {
		forged := &http.Cookie{Name: "catalog.session", Value: "forged"}

		rec := testutils.MakeHTTPRequest(t, routes, http.MethodGet, "/?page=10", nil, forged)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp indexResponse
		testutils.ParseJSONResponse(t, rec, &resp)
		assert.Nil(t, resp.CurrentUser)
	})
}

func TestHandler_WritesRequireLogin(t *testing.T) {
	routes, publisher := newUnitHandler(t, testutils.NewMockBackend())

	for _, path := range []string{"/products/buy/1", "/comments/1"} {
		t.Run(path, func(t *testing.T) {
			rec := testutils.PostForm(t, routes, path, url.Values{"content": {"hi"}})
			require.Equal(t, http.StatusForbidden, rec.Code)

			var resp errorResponse
			testutils.ParseJSONResponse(t, rec, &resp)
			assert.Equal(t, apperrors.ErrCodeForbidden, resp.Code)
		})
	}

	assert.Empty(t, publisher.all())
}

func TestHandler_WriteValidation(t *testing.T) {
	routes, publisher := newUnitHandler(t, testutils.NewMockBackend())
	cookies := login(t, routes, "user1@example.com", "password1")

	tests := []struct {
		name           string
		path           string
		form           url.Values
		expectedStatus int
	}{
		{name: "buy unknown product", path: "/products/buy/9999", expectedStatus: http.StatusNotFound},
		{name: "buy invalid id", path: "/products/buy/x", expectedStatus: http.StatusBadRequest},
		{name: "comment unknown product", path: "/comments/9999", form: url.Values{"content": {"hi"}}, expectedStatus: http.StatusNotFound},
		{name: "comment without content", path: "/comments/1", form: url.Values{}, expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutils.PostForm(t, routes, tt.path, tt.form, cookies...)
			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
		})
	}

	assert.Empty(t, publisher.all())
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	routes, _ := newUnitHandler(t, testutils.NewMockBackend())

	rec := testutils.MakeHTTPRequest(t, routes, http.MethodGet, "/products/buy/1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
