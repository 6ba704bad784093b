package handler_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/cache"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/comments"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/database"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/events"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/handler"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/refstore"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/testutils"
)

type integrationSetup struct {
	env       *testutils.TestEnvironment
	routes    http.Handler
	publisher *recordingPublisher
}

func setupIntegration(t *testing.T) *integrationSetup {
	t.Helper()

	env := testutils.SetupTestEnvironment(t)
	ctx := context.Background()

	env.SeedUsers(t, testutils.SampleUsers(3))
	env.SeedProducts(t, testutils.SampleProducts(120))
	env.SeedComment(t, 1, 2, "nice", testutils.BaseTime)

	facade := cache.New(cache.NewRedisBackend(env.RedisClient), env.Logger)

	var store *refstore.Store
	err := env.Provider.With(ctx, func(q database.Querier) error {
		var err error
		store, err = refstore.Load(ctx, refstore.LoadParams{
			Products: refstore.TableSource{Q: q},
			Users:    q,
			Cache:    facade,
			Logger:   env.Logger,
		})
		return err
	})
	require.NoError(t, err)

	publisher := &recordingPublisher{}
	h := handler.New(handler.Deps{
		Store:     store,
		Cache:     facade,
		Conns:     env.Provider,
		Batcher:   comments.NewBatcher(env.Logger, comments.WithPreviewLimit(5)),
		Publisher: publisher,
		Sessions:  newSessionStore(),
		Checks: map[string]func(context.Context) error{
			"redis":    func(ctx context.Context) error { return env.RedisClient.Ping(ctx).Err() },
			"postgres": env.PostgresPool.Ping,
		},
		Logger: env.Logger,
	}, handler.Options{
		PageSize:           50,
		ProductCacheLookup: true,
	})

	return &integrationSetup{
		env:       env,
		routes:    h.Routes(),
		publisher: publisher,
	}
}

func (s *integrationSetup) index(t *testing.T, page string, cookies ...*http.Cookie) indexResponse {
	t.Helper()

	rec := testutils.MakeHTTPRequest(t, s.routes, http.MethodGet, "/?page="+page, nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp indexResponse
	testutils.ParseJSONResponse(t, rec, &resp)
	return resp
}

// TestIntegration_IndexQueryCount 首頁查詢次數與頁面大小無關
func TestIntegration_IndexQueryCount(t *testing.T) {
	s := setupIntegration(t)

	for _, page := range []string{"0", "1", "2"} {
		before := s.env.Tracer.Queries()
		resp := s.index(t, page)
		assert.Equal(t, int64(2), s.env.Tracer.Queries()-before, "page %s", page)
		assert.NotEmpty(t, resp.Products)
	}

	// 超出範圍：不查詢
	before := s.env.Tracer.Queries()
	resp := s.index(t, "3")
	assert.Empty(t, resp.Products)
	assert.Equal(t, int64(0), s.env.Tracer.Queries()-before)

	assert.Equal(t, s.env.Provider.Stats().Acquired, s.env.Provider.Stats().Released, "every scope released")
}

func TestIntegration_IndexAggregates(t *testing.T) {
	s := setupIntegration(t)

	resp := s.index(t, "0")
	require.Len(t, resp.Products, 50)
	assert.Equal(t, int64(1), resp.Products[0].ID)
	assert.Equal(t, int64(50), resp.Products[49].ID)

	first := resp.Products[0]
	assert.Equal(t, int64(1), first.CommentCount)
	require.Len(t, first.Comments, 1)
	assert.Equal(t, "nice", first.Comments[0].Content)
	assert.Equal(t, "user 2", first.Comments[0].UserName)

	assert.Equal(t, int64(0), resp.Products[1].CommentCount)
	assert.Empty(t, resp.Products[1].Comments)

	last := s.index(t, "2")
	require.Len(t, last.Products, 20)
	assert.Equal(t, int64(101), last.Products[0].ID)
}

// TestIntegration_PurchaseFlow 登入 → 購買 → 用戶頁 → 留言
func TestIntegration_PurchaseFlow(t *testing.T) {
	s := setupIntegration(t)
	cookies := login(t, s.routes, "user1@example.com", "password1")

	// 購買前
	rec := testutils.MakeHTTPRequest(t, s.routes, http.MethodGet, "/products/5", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	var before productResponse
	testutils.ParseJSONResponse(t, rec, &before)
	assert.False(t, before.AlreadyBought)
	require.NotNil(t, before.CurrentUser)

	// 購買
	rec = testutils.PostForm(t, s.routes, "/products/buy/5", nil, cookies...)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, "/users/1", rec.Header().Get("Location"))

	rec = testutils.MakeHTTPRequest(t, s.routes, http.MethodGet, "/products/5", nil, cookies...)
	var after productResponse
	testutils.ParseJSONResponse(t, rec, &after)
	assert.True(t, after.AlreadyBought)

	// 用戶頁
	rec = testutils.MakeHTTPRequest(t, s.routes, http.MethodGet, "/users/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page userPageResponse
	testutils.ParseJSONResponse(t, rec, &page)
	assert.Equal(t, int64(1), page.User.ID)
	require.Len(t, page.Products, 1)
	assert.Equal(t, int64(5), page.Products[0].ID)
	assert.Equal(t, int64(500), page.TotalPay)

	// 留言
	rec = testutils.PostForm(t, s.routes, "/comments/5", url.Values{"content": {"great"}}, cookies...)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

	index := s.index(t, "0")
	assert.Equal(t, int64(1), index.Products[4].CommentCount)
	require.Len(t, index.Products[4].Comments, 1)
	assert.Equal(t, "great", index.Products[4].Comments[0].Content)

	// 事件
	published := s.publisher.all()
	require.Len(t, published, 2)
	assert.Equal(t, events.KindPurchaseCreated, published[0].Kind)
	assert.Equal(t, events.KindCommentCreated, published[1].Kind)
	for _, e := range published {
		assert.Equal(t, int64(5), e.ProductID)
		assert.Equal(t, int64(1), e.UserID)
		assert.Positive(t, e.ID)
		assert.NotEmpty(t, e.RequestID)
	}
}

func TestIntegration_UserPageNotFound(t *testing.T) {
	s := setupIntegration(t)

	rec := testutils.MakeHTTPRequest(t, s.routes, http.MethodGet, "/users/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIntegration_InitializeAndReady(t *testing.T) {
	s := setupIntegration(t)

	rec := testutils.MakeHTTPRequest(t, s.routes, http.MethodGet, "/initialize", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Finish", rec.Body.String())

	// 初始資料都在上限以內，不會被刪除
	resp := s.index(t, "0")
	assert.Equal(t, int64(1), resp.Products[0].CommentCount)

	rec = testutils.MakeHTTPRequest(t, s.routes, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestIntegration_ConcurrentIndex 並發請求各自取得並歸還連線
func TestIntegration_ConcurrentIndex(t *testing.T) {
	s := setupIntegration(t)

	before := s.env.Provider.Stats()

	testutils.RunConcurrently(t, 8, 10, func(_, _ int) {
		rec := testutils.MakeHTTPRequest(t, s.routes, http.MethodGet, "/?page=0", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	stats := s.env.Provider.Stats()
	assert.Equal(t, int64(80), stats.Acquired-before.Acquired)
	assert.Equal(t, stats.Acquired, stats.Released)
}
