// Package handler HTTP 介面
//
// handler 只是薄薄的膠水層：解析參數、管理 session、呼叫讀取路徑的元件、輸出 JSON。
// 分頁的 offset 計算與登入狀態屬於這一層。
//
// 資料庫連線：每個請求建立一個 database.Scope，第一次需要時才取連線，
// 請求結束時 defer Close() 歸還，不論成功或失敗。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/sessions"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/cache"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/catalog"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/comments"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/database"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/events"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/history"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/refstore"
	apperrors "github.com/koopa0/system-design/14-catalog-read-path/pkg/errors"
	"github.com/koopa0/system-design/14-catalog-read-path/pkg/logger"
)

const sessionUserKey = "user_id"

// Options handler 設定
type Options struct {
	PageSize           int
	SessionName        string
	ProductCacheLookup bool
	ResetLimits        history.ResetLimits
}

// Deps handler 依賴
type Deps struct {
	Store     *refstore.Store
	Cache     *cache.Facade
	Conns     *database.Provider
	Batcher   *comments.Batcher
	Publisher events.Publisher
	Sessions  sessions.Store

	// Checks 就緒檢查（名稱 → 檢查函數）
	Checks map[string]func(ctx context.Context) error

	Logger *slog.Logger
}

// Handler HTTP 請求處理器
type Handler struct {
	Deps
	opts Options
	now  func() time.Time
}

// New 創建 HTTP 處理器
func New(deps Deps, opts Options) *Handler {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.SessionName == "" {
		opts.SessionName = "catalog.session"
	}
	if opts.ResetLimits == (history.ResetLimits{}) {
		opts.ResetLimits = history.DefaultResetLimits
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}

	return &Handler{
		Deps: deps,
		opts: opts,
		now:  time.Now,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈：恢復 -> 日誌 -> 業務處理
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("GET /{$}", wrap(h.index))
	mux.HandleFunc("GET /products/{id}", wrap(h.product))
	mux.HandleFunc("GET /users/{id}", wrap(h.userPage))
	mux.HandleFunc("POST /products/buy/{id}", wrap(h.buy))
	mux.HandleFunc("POST /comments/{id}", wrap(h.comment))

	mux.HandleFunc("POST /login", wrap(h.login))
	mux.HandleFunc("GET /logout", wrap(h.logout))
	mux.HandleFunc("GET /initialize", wrap(h.initialize))

	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /ready", wrap(h.ready))

	return mux
}

// 響應結構
type productView struct {
	catalog.Product
	CommentCount int64             `json:"comment_count"`
	Comments     []catalog.Comment `json:"comments"`
}

type indexResponse struct {
	Page        int           `json:"page"`
	Products    []productView `json:"products"`
	CurrentUser *catalog.User `json:"current_user,omitempty"`
}

type productResponse struct {
	Product       catalog.Product `json:"product"`
	AlreadyBought bool            `json:"already_bought"`
	CurrentUser   *catalog.User   `json:"current_user,omitempty"`
}

type userPageResponse struct {
	User     catalog.User               `json:"user"`
	Products []catalog.PurchasedProduct `json:"products"`
	TotalPay int64                      `json:"total_pay"`
}

// index 首頁：一頁商品 + 每個商品的留言數與最新留言
//
// 資料庫查詢次數固定為 2（批次留言 + 批次留言數），與頁面大小無關。
func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page := parsePage(r.URL.Query().Get("page"))

	products := h.Store.Page(page, h.opts.PageSize)
	ids := refstore.ProductIDs(products)

	scope := h.Conns.Scope()
	defer scope.Close()

	agg, err := h.pageAggregates(ctx, scope, ids)
	if err != nil {
		h.Logger.ErrorContext(ctx, "page aggregates failed", "page", page, "error", err)
		h.respondError(w, err)
		return
	}

	views := make([]productView, len(products))
	for i, p := range products {
		views[i] = productView{
			Product:      p,
			CommentCount: agg.CountFor(p.ID),
			Comments:     agg.CommentsFor(p.ID),
		}
	}

	h.respondJSON(w, indexResponse{
		Page:        page,
		Products:    views,
		CurrentUser: h.currentUser(r),
	})
}

func (h *Handler) pageAggregates(ctx context.Context, scope *database.Scope, ids []int64) (*comments.PageAggregates, error) {
	if len(ids) == 0 {
		// 不需要連線：批次器對空列表直接返回空結果
		return h.Batcher.ForProducts(ctx, nil, ids)
	}

	q, err := scope.Conn(ctx)
	if err != nil {
		return nil, apperrors.ErrDatabaseUnavailable.WithCause(err)
	}
	return h.Batcher.ForProducts(ctx, q, ids)
}

// product 商品頁
//
// 優先讀預熱過的共享快取；快取錯誤或未命中時退回記憶體索引。
// 快取在這裡只是最佳化，不影響正確性。
func (h *Handler) product(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}

	p, ok := h.lookupProduct(ctx, id)
	if !ok {
		h.respondError(w, apperrors.ErrProductNotFound)
		return
	}

	resp := productResponse{Product: p}

	if user := h.currentUser(r); user != nil {
		resp.CurrentUser = user

		scope := h.Conns.Scope()
		defer scope.Close()

		q, err := scope.Conn(ctx)
		if err != nil {
			h.respondError(w, apperrors.ErrDatabaseUnavailable.WithCause(err))
			return
		}
		bought, err := history.HasBought(ctx, q, id, user.ID)
		if err != nil {
			h.Logger.ErrorContext(ctx, "already bought check failed", "product", id, "error", err)
			h.respondError(w, err)
			return
		}
		resp.AlreadyBought = bought
	}

	h.respondJSON(w, resp)
}

func (h *Handler) lookupProduct(ctx context.Context, id int64) (catalog.Product, bool) {
	if h.opts.ProductCacheLookup && h.Cache != nil {
		p, found, err := h.Cache.Product(ctx, id)
		switch {
		case err != nil:
			h.Logger.WarnContext(ctx, "product cache lookup failed, using reference store", "product", id, "error", err)
		case found:
			return p, true
		}
	}
	return h.Store.Product(id)
}

// userPage 用戶頁：購買紀錄（新到舊）與購買總額
func (h *Handler) userPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}

	user, ok := h.Store.User(id)
	if !ok {
		h.respondError(w, apperrors.ErrUserNotFound)
		return
	}

	scope := h.Conns.Scope()
	defer scope.Close()

	q, err := scope.Conn(ctx)
	if err != nil {
		h.respondError(w, apperrors.ErrDatabaseUnavailable.WithCause(err))
		return
	}

	list, err := history.ListByUser(ctx, q, id)
	if err != nil {
		h.Logger.ErrorContext(ctx, "list histories failed", "user", id, "error", err)
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, userPageResponse{
		User:     user,
		Products: list,
		TotalPay: history.TotalPay(list),
	})
}

// buy 購買商品（需登入）
func (h *Handler) buy(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	productID, err := pathID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if _, ok := h.Store.Product(productID); !ok {
		h.respondError(w, apperrors.ErrProductNotFound)
		return
	}

	now := h.now()
	var historyID int64
	err = h.Conns.With(ctx, func(q database.Querier) error {
		var err error
		historyID, err = history.Record(ctx, q, productID, user.ID, now)
		return err
	})
	if err != nil {
		h.Logger.ErrorContext(ctx, "buy failed", "product", productID, "error", err)
		h.respondError(w, err)
		return
	}

	h.publish(ctx, events.Event{
		Kind:      events.KindPurchaseCreated,
		ID:        historyID,
		ProductID: productID,
		UserID:    user.ID,
		CreatedAt: now.UTC(),
	})

	http.Redirect(w, r, "/users/"+strconv.FormatInt(user.ID, 10), http.StatusSeeOther)
}

// comment 新增留言（需登入）
func (h *Handler) comment(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	productID, err := pathID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if _, ok := h.Store.Product(productID); !ok {
		h.respondError(w, apperrors.ErrProductNotFound)
		return
	}

	content := r.FormValue("content")
	if content == "" {
		h.respondError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "content required"))
		return
	}

	now := h.now()
	var commentID int64
	err = h.Conns.With(ctx, func(q database.Querier) error {
		var err error
		commentID, err = comments.Create(ctx, q, productID, user.ID, content, now)
		return err
	})
	if err != nil {
		h.Logger.ErrorContext(ctx, "create comment failed", "product", productID, "error", err)
		h.respondError(w, err)
		return
	}

	h.publish(ctx, events.Event{
		Kind:      events.KindCommentCreated,
		ID:        commentID,
		ProductID: productID,
		UserID:    user.ID,
		CreatedAt: now.UTC(),
	})

	http.Redirect(w, r, "/users/"+strconv.FormatInt(user.ID, 10), http.StatusSeeOther)
}

// login 以 email + 密碼登入，成功後寫入 session
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, _ := h.Sessions.Get(r, h.opts.SessionName)

	user, err := h.Store.Authenticate(r.FormValue("email"), r.FormValue("password"))
	if err != nil {
		delete(session.Values, sessionUserKey)
		if saveErr := session.Save(r, w); saveErr != nil {
			h.Logger.WarnContext(ctx, "save session failed", "error", saveErr)
		}
		h.respondError(w, err)
		return
	}

	session.Values[sessionUserKey] = user.ID
	if err := session.Save(r, w); err != nil {
		h.Logger.ErrorContext(ctx, "save session failed", "error", err)
		h.respondError(w, apperrors.Wrap(err, apperrors.ErrCodeInternal, "session save failed"))
		return
	}

	h.Logger.InfoContext(ctx, "user logged in", "user", user.ID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// logout 清除 session
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	session, _ := h.Sessions.Get(r, h.opts.SessionName)
	delete(session.Values, sessionUserKey)
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		h.Logger.WarnContext(r.Context(), "clear session failed", "error", err)
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// initialize 刪除基準測試期間新增的資料
func (h *Handler) initialize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	err := h.Conns.With(ctx, func(q database.Querier) error {
		return history.Reset(ctx, q, h.opts.ResetLimits, h.Logger)
	})
	if err != nil {
		h.Logger.ErrorContext(ctx, "initialize failed", "error", err)
		h.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Finish"))
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ready 就緒檢查
func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			h.Logger.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
			h.respondError(w, apperrors.New(apperrors.ErrCodeUnavailable, name+" not ready"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

// currentUser 從 session 取出登入用戶；未登入返回 nil
func (h *Handler) currentUser(r *http.Request) *catalog.User {
	session, err := h.Sessions.Get(r, h.opts.SessionName)
	if err != nil {
		return nil
	}
	id, ok := session.Values[sessionUserKey].(int64)
	if !ok {
		return nil
	}
	user, ok := h.Store.User(id)
	if !ok {
		return nil
	}
	return &user
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (*catalog.User, bool) {
	user := h.currentUser(r)
	if user == nil {
		h.respondError(w, apperrors.ErrPermissionDenied)
		return nil, false
	}
	*r = *r.WithContext(logger.WithUserID(r.Context(), user.ID))
	return user, true
}

func (h *Handler) publish(ctx context.Context, e events.Event) {
	e.RequestID = logger.RequestID(ctx)
	if err := h.Publisher.Publish(ctx, e); err != nil {
		h.Logger.WarnContext(ctx, "publish event failed", "kind", e.Kind, "error", err)
	}
}

// parsePage 解析頁碼；缺少、無法解析或負數都視為 0
func parsePage(raw string) int {
	if raw == "" {
		return 0
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 0 {
		return 0
	}
	return page
}

// pathID 解析路徑中的 {id}
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.ErrInvalidID.WithDetails(r.PathValue("id"))
	}
	return id, nil
}
