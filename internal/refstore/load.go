package refstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/catalog"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/database"
	apperrors "github.com/koopa0/system-design/14-catalog-read-path/pkg/errors"
	"github.com/koopa0/system-design/14-catalog-read-path/pkg/logger"
)

// ProductWriter 預熱商品快取（*cache.Facade）
type ProductWriter interface {
	WarmProducts(ctx context.Context, products []catalog.Product) error
}

// LoadParams Load 的輸入
type LoadParams struct {
	// Products 商品全集來源（BlobSource 或 TableSource）
	Products ProductSource

	// Users 用於整表掃描 users
	Users database.Querier

	// Cache 為 nil 時跳過預熱
	Cache ProductWriter

	Logger *slog.Logger
}

const selectUsers = `
	SELECT id, name, email, password, last_login
	FROM users
	ORDER BY id
`

// Load 載入參考資料並建立不可變索引
//
// 執行順序：
//  1. 讀取商品全集 → 檢查（id 唯一、price >= 0）
//  2. 每個商品寫入 product_<id>（write-through 預熱）
//  3. 整表掃描 users → 建立 id / email 兩個索引
//
// 任何一步失敗都返回錯誤且不返回部分結果：
// 用不完整的參考資料服務會悄悄地產生錯誤頁面，所以呼叫端應視為致命錯誤。
func Load(ctx context.Context, params LoadParams) (*Store, error) {
	start := time.Now()
	log := params.Logger

	products, err := params.Products.LoadProducts(ctx)
	if err != nil {
		return nil, loadError("load products", err)
	}

	productsByID, err := indexProducts(products)
	if err != nil {
		return nil, loadError("index products", err)
	}

	if params.Cache != nil {
		if err := params.Cache.WarmProducts(ctx, products); err != nil {
			return nil, loadError("warm product cache", err)
		}
		log.Info("product cache warmed", "products", len(products))
	}

	users, usersByEmail, err := loadUsers(ctx, params.Users)
	if err != nil {
		return nil, loadError("load users", err)
	}

	store := &Store{
		users:        users,
		usersByEmail: usersByEmail,
		products:     products,
		productsByID: productsByID,
	}

	logger.Metrics(ctx, log, "load_reference_store", time.Since(start),
		slog.Int("products", len(products)),
		slog.Int("users", len(users)))

	return store, nil
}

// FromSnapshot 由現成資料建立 Store（測試與離線工具使用）
//
// 套用與 Load 相同的檢查。
func FromSnapshot(products []catalog.Product, users []catalog.User) (*Store, error) {
	productsByID, err := indexProducts(products)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]catalog.User, len(users))
	byEmail := make(map[string]catalog.User, len(users))
	for _, u := range users {
		if err := addUser(byID, byEmail, u); err != nil {
			return nil, err
		}
	}

	cp := make([]catalog.Product, len(products))
	copy(cp, products)

	return &Store{
		users:        byID,
		usersByEmail: byEmail,
		products:     cp,
		productsByID: productsByID,
	}, nil
}

func indexProducts(products []catalog.Product) (map[int64]int, error) {
	byID := make(map[int64]int, len(products))
	for i, p := range products {
		if p.Price < 0 {
			return nil, fmt.Errorf("product %d: negative price %d", p.ID, p.Price)
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("product %d: duplicate id", p.ID)
		}
		byID[p.ID] = i
	}
	return byID, nil
}

func loadUsers(ctx context.Context, q database.Querier) (map[int64]catalog.User, map[string]catalog.User, error) {
	rows, err := q.Query(ctx, selectUsers)
	if err != nil {
		return nil, nil, fmt.Errorf("query users: %w", err)
	}

	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.User, error) {
		var u catalog.User
		err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Password, &u.LastLogin)
		return u, err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan users: %w", err)
	}

	byID := make(map[int64]catalog.User, len(users))
	byEmail := make(map[string]catalog.User, len(users))
	for _, u := range users {
		if err := addUser(byID, byEmail, u); err != nil {
			return nil, nil, err
		}
	}

	return byID, byEmail, nil
}

// addUser 同時寫入兩個索引；id 或 email 重複視為資料錯誤
func addUser(byID map[int64]catalog.User, byEmail map[string]catalog.User, u catalog.User) error {
	if _, dup := byID[u.ID]; dup {
		return fmt.Errorf("user %d: duplicate id", u.ID)
	}
	if _, dup := byEmail[u.Email]; dup {
		return fmt.Errorf("user %d: duplicate email %q", u.ID, u.Email)
	}
	byID[u.ID] = u
	byEmail[u.Email] = u
	return nil
}

func loadError(step string, err error) error {
	return apperrors.ErrReferenceLoad.WithCause(fmt.Errorf("%s: %w", step, err))
}
