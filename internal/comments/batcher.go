// Package comments 頁面層級的留言聚合查詢
//
// 系統設計問題：
//
//	首頁一次顯示 50 個商品，每個商品要顯示留言數與最新留言。
//	逐一查詢 = 50 × 2 = 100 次資料庫往返。
//
// 設計方案：
//
//	✅ 一次查詢取得整頁所有留言（ORDER BY product_id, created_at DESC）
//	✅ 一次查詢取得整頁所有留言數（GROUP BY product_id）
//	✅ 在記憶體中依 product_id 分組，渲染時 O(1) 查找
//
// 效果：查詢次數固定為 2，與頁面大小無關。
package comments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/catalog"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/database"
)

// ErrEmptyIDList 空的 IN 列表
//
// 空 IN-list 在不同資料庫上可能是語法錯誤也可能什麼都不匹配，
// 所以 inList 拒絕產生；Batcher 在更上層直接短路。
var ErrEmptyIDList = errors.New("comments: empty id list")

// PageAggregates 一頁商品的留言聚合結果
type PageAggregates struct {
	// Comments product_id → 留言（新到舊）
	Comments map[int64][]catalog.Comment

	// Counts product_id → 留言數；每個請求的 id 都有值，沒有留言為 0
	Counts map[int64]int64

	preview int
}

// CommentsFor 返回商品的留言（新到舊）
//
// Batcher 設定了 preview 上限時最多返回前 preview 筆。
func (a *PageAggregates) CommentsFor(productID int64) []catalog.Comment {
	list := a.Comments[productID]
	if a.preview > 0 && len(list) > a.preview {
		return list[:a.preview]
	}
	return list
}

// CountFor 返回商品的留言數（沒有留言為 0）
func (a *PageAggregates) CountFor(productID int64) int64 {
	return a.Counts[productID]
}

// Option Batcher 選項
type Option func(*Batcher)

// WithPreviewLimit 每個商品最多顯示 n 筆留言（0 表示不限制）
//
// 只影響 CommentsFor，Counts 不受影響。
func WithPreviewLimit(n int) Option {
	return func(b *Batcher) {
		b.preview = n
	}
}

// Batcher 聚合查詢批次器
type Batcher struct {
	logger  *slog.Logger
	preview int
}

// NewBatcher 創建批次器
func NewBatcher(logger *slog.Logger, opts ...Option) *Batcher {
	b := &Batcher{logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ForProducts 取得一頁商品的留言與留言數
//
// 查詢次數：ids 非空時恰好 2 次，ids 為空時 0 次（返回空的 map）。
// 任一查詢或掃描失敗都返回錯誤，不返回部分結果：
// 寧可讓這次頁面失敗，也不要悄悄顯示不完整的聚合資料。
//
// ids 必須來自參考資料索引（已載入的商品 id），不可直接來自請求參數：
// 這兩個查詢把 id 直接拼進 SQL，只有 int64 型別保證了它不會被注入。
func (b *Batcher) ForProducts(ctx context.Context, q database.Querier, ids []int64) (*PageAggregates, error) {
	agg := &PageAggregates{
		Comments: make(map[int64][]catalog.Comment, len(ids)),
		Counts:   make(map[int64]int64, len(ids)),
		preview:  b.preview,
	}

	if len(ids) == 0 {
		return agg, nil
	}

	in, err := inList(ids)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	comments, err := fetchComments(ctx, q, in)
	if err != nil {
		return nil, err
	}

	counts, err := fetchCounts(ctx, q, in)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		agg.Counts[id] = 0
	}
	for id, n := range counts {
		agg.Counts[id] = n
	}
	agg.Comments = groupByProduct(comments, len(ids))

	b.logger.DebugContext(ctx, "page aggregates fetched",
		"products", len(ids),
		"comments", len(comments),
		"duration", time.Since(start))

	return agg, nil
}

// inList 產生 "1,2,3"
//
// 只接受 int64，輸出只含數字、負號與逗號。
func inList(ids []int64) (string, error) {
	if len(ids) == 0 {
		return "", ErrEmptyIDList
	}

	var sb strings.Builder
	sb.Grow(len(ids) * 6)
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(id, 10))
	}
	return sb.String(), nil
}

// commentsQuery 整頁留言
//
// ORDER BY product_id, created_at DESC：同一商品的留言連續排列且新到舊，
// 分組時不需要再排序。c.id DESC 讓同一時間戳的留言順序穩定。
func commentsQuery(in string) string {
	return `
		SELECT c.id, c.product_id, c.user_id, c.content, c.created_at, u.name
		FROM comments AS c
		JOIN users AS u ON u.id = c.user_id
		WHERE c.product_id IN (` + in + `)
		ORDER BY c.product_id, c.created_at DESC, c.id DESC
	`
}

// countsQuery 整頁留言數
func countsQuery(in string) string {
	return `
		SELECT product_id, COUNT(*) AS count
		FROM comments
		WHERE product_id IN (` + in + `)
		GROUP BY product_id
	`
}

func fetchComments(ctx context.Context, q database.Querier, in string) ([]catalog.Comment, error) {
	rows, err := q.Query(ctx, commentsQuery(in))
	if err != nil {
		return nil, fmt.Errorf("query page comments: %w", err)
	}

	comments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Comment, error) {
		var c catalog.Comment
		err := row.Scan(&c.ID, &c.ProductID, &c.UserID, &c.Content, &c.CreatedAt, &c.UserName)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan page comments: %w", err)
	}
	return comments, nil
}

func fetchCounts(ctx context.Context, q database.Querier, in string) (map[int64]int64, error) {
	rows, err := q.Query(ctx, countsQuery(in))
	if err != nil {
		return nil, fmt.Errorf("query comment counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int64)
	for rows.Next() {
		var productID, n int64
		if err := rows.Scan(&productID, &n); err != nil {
			return nil, fmt.Errorf("scan comment counts: %w", err)
		}
		counts[productID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read comment counts: %w", err)
	}
	return counts, nil
}

// groupByProduct 依 product_id 分組，保留輸入順序
func groupByProduct(comments []catalog.Comment, sizeHint int) map[int64][]catalog.Comment {
	grouped := make(map[int64][]catalog.Comment, sizeHint)
	for _, c := range comments {
		grouped[c.ProductID] = append(grouped[c.ProductID], c)
	}
	return grouped
}
