// Package history 購買紀錄的讀寫
//
// histories 是 append-only 表：購買時寫入一筆，用戶頁面依 user_id 讀取。
// 這部分不經過共享快取，每次都查資料庫（資料隨購買即時變動）。
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/catalog"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/database"
)

const insertHistory = `
	INSERT INTO histories (product_id, user_id, created_at)
	VALUES ($1, $2, $3)
	RETURNING id
`

// Record 新增購買紀錄
func Record(ctx context.Context, q database.Querier, productID, userID int64, now time.Time) (int64, error) {
	var id int64
	if err := q.QueryRow(ctx, insertHistory, productID, userID, now.UTC()).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert history: %w", err)
	}
	return id, nil
}

const selectByUser = `
	SELECT p.id, p.name, p.description, p.image_path, p.price, p.created_at, h.created_at
	FROM histories AS h
	JOIN products AS p ON h.product_id = p.id
	WHERE h.user_id = $1
	ORDER BY h.id DESC
`

// ListByUser 用戶的購買紀錄（新到舊）
func ListByUser(ctx context.Context, q database.Querier, userID int64) ([]catalog.PurchasedProduct, error) {
	rows, err := q.Query(ctx, selectByUser, userID)
	if err != nil {
		return nil, fmt.Errorf("query histories: %w", err)
	}

	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.PurchasedProduct, error) {
		var pp catalog.PurchasedProduct
		err := row.Scan(
			&pp.ID,
			&pp.Name,
			&pp.Description,
			&pp.ImagePath,
			&pp.Price,
			&pp.CreatedAt,
			&pp.BoughtAt,
		)
		return pp, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan histories: %w", err)
	}
	return list, nil
}

const countByProductUser = `
	SELECT count(*) FROM histories WHERE product_id = $1 AND user_id = $2
`

// HasBought 用戶是否買過此商品
func HasBought(ctx context.Context, q database.Querier, productID, userID int64) (bool, error) {
	var n int64
	if err := q.QueryRow(ctx, countByProductUser, productID, userID).Scan(&n); err != nil {
		return false, fmt.Errorf("count histories: %w", err)
	}
	return n > 0, nil
}

// TotalPay 購買總額
func TotalPay(list []catalog.PurchasedProduct) int64 {
	var total int64
	for _, pp := range list {
		total += pp.Price
	}
	return total
}
