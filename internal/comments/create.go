package comments

import (
	"context"
	"fmt"
	"time"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/database"
)

const insertComment = `
	INSERT INTO comments (product_id, user_id, content, created_at)
	VALUES ($1, $2, $3, $4)
	RETURNING id
`

// Create 新增留言
//
// 所有值都以參數綁定，content 來自使用者輸入。
func Create(ctx context.Context, q database.Querier, productID, userID int64, content string, now time.Time) (int64, error) {
	var id int64
	if err := q.QueryRow(ctx, insertComment, productID, userID, content, now.UTC()).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert comment: %w", err)
	}
	return id, nil
}
