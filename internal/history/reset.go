package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/database"
)

// ResetLimits 初始資料的最大 id；超過的列在重置時刪除
type ResetLimits struct {
	Users     int64
	Products  int64
	Comments  int64
	Histories int64
}

// DefaultResetLimits 初始資料集的大小
var DefaultResetLimits = ResetLimits{
	Users:     5000,
	Products:  10000,
	Comments:  200000,
	Histories: 500000,
}

// Reset 刪除基準測試期間新增的資料
//
// 刪除順序先子表後父表（histories、comments 參照 users、products）。
// 表名是常數，id 上限以參數綁定。
func Reset(ctx context.Context, q database.Querier, limits ResetLimits, logger *slog.Logger) error {
	steps := []struct {
		table string
		max   int64
	}{
		{"histories", limits.Histories},
		{"comments", limits.Comments},
		{"products", limits.Products},
		{"users", limits.Users},
	}

	batch := &pgx.Batch{}
	for _, s := range steps {
		batch.Queue(deleteAbove(s.table), s.max)
	}

	conn, ok := q.(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		for _, s := range steps {
			tag, err := q.Exec(ctx, deleteAbove(s.table), s.max)
			if err != nil {
				return fmt.Errorf("reset %s: %w", s.table, err)
			}
			logger.Info("table reset", "table", s.table, "deleted", tag.RowsAffected())
		}
		return nil
	}

	results := conn.SendBatch(ctx, batch)
	defer results.Close()

	for _, s := range steps {
		tag, err := results.Exec()
		if err != nil {
			return fmt.Errorf("reset %s: %w", s.table, err)
		}
		logger.Info("table reset", "table", s.table, "deleted", tag.RowsAffected())
	}
	return nil
}

func deleteAbove(table string) string {
	return "DELETE FROM " + pgx.Identifier{table}.Sanitize() + " WHERE id > $1"
}
