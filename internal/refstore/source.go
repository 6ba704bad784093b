package refstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/catalog"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/database"
)

// ProductSource 商品全集的來源
type ProductSource interface {
	LoadProducts(ctx context.Context) ([]catalog.Product, error)
}

// BlobSource 從商品快照檔讀取
//
// 快照是一個依 id 排序的 JSON 陣列，由 cmd/snapshot 產生。
type BlobSource struct {
	Path string
}

// LoadProducts 實作 ProductSource
func (b BlobSource) LoadProducts(ctx context.Context) ([]catalog.Product, error) {
	// #nosec G304 - 路徑來自配置
	f, err := os.Open(b.Path)
	if err != nil {
		return nil, fmt.Errorf("open products blob: %w", err)
	}
	defer f.Close()

	products, err := ReadBlob(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("read products blob %s: %w", b.Path, err)
	}
	return products, nil
}

// ReadBlob 解碼商品快照
func ReadBlob(r io.Reader) ([]catalog.Product, error) {
	var products []catalog.Product
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&products); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	if products == nil {
		return nil, fmt.Errorf("decode products: blob is null")
	}
	return products, nil
}

// WriteBlob 編碼商品快照（依傳入順序）
func WriteBlob(w io.Writer, products []catalog.Product) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(products); err != nil {
		return fmt.Errorf("encode products: %w", err)
	}
	return nil
}

// TableSource 從 products 表整表讀取
type TableSource struct {
	Q database.Querier
}

const selectProducts = `
	SELECT id, name, description, image_path, price, created_at
	FROM products
	ORDER BY id
`

// LoadProducts 實作 ProductSource
func (t TableSource) LoadProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := t.Q.Query(ctx, selectProducts)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}

	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Product, error) {
		var p catalog.Product
		err := row.Scan(&p.ID, &p.Name, &p.Description, &p.ImagePath, &p.Price, &p.CreatedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}
	return products, nil
}
