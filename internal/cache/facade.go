// Package cache 實作共享快取的 get-or-compute 外觀
//
// 快取策略：Cache-Aside + 啟動時 write-through 預熱
//
//	讀取：Get → 命中直接返回
//	      未命中 → compute() → Set（無 TTL）→ 返回
//
// 參考資料在程序生命週期內視為不可變，所以這裡沒有失效（invalidation）
// 也沒有過期（TTL）。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/catalog"
)

// productKeyPrefix 商品快取鍵前綴
const productKeyPrefix = "product_"

// warmBatchSize 預熱時每個 pipeline 的寫入數
const warmBatchSize = 100

// ProductKey 商品快取鍵：product_<id>
func ProductKey(id int64) string {
	return productKeyPrefix + strconv.FormatInt(id, 10)
}

// ComputeFunc 快取未命中時計算值
type ComputeFunc func(ctx context.Context) (string, error)

// batchSetter 支援批次寫入的後端（RedisBackend）
type batchSetter interface {
	SetMany(ctx context.Context, entries map[string]string) error
}

// Facade 共享快取外觀
//
// 併發語義（刻意接受的取捨）：
//
//	兩個 worker 同時未命中同一個 key 時，兩邊都會執行 compute 並各自寫入，
//	最後寫入者勝出。compute 必須是冪等的；重算一次的成本遠小於省下的資料庫往返。
//
//	若之後需要更強的保證，演進方向是 per-key 互斥的 single-flight，
//	讓同一個 key 同時只有一個 compute 在執行。
type Facade struct {
	backend Backend
	logger  *slog.Logger
}

// New 創建快取外觀
func New(backend Backend, logger *slog.Logger) *Facade {
	return &Facade{
		backend: backend,
		logger:  logger,
	}
}

// GetOrCompute 讀取 key，未命中時呼叫 compute 並寫入
//
//   - 命中：原樣返回，不寫入
//   - 未命中：compute 恰好呼叫一次，Set 恰好一次（無過期），返回計算值
//   - 空字串也會被寫入並在之後當成命中（沒有負向快取的特殊處理）
//   - 快取讀取失敗：返回錯誤，不呼叫 compute（是否改走直接計算由呼叫端決定）
//   - compute 失敗：返回錯誤，不寫入
func (f *Facade) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (string, error) {
	value, found, err := f.backend.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("cache get %s: %w", key, err)
	}
	if found {
		return value, nil
	}

	value, err = compute(ctx)
	if err != nil {
		return "", fmt.Errorf("compute %s: %w", key, err)
	}

	if err := f.backend.Set(ctx, key, value); err != nil {
		return "", fmt.Errorf("cache set %s: %w", key, err)
	}

	f.logger.DebugContext(ctx, "cache filled", "key", key)
	return value, nil
}

// SetProduct 將商品序列化後寫入 product_<id>
func (f *Facade) SetProduct(ctx context.Context, p catalog.Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode product %d: %w", p.ID, err)
	}

	if err := f.backend.Set(ctx, ProductKey(p.ID), string(data)); err != nil {
		return fmt.Errorf("cache product %d: %w", p.ID, err)
	}
	return nil
}

// WarmProducts 預熱：每個商品寫入一次
//
// 後端支援批次寫入時每 warmBatchSize 筆一個 pipeline，否則逐筆 SetProduct。
func (f *Facade) WarmProducts(ctx context.Context, products []catalog.Product) error {
	batcher, ok := f.backend.(batchSetter)
	if !ok {
		for _, p := range products {
			if err := f.SetProduct(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}

	entries := make(map[string]string, warmBatchSize)
	for i, p := range products {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode product %d: %w", p.ID, err)
		}
		entries[ProductKey(p.ID)] = string(data)

		if len(entries) == warmBatchSize || i == len(products)-1 {
			if err := batcher.SetMany(ctx, entries); err != nil {
				return fmt.Errorf("warm product cache: %w", err)
			}
			entries = make(map[string]string, warmBatchSize)
		}
	}

	return nil
}

// Product 從預熱過的快取讀取商品
//
// 未命中時 found = false。這條讀取路徑是選用的：
// 參考資料在記憶體裡已經有一份，handler 在快取錯誤時應退回記憶體索引。
func (f *Facade) Product(ctx context.Context, id int64) (catalog.Product, bool, error) {
	value, found, err := f.backend.Get(ctx, ProductKey(id))
	if err != nil {
		return catalog.Product{}, false, fmt.Errorf("cache get product %d: %w", id, err)
	}
	if !found {
		return catalog.Product{}, false, nil
	}

	var p catalog.Product
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		return catalog.Product{}, false, fmt.Errorf("decode product %d: %w", id, err)
	}
	return p, true, nil
}
