// Package refstore 參考資料（users、products）的記憶體索引
//
// 系統設計考量：
//
//  1. 為什麼整表載入記憶體？
//     - users、products 小且幾乎不變，但幾乎每個請求都會讀
//     - 每次讀都打資料庫 → 首頁 50 個商品就是 50 次往返
//     - 啟動時載入一次，之後全部是 map 查找（O(1)，無 I/O）
//
//  2. 不可變快照：
//     - Load 是唯一的建構入口，返回後索引不再被修改
//     - 服務期間沒有寫入者 → 讀取不需要鎖
//     - byID 與 byEmail 在同一次 Load 內建好，永遠對應同一份快照
//
//  3. 一致性取捨：
//     - 服務期間新增的用戶/商品不會出現在索引中（重啟後才可見）
//     - 不做失效、不做多節點同步
package refstore

import (
	"crypto/subtle"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/catalog"
	apperrors "github.com/koopa0/system-design/14-catalog-read-path/pkg/errors"
)

// Store 不可變的參考資料索引
type Store struct {
	users        map[int64]catalog.User
	usersByEmail map[string]catalog.User

	products     []catalog.Product // 保留來源順序，分頁依此切片
	productsByID map[int64]int     // id → products 索引
}

// User 依 id 查詢用戶
func (s *Store) User(id int64) (catalog.User, bool) {
	u, ok := s.users[id]
	return u, ok
}

// UserByEmail 依 email 查詢用戶
func (s *Store) UserByEmail(email string) (catalog.User, bool) {
	u, ok := s.usersByEmail[email]
	return u, ok
}

// UserCount 用戶數
func (s *Store) UserCount() int {
	return len(s.users)
}

// Product 依 id 查詢商品
func (s *Store) Product(id int64) (catalog.Product, bool) {
	i, ok := s.productsByID[id]
	if !ok {
		return catalog.Product{}, false
	}
	return s.products[i], true
}

// Products 返回全部商品的副本（來源順序）
func (s *Store) Products() []catalog.Product {
	out := make([]catalog.Product, len(s.products))
	copy(out, s.products)
	return out
}

// Len 商品數
func (s *Store) Len() int {
	return len(s.products)
}

// Page 返回第 page 頁（從 0 開始）的商品
//
// 切片範圍 [page*limit, min(len, page*limit+limit))：
//   - 最後一頁不足 limit 時返回剩餘部分
//   - 超出範圍返回空切片，不是錯誤
//   - page < 0 視為 0，limit <= 0 返回空切片
//
// 返回的是副本，呼叫端修改不影響索引。
func (s *Store) Page(page, limit int) []catalog.Product {
	if limit <= 0 {
		return []catalog.Product{}
	}
	if page < 0 {
		page = 0
	}

	offset := page * limit
	if offset/limit != page || offset >= len(s.products) {
		return []catalog.Product{}
	}

	end := offset + limit
	if end > len(s.products) || end < offset {
		end = len(s.products)
	}

	out := make([]catalog.Product, end-offset)
	copy(out, s.products[offset:end])
	return out
}

// ProductIDs 擷取商品 id 列表（批次查詢的輸入）
func ProductIDs(products []catalog.Product) []int64 {
	ids := make([]int64, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}
	return ids
}

// Authenticate 以 email + 密碼驗證用戶
func (s *Store) Authenticate(email, password string) (catalog.User, error) {
	u, ok := s.usersByEmail[email]
	if !ok {
		return catalog.User{}, apperrors.ErrAuthenticationFailed
	}
	if subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) != 1 {
		return catalog.User{}, apperrors.ErrAuthenticationFailed
	}
	return u, nil
}
