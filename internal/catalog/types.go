// Package catalog 定義讀取路徑共用的資料模型
//
// User、Product 屬於參考資料：啟動時整批載入，服務期間不變。
// Comment、Purchase 屬於 append-only 資料：只依頁面或用戶查詢，從不整批載入。
package catalog

import "time"

// User 用戶（啟動時的不可變快照）
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	LastLogin time.Time `json:"last_login"`
}

// Product 商品
//
// JSON 欄位名稱與資料表欄位一致，參考資料檔（blob）與快取值共用此編碼。
type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ImagePath   string    `json:"image_path"`
	Price       int64     `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
}

// Comment 商品留言
type Comment struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	UserID    int64     `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// UserName 由留言查詢 JOIN users 取得
	UserName string `json:"user_name"`
}

// Purchase 購買紀錄
type Purchase struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PurchasedProduct 用戶頁面上的一筆購買（商品 + 購買時間）
type PurchasedProduct struct {
	Product
	BoughtAt time.Time `json:"bought_at"`
}
