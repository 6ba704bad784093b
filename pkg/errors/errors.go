// Package errors 提供應用程式錯誤處理
//
// 讀取路徑的錯誤分兩類：
//   - 啟動期錯誤（參考資料載入失敗）：致命，程序不開始服務
//   - 請求期錯誤（批次查詢、購買紀錄）：回報給 handler，不自動重試
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeUnauthorized 認證失敗
	ErrCodeUnauthorized = "UNAUTHORIZED"
	// ErrCodeForbidden 需要先登入
	ErrCodeForbidden = "FORBIDDEN"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is
//
// 只比對錯誤碼與訊息，因此 Wrap(err, ErrProductNotFound...) 產生的錯誤
// 仍然可以用 errors.Is(err, ErrProductNotFound) 判斷。
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 添加詳細資訊（回傳副本，不修改預定義錯誤）
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause 附加底層錯誤（回傳副本）
func (e *AppError) WithCause(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// 預定義錯誤
var (
	// ErrUserNotFound 用戶未找到
	ErrUserNotFound = New(ErrCodeNotFound, "user not found")

	// ErrProductNotFound 商品未找到
	ErrProductNotFound = New(ErrCodeNotFound, "product not found")

	// ErrAuthenticationFailed 登入失敗
	ErrAuthenticationFailed = New(ErrCodeUnauthorized, "authentication failed")

	// ErrPermissionDenied 未登入
	ErrPermissionDenied = New(ErrCodeForbidden, "login required")

	// ErrInvalidID 無效的數字 ID
	ErrInvalidID = New(ErrCodeInvalidInput, "invalid id")

	// ErrCacheUnavailable 共享快取不可用
	ErrCacheUnavailable = New(ErrCodeUnavailable, "cache service unavailable")

	// ErrDatabaseUnavailable 資料庫不可用
	ErrDatabaseUnavailable = New(ErrCodeUnavailable, "database service unavailable")

	// ErrReferenceLoad 參考資料載入失敗
	ErrReferenceLoad = New(ErrCodeInternal, "reference store load failed")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsUnavailable 檢查是否為服務不可用錯誤
func IsUnavailable(err error) bool {
	return hasCode(err, ErrCodeUnavailable)
}

// IsUnauthorized 檢查是否為認證失敗
func IsUnauthorized(err error) bool {
	return hasCode(err, ErrCodeUnauthorized)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// HTTPStatus 將錯誤映射為 HTTP 狀態碼
func HTTPStatus(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}

	switch appErr.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
