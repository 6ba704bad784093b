package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/database"
	apperrors "github.com/koopa0/system-design/14-catalog-read-path/pkg/errors"
	"github.com/koopa0/system-design/14-catalog-read-path/pkg/logger"
)

// RequestIDHeader 請求 ID 標頭
const RequestIDHeader = "X-Request-ID"

// 中間件
// loggerMiddleware 記錄請求日誌
//
// 同時在 context 中放入請求 ID 與查詢計數器，日誌裡的 queries
// 是這個請求實際送出的資料庫查詢數。
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := logger.WithRequestID(r.Context(), requestID)
		ctx, counter := database.WithQueryCounter(ctx)
		r = r.WithContext(ctx)

		// 包裝 ResponseWriter 以捕獲狀態碼
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(ww, r)

		level := slog.LevelInfo
		if ww.statusCode >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		h.Logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"queries", counter.Count(),
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	}
}

// recoverer 恢復 panic
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.Logger.ErrorContext(r.Context(), "panic recovered", "error", err)
				h.respondError(w, apperrors.New(apperrors.ErrCodeInternal, "internal server error"))
			}
		}()
		next(w, r)
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Error("failed to encode response", "error", err)
	}
}

// respondError 依錯誤碼決定狀態碼；非 AppError 一律視為 500 且不外洩細節
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	resp := errorResponse{
		Code:  apperrors.ErrCodeInternal,
		Error: "internal server error",
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Code = appErr.Code
		resp.Error = appErr.Message
		resp.Details = appErr.Details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.HTTPStatus(err))
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.Logger.Error("failed to encode error response", "error", err, "message", resp.Error)
	}
}

// responseWriter 包裝以捕獲狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}
