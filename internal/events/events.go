// Package events 發布寫入事件（購買、留言）
//
// 寫入已經提交到 PostgreSQL 之後才發布；發布失敗只記錄日誌，
// 不影響請求結果（資料庫才是唯一的真實來源）。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Kind 事件類型
type Kind string

const (
	// KindPurchaseCreated 購買
	KindPurchaseCreated Kind = "purchase.created"

	// KindCommentCreated 留言
	KindCommentCreated Kind = "comment.created"
)

// Event 寫入事件
type Event struct {
	Kind      Kind      `json:"kind"`
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	UserID    int64     `json:"user_id"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher 事件發布介面
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher 不發布（未配置 NATS 時）
type NopPublisher struct{}

// Publish 實作 Publisher
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close 實作 Publisher
func (NopPublisher) Close() error { return nil }

// NATSPublisher 以 NATS core publish 發布
//
// 主題：<prefix>.<kind>，例如 catalog.purchase.created。
// 不使用 JetStream：訂閱端只做通知類用途，遺失可接受。
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher 連接 NATS
func NewNATSPublisher(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("catalog-read-path"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &NATSPublisher{
		conn:   conn,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Subject 事件主題
func Subject(prefix string, kind Kind) string {
	if prefix == "" {
		return string(kind)
	}
	return prefix + "." + string(kind)
}

// Publish 實作 Publisher
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if err := p.conn.Publish(Subject(p.prefix, e.Kind), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Kind, err)
	}
	return nil
}

// Close 送出緩衝中的訊息並關閉連線
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
