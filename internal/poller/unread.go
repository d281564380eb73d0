package poller

import (
	"context"
	"time"

	"github.com/mandrindraa/bbe-my-eyes/internal/models"

	"go.uber.org/zap"
)

// MessageStore 未读消息存储
type MessageStore interface {
	FetchUnreadMessages(ctx context.Context) ([]*models.Message, error)
	MarkMessageRead(ctx context.Context, id int64) error
}

// Broadcaster 推送（*hub.Hub）
type Broadcaster interface {
	Publish(channel string, payload interface{}, excludeID string) int
}

// UnreadPoller 周期性推送未读消息并标记为已读
type UnreadPoller struct {
	store       MessageStore
	broadcaster Broadcaster
	interval    time.Duration
	logger      *zap.Logger
}

// NewUnreadPoller 创建轮询器；interval <= 0 时使用 10s
func NewUnreadPoller(store MessageStore, broadcaster Broadcaster, interval time.Duration, logger *zap.Logger) *UnreadPoller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &UnreadPoller{
		store:       store,
		broadcaster: broadcaster,
		interval:    interval,
		logger:      logger,
	}
}

// Start 轮询直到 ctx 结束
func (p *UnreadPoller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("Unread message poller started", zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Unread message poller stopped")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce 执行一次轮询，返回推送的消息数
func (p *UnreadPoller) PollOnce(ctx context.Context) int {
	messages, err := p.store.FetchUnreadMessages(ctx)
	if err != nil {
		p.logger.Error("Failed to fetch unread messages", zap.Error(err))
		return 0
	}
	if len(messages) == 0 {
		return 0
	}

	clients := p.broadcaster.Publish(models.ChannelUnreadMessages, messages, "")

	marked := 0
	for _, m := range messages {
		if err := p.store.MarkMessageRead(ctx, m.ID); err != nil {
			p.logger.Warn("Failed to mark message read",
				zap.Int64("message_id", m.ID),
				zap.Error(err),
			)
			continue
		}
		marked++
	}

	p.logger.Info("Unread messages pushed",
		zap.Int("messages", len(messages)),
		zap.Int("marked", marked),
		zap.Int("clients", clients),
	)
	return len(messages)
}
