package handlers

import (
	"context"

	"oip/mq/internal/queue"
	"oip/mq/pkg/logger"
)

// NewLogHandler 记录消息内容后确认
func NewLogHandler(log logger.Logger) queue.Handler {
	return func(ctx context.Context, env *queue.Envelope) error {
		log.Infof(ctx, "[LogHandler] received: created_at=%s max_attempts=%d data=%s",
			env.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"), env.MaxAttempts, env.Data)
		return nil
	}
}

// NewNoopHandler 直接确认
func NewNoopHandler(logger.Logger) queue.Handler {
	return func(context.Context, *queue.Envelope) error {
		return nil
	}
}
