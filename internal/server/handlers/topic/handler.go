package topic

import (
	"context"

	"oip/mq/internal/queue"
)

// Queue 管理 API 依赖的队列操作
type Queue interface {
	Publish(ctx context.Context, topic string, payload interface{}, opts ...queue.PublishOption) (string, error)
	Depth(ctx context.Context, topic string) (queue.Depth, error)
	DeadLetters(ctx context.Context, topic string, limit int64) ([]queue.DeadLetter, error)
	RetryDeadLettered(ctx context.Context, topic, id string) (bool, error)
	Purge(ctx context.Context, topic string) (int, error)
}

// TopicHandler Topic HTTP 处理器
type TopicHandler struct {
	queue Queue
}

// NewTopicHandler 创建 Topic 处理器实例
func NewTopicHandler(q Queue) *TopicHandler {
	return &TopicHandler{
		queue: q,
	}
}
