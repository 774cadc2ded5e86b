package worker

import (
	"context"

	"oip/mq/internal/queue"
	"oip/mq/pkg/logger"
)

// Worker 接口
type Worker interface {
	Start() error
	Shutdown()
	GetName() string
}

// Subscriber Worker 依赖的订阅操作
type Subscriber interface {
	Subscribe(topic string, handler queue.Handler) error
	Unsubscribe(topic string)
}

// WorkerInstance 单个 Topic 的消费者：持有 handler 并负责订阅/取消订阅
type WorkerInstance struct {
	ctx     context.Context
	name    string
	topic   string
	handler queue.Handler
	queue   Subscriber
	logger  logger.Logger
}

// NewWorkerInstance 创建 Worker 实例
func NewWorkerInstance(
	ctx context.Context,
	name string,
	topic string,
	handler queue.Handler,
	q Subscriber,
	log logger.Logger,
) Worker {
	return &WorkerInstance{
		ctx:     logger.WithTopic(ctx, topic),
		name:    name,
		topic:   topic,
		handler: handler,
		queue:   q,
		logger:  log,
	}
}

// Start 订阅 Topic，调度由共享的 tick 循环驱动
func (w *WorkerInstance) Start() error {
	if err := w.queue.Subscribe(w.topic, w.handler); err != nil {
		return err
	}
	w.logger.Infof(w.ctx, "[Worker] %s started", w.name)
	return nil
}

// Shutdown 取消订阅。需在队列 Shutdown 之后调用，否则 in-flight 不会被等待。
func (w *WorkerInstance) Shutdown() {
	w.queue.Unsubscribe(w.topic)
	w.logger.Infof(w.ctx, "[Worker] %s shutdown complete", w.name)
}

// GetName 获取 Worker 名称
func (w *WorkerInstance) GetName() string {
	return w.name
}
