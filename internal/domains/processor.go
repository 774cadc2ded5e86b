package domains

import (
	"context"
	"fmt"
	"time"

	"oip/mq/internal/queue"
	"oip/mq/pkg/logger"
)

// ProcessorFunc handler 前置检查，返回 error 则本次投递失败
type ProcessorFunc func(ctx context.Context, env *queue.Envelope) error

// RequireJSONObject 要求 payload 是 JSON 对象
func RequireJSONObject(_ context.Context, env *queue.Envelope) error {
	if len(env.Data) == 0 || env.Data[0] != '{' {
		return fmt.Errorf("payload must be a JSON object")
	}
	return nil
}

// GetProcess 按名称从 HandlerMap 构造 handler，并包装：
// 注入 trace_id、执行前置检查链、记录处理时长
func GetProcess(log logger.Logger, name string, pre ...ProcessorFunc) (queue.Handler, error) {
	factory, ok := HandlerMap[name]
	if !ok {
		return nil, fmt.Errorf("handler not found: %s", name)
	}
	handler := factory(log)

	return func(ctx context.Context, env *queue.Envelope) error {
		startTime := time.Now()
		ctx = logger.WithTraceID(ctx, env.ID)

		log.Debugf(ctx, "[GetProcess] Processing message: handler=%s", name)

		for i, fn := range pre {
			if err := fn(ctx, env); err != nil {
				log.Warnf(ctx, "[GetProcess] pre-check %d rejected message: %v", i, err)
				return fmt.Errorf("pre-check[%d] failed: %w", i, err)
			}
		}

		err := handler(ctx, env)

		duration := time.Since(startTime)
		if err != nil {
			log.Infof(ctx, "[GetProcess] Processing failed: duration=%v err=%v", duration, err)
			return err
		}
		log.Infof(ctx, "[GetProcess] Processing complete: duration=%v", duration)
		return nil
	}, nil
}
