package domains

import (
	"oip/mq/internal/domains/handlers"
	"oip/mq/internal/queue"
	"oip/mq/pkg/logger"
)

// HandlerFactory Handler 构造函数类型
type HandlerFactory func(log logger.Logger) queue.Handler

// HandlerMap 路由表（topics[].handler → Handler 映射）
var HandlerMap = map[string]HandlerFactory{
	"log":  handlers.NewLogHandler,
	"noop": handlers.NewNoopHandler,
}
