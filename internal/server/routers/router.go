package routers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"oip/mq/internal/server/handlers/health"
	"oip/mq/internal/server/handlers/topic"
	"oip/mq/internal/server/middlewares"
	"oip/mq/pkg/logger"
)

// SetupRoutes 配置所有路由，使用 Route Group 分类
func SetupRoutes(
	topicHandler *topic.TopicHandler,
	healthHandler *health.HealthHandler,
	gatherer prometheus.Gatherer,
	log logger.Logger,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middlewares.Logger(log))
	r.Use(middlewares.ErrorHandler())

	r.GET("/health", healthHandler.Get)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		topics := v1.Group("/topics/:topic")
		{
			topics.POST("/messages", topicHandler.Publish)
			topics.GET("/depth", topicHandler.Depth)
			topics.GET("/dlq", topicHandler.DeadLetters)
			topics.POST("/dlq/:id/retry", topicHandler.RetryDeadLettered)
			topics.DELETE("", topicHandler.Purge)
		}
	}

	return r
}
