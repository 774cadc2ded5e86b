package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"

	"oip/mq/pkg/logger"
)

// Logger 请求日志，5xx 记为 error
func Logger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ctx := c.Request.Context()
		if topic := c.Param("topic"); topic != "" {
			ctx = logger.WithTopic(ctx, topic)
		}
		status := c.Writer.Status()
		if status >= 500 {
			log.Errorf(ctx, "[API] %s %s %d %v errors=%s",
				c.Request.Method, c.FullPath(), status, time.Since(start), c.Errors.String())
			return
		}
		log.Debugf(ctx, "[API] %s %s %d %v", c.Request.Method, c.FullPath(), status, time.Since(start))
	}
}
