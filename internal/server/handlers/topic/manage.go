package topic

import (
	"github.com/gin-gonic/gin"

	"oip/mq/pkg/ginx"
)

// RetryDeadLettered 重放死信
// POST /api/v1/topics/:topic/dlq/:id/retry
func (h *TopicHandler) RetryDeadLettered(c *gin.Context) {
	id := c.Param("id")
	ok, err := h.queue.RetryDeadLettered(c.Request.Context(), c.Param("topic"), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !ok {
		ginx.NotFound(c, "dead-lettered message not found: "+id)
		return
	}
	ginx.Success(c, gin.H{"id": id, "retried": true})
}

// Purge 清空 Topic
// DELETE /api/v1/topics/:topic
func (h *TopicHandler) Purge(c *gin.Context) {
	n, err := h.queue.Purge(c.Request.Context(), c.Param("topic"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	ginx.Success(c, gin.H{"purged": n})
}
