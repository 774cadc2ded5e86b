package topic

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"oip/mq/pkg/ginx"
)

const defaultDeadLetterLimit = 100

// Depth 查询 Topic 深度
// GET /api/v1/topics/:topic/depth
func (h *TopicHandler) Depth(c *gin.Context) {
	d, err := h.queue.Depth(c.Request.Context(), c.Param("topic"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	ginx.Success(c, d)
}

// DeadLetters 查询死信
// GET /api/v1/topics/:topic/dlq?limit=100
func (h *TopicHandler) DeadLetters(c *gin.Context) {
	limit := int64(defaultDeadLetterLimit)
	if s := c.Query("limit"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			ginx.BadRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.queue.DeadLetters(c.Request.Context(), c.Param("topic"), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ginx.Success(c, entries)
}
