package topic

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"oip/mq/internal/queue"
	"oip/mq/pkg/ginx"
)

// PublishRequest 发布消息请求
type PublishRequest struct {
	ID          string          `json:"id" binding:"omitempty,max=128"`
	Data        json.RawMessage `json:"data" binding:"required"`
	DelayMs     int64           `json:"delay_ms" binding:"min=0"`
	MaxAttempts int             `json:"max_attempts" binding:"min=0"`
	Priority    int             `json:"priority"`
}

func (r *PublishRequest) options() []queue.PublishOption {
	opts := make([]queue.PublishOption, 0, 4)
	if r.ID != "" {
		opts = append(opts, queue.WithID(r.ID))
	}
	if r.DelayMs > 0 {
		opts = append(opts, queue.WithDelay(time.Duration(r.DelayMs)*time.Millisecond))
	}
	if r.MaxAttempts > 0 {
		opts = append(opts, queue.WithMaxAttempts(r.MaxAttempts))
	}
	if r.Priority != 0 {
		opts = append(opts, queue.WithPriority(r.Priority))
	}
	return opts
}

// PublishResponse 发布结果
type PublishResponse struct {
	ID string `json:"id"`
}

// Publish 发布消息
// POST /api/v1/topics/:topic/messages
func (h *TopicHandler) Publish(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	id, err := h.queue.Publish(c.Request.Context(), c.Param("topic"), req.Data, req.options()...)
	if err != nil {
		_ = c.Error(err)
		return
	}

	ginx.Success(c, PublishResponse{ID: id})
}
