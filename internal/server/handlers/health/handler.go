package health

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"oip/mq/internal/queue"
	"oip/mq/pkg/ginx"
)

// Checker 健康检查
type Checker interface {
	HealthCheck(ctx context.Context) queue.HealthReport
}

// HealthHandler 健康检查 HTTP 处理器
type HealthHandler struct {
	checker Checker
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(checker Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Get 健康检查，不健康时返回 503
// GET /health
func (h *HealthHandler) Get(c *gin.Context) {
	report := h.checker.HealthCheck(c.Request.Context())
	if !report.Healthy() {
		ginx.JSON(c, http.StatusServiceUnavailable, report.Error, report)
		return
	}
	ginx.Success(c, report)
}
