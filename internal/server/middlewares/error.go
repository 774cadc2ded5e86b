package middlewares

import (
	"github.com/gin-gonic/gin"

	"oip/mq/pkg/errorutil"
	"oip/mq/pkg/ginx"
)

// ErrorHandler 统一错误处理：把 handler 通过 c.Error 记录的错误按类别转换为响应
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := errorutil.Wrap(c.Errors.Last().Err)
		ginx.Error(c, ginx.StatusFor(err), err.Error())
	}
}
