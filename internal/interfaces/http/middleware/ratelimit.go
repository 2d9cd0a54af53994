// Package middleware 提供 HTTP 中间件
package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ai-diagnosis-api/internal/application/admission"
)

// RateLimit 通用接口限流中间件。
// 对携带主体 ID 的请求按 general 类别做固定窗口检查；
// 诊断提交本身的限流由编排器在准入步骤执行，这里不重复计数。
func RateLimit(limiter *admission.Limiter) gin.HandlerFunc {
	if limiter == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		subjectID := c.GetString("subject_id")
		if subjectID == "" {
			c.Next()
			return
		}

		decision, err := limiter.Check(c.Request.Context(), subjectID, "general")
		if err != nil {
			// 限流器故障时放行，避免影响业务
			c.Next()
			return
		}

		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(decision.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":            http.StatusTooManyRequests,
				"message":         "rate limit exceeded",
				"retry_after_sec": decision.RetryAfter,
				"trace_id":        c.GetString("trace_id"),
			})
			return
		}

		c.Next()
	}
}
