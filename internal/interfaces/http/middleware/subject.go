// Package middleware 提供 HTTP 中间件
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ai-diagnosis-api/pkg/logger"
)

const (
	// SubjectIDHeader 主体 ID 头
	SubjectIDHeader = "X-Subject-ID"
)

// Subject 主体标识中间件。
// 网关完成认证后以 Header 透传主体 ID，这里只做提取和上下文注入。
func Subject() gin.HandlerFunc {
	return func(c *gin.Context) {
		subjectID := c.GetHeader(SubjectIDHeader)
		if subjectID == "" {
			c.Next()
			return
		}

		c.Set("subject_id", subjectID)

		ctx := logger.WithContext(c.Request.Context(), logger.SubjectIDKey, subjectID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireSubject 要求请求携带主体 ID
func RequireSubject() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("subject_id") == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    http.StatusBadRequest,
				"message": "missing " + SubjectIDHeader + " header",
			})
			return
		}
		c.Next()
	}
}
