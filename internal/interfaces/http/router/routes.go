// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"

	"ai-diagnosis-api/internal/interfaces/http/handler"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(
	v1 *gin.RouterGroup,
	diagnosisHandler *handler.DiagnosisHandler,
	usageHandler *handler.UsageHandler,
) {
	// 诊断管理
	diagnosis := v1.Group("/diagnosis")
	{
		diagnosis.POST("", diagnosisHandler.Create)
		diagnosis.GET("/:sid", diagnosisHandler.Get)
	}

	// 运行管理
	runs := v1.Group("/runs")
	{
		runs.GET("/:rid", diagnosisHandler.GetRun)
	}

	// 配额用量
	usage := v1.Group("/usage")
	{
		usage.GET("", usageHandler.Get)
	}

	// 运维管理
	admin := v1.Group("/admin")
	{
		admin.DELETE("/usage/:sid", usageHandler.Reset)
	}
}
