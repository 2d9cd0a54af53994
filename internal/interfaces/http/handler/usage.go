// Package handler 提供 HTTP 请求处理器
package handler

import (
	"github.com/gin-gonic/gin"

	"ai-diagnosis-api/internal/application/admission"
	"ai-diagnosis-api/internal/application/quota"
	"ai-diagnosis-api/internal/domain/repository"
	"ai-diagnosis-api/internal/interfaces/http/dto"
	"ai-diagnosis-api/pkg/logger"
)

// limiterClasses 管理员重置时需要清空的限流类别
var limiterClasses = []string{"general", "diagnosis", "emergency"}

// UsageHandler 配额用量接口处理器
type UsageHandler struct {
	tracker   *quota.Tracker
	limiter   *admission.Limiter
	usageRepo repository.UsageRecordRepository
}

// NewUsageHandler 创建用量处理器
func NewUsageHandler(tracker *quota.Tracker, limiter *admission.Limiter, usageRepo repository.UsageRecordRepository) *UsageHandler {
	return &UsageHandler{
		tracker:   tracker,
		limiter:   limiter,
		usageRepo: usageRepo,
	}
}

// Get 查询当前主体的配额用量
// @Summary 查询配额用量
// @Description 返回滚动日/月的 Token 用量与上限
// @Tags Usage
// @Produce json
// @Success 200 {object} dto.Response[dto.UsageResponse]
// @Router /v1/usage [get]
func (h *UsageHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	subjectID := c.GetString("subject_id")

	snap, err := h.tracker.Usage(ctx, subjectID)
	if err != nil {
		logger.Error(ctx, "failed to load usage snapshot", err)
		dto.InternalError(c, "failed to load usage snapshot")
		return
	}

	dto.Success(c, dto.UsageResponse{
		SubjectID:    subjectID,
		DailyUsed:    snap.DailyUsed,
		DailyLimit:   snap.DailyLimit,
		MonthlyUsed:  snap.MonthlyUsed,
		MonthlyLimit: snap.MonthlyLimit,
	})
}

// Reset 管理员重置主体用量
// @Summary 重置主体用量
// @Description 删除主体的用量流水并清空限流窗口，仅供运维使用
// @Tags Usage
// @Produce json
// @Param sid path string true "主体 ID"
// @Success 204
// @Router /v1/admin/usage/{sid} [delete]
func (h *UsageHandler) Reset(c *gin.Context) {
	ctx := c.Request.Context()
	subjectID := c.Param("sid")
	if subjectID == "" {
		dto.BadRequest(c, "missing subject id")
		return
	}

	if err := h.usageRepo.DeleteBySubject(ctx, subjectID); err != nil {
		logger.Error(ctx, "failed to delete usage records", err, "subject_id", subjectID)
		dto.InternalError(c, "failed to reset usage")
		return
	}

	for _, class := range limiterClasses {
		if err := h.limiter.Reset(ctx, subjectID, class); err != nil {
			logger.Warn(ctx, "failed to reset rate limit window", "subject_id", subjectID, "class", class, "error", err)
		}
	}

	dto.NoContent(c)
}
