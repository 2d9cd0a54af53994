// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"ai-diagnosis-api/internal/application/diagnosis"
	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/internal/domain/repository"
	"ai-diagnosis-api/internal/infrastructure/messaging"
	"ai-diagnosis-api/internal/interfaces/http/dto"
	"ai-diagnosis-api/pkg/logger"
)

// DiagnosisHandler 诊断接口处理器
type DiagnosisHandler struct {
	txMgr        repository.Transactor
	sessionRepo  repository.SessionRepository
	runRepo      repository.RunRepository
	orchestrator *diagnosis.Orchestrator
	producer     *messaging.Producer
}

// NewDiagnosisHandler 创建诊断处理器
func NewDiagnosisHandler(
	txMgr repository.Transactor,
	sessionRepo repository.SessionRepository,
	runRepo repository.RunRepository,
	orchestrator *diagnosis.Orchestrator,
	producer *messaging.Producer,
) *DiagnosisHandler {
	return &DiagnosisHandler{
		txMgr:        txMgr,
		sessionRepo:  sessionRepo,
		runRepo:      runRepo,
		orchestrator: orchestrator,
		producer:     producer,
	}
}

// Create 提交诊断请求
// @Summary 提交诊断请求
// @Description 创建诊断会话并异步执行诊断编排
// @Tags Diagnosis
// @Accept json
// @Produce json
// @Param request body dto.CreateDiagnosisRequest true "诊断请求"
// @Success 202 {object} dto.Response[dto.DiagnosisAcceptedResponse]
// @Router /v1/diagnosis [post]
func (h *DiagnosisHandler) Create(c *gin.Context) {
	var req dto.CreateDiagnosisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	subjectID := c.GetString("subject_id")

	// 会话和运行记录在同一事务内创建，避免出现无运行的孤儿会话
	session := req.ToSession(subjectID)
	var run *entity.DiagnosisRun
	err := h.txMgr.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := h.sessionRepo.Create(txCtx, session); err != nil {
			return err
		}
		var err error
		run, err = h.orchestrator.CreateRun(txCtx, diagnosis.InputFromSession(session))
		return err
	})
	if err != nil {
		logger.Error(ctx, "failed to create diagnosis session", err)
		dto.InternalError(c, "failed to create diagnosis session")
		return
	}

	if _, err := h.producer.PublishDiagnosisJob(ctx, &messaging.DiagnosisJobMessage{
		RunID:     run.ID,
		SessionID: session.ID,
		SubjectID: subjectID,
		Priority:  string(session.Priority),
	}); err != nil {
		logger.Error(ctx, "failed to enqueue diagnosis run", err, "run_id", run.ID)
		dto.InternalError(c, "failed to enqueue diagnosis run")
		return
	}

	dto.Accepted(c, dto.DiagnosisAcceptedResponse{
		SessionID: session.ID,
		RunID:     run.ID,
		Status:    string(run.Status),
	})
}

// Get 查询诊断会话
// @Summary 查询诊断会话
// @Description 返回会话及其预测结果
// @Tags Diagnosis
// @Produce json
// @Param sid path string true "会话 ID"
// @Success 200 {object} dto.Response[dto.SessionResponse]
// @Router /v1/diagnosis/{sid} [get]
func (h *DiagnosisHandler) Get(c *gin.Context) {
	session, err := h.sessionRepo.GetByID(c.Request.Context(), c.Param("sid"))
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, dto.NewSessionResponse(session))
}

// GetRun 查询诊断运行
// @Summary 查询诊断运行
// @Description 返回运行状态、步骤游标和重试次数
// @Tags Diagnosis
// @Produce json
// @Param rid path string true "运行 ID"
// @Success 200 {object} dto.Response[dto.RunResponse]
// @Router /v1/runs/{rid} [get]
func (h *DiagnosisHandler) GetRun(c *gin.Context) {
	run, err := h.runRepo.GetByID(c.Request.Context(), c.Param("rid"))
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, dto.NewRunResponse(run))
}
