// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"time"

	"ai-diagnosis-api/internal/domain/entity"
)

// CreateDiagnosisRequest 提交诊断请求
type CreateDiagnosisRequest struct {
	Symptoms []string `json:"symptoms" binding:"required,min=1,dive,required"`
	Age      int      `json:"age" binding:"required,gte=0,lte=130"`
	Gender   string   `json:"gender" binding:"required,oneof=male female other"`
	Duration string   `json:"duration" binding:"omitempty,max=64"`
	Severity string   `json:"severity" binding:"required,oneof=mild moderate severe"`
	Notes    string   `json:"notes" binding:"omitempty,max=2000"`
	Priority string   `json:"priority" binding:"omitempty,oneof=normal high emergency"`
}

// ToSession 构建待持久化的诊断会话
func (r *CreateDiagnosisRequest) ToSession(subjectID string) *entity.DiagnosisSession {
	priority := entity.Priority(r.Priority)
	if priority == "" {
		priority = entity.PriorityNormal
	}
	return &entity.DiagnosisSession{
		SubjectID: subjectID,
		Symptoms:  r.Symptoms,
		Age:       r.Age,
		Gender:    entity.Gender(r.Gender),
		Duration:  r.Duration,
		Severity:  entity.Severity(r.Severity),
		Notes:     r.Notes,
		Priority:  priority,
		Status:    entity.SessionStatusPending,
	}
}

// DiagnosisAcceptedResponse 诊断请求受理响应
type DiagnosisAcceptedResponse struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
}

// PredictionResponse 单条预测候选响应
type PredictionResponse struct {
	DiseaseID      string  `json:"disease_id"`
	DiseaseName    string  `json:"disease_name"`
	Confidence     float64 `json:"confidence"`
	ConfidenceLow  float64 `json:"confidence_low"`
	ConfidenceHigh float64 `json:"confidence_high"`

	Reasoning       []string `json:"reasoning,omitempty"`
	RiskFactors     []string `json:"risk_factors,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Explanation     string   `json:"explanation"`
	Fallback        bool     `json:"fallback,omitempty"`
}

// SessionResponse 诊断会话响应
type SessionResponse struct {
	ID        string   `json:"id"`
	SubjectID string   `json:"subject_id"`
	Symptoms  []string `json:"symptoms"`
	Age       int      `json:"age"`
	Gender    string   `json:"gender"`
	Duration  string   `json:"duration,omitempty"`
	Severity  string   `json:"severity"`
	Notes     string   `json:"notes,omitempty"`
	Priority  string   `json:"priority"`

	Status      string               `json:"status"`
	Predictions []PredictionResponse `json:"predictions,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// NewSessionResponse 从会话实体构建响应
func NewSessionResponse(session *entity.DiagnosisSession) *SessionResponse {
	resp := &SessionResponse{
		ID:          session.ID,
		SubjectID:   session.SubjectID,
		Symptoms:    session.Symptoms,
		Age:         session.Age,
		Gender:      string(session.Gender),
		Duration:    session.Duration,
		Severity:    string(session.Severity),
		Notes:       session.Notes,
		Priority:    string(session.Priority),
		Status:      string(session.Status),
		CreatedAt:   session.CreatedAt,
		CompletedAt: session.CompletedAt,
	}
	for _, p := range session.Predictions {
		resp.Predictions = append(resp.Predictions, PredictionResponse{
			DiseaseID:       p.DiseaseID,
			DiseaseName:     p.DiseaseName,
			Confidence:      p.Confidence,
			ConfidenceLow:   p.ConfidenceLow,
			ConfidenceHigh:  p.ConfidenceHigh,
			Reasoning:       p.Reasoning,
			RiskFactors:     p.RiskFactors,
			Recommendations: p.Recommendations,
			Explanation:     p.Explanation,
			Fallback:        p.Fallback,
		})
	}
	return resp
}

// RunResponse 诊断运行响应
type RunResponse struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	Status     string `json:"status"`
	Step       string `json:"step"`
	RetryCount int    `json:"retry_count"`

	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// NewRunResponse 从运行实体构建响应
func NewRunResponse(run *entity.DiagnosisRun) *RunResponse {
	return &RunResponse{
		ID:           run.ID,
		SessionID:    run.SessionID,
		Status:       string(run.Status),
		Step:         run.StepCursor.String(),
		RetryCount:   run.RetryCount,
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
	}
}

// UsageResponse 配额用量响应
type UsageResponse struct {
	SubjectID    string `json:"subject_id"`
	DailyUsed    int64  `json:"daily_used"`
	DailyLimit   int64  `json:"daily_limit"`
	MonthlyUsed  int64  `json:"monthly_used"`
	MonthlyLimit int64  `json:"monthly_limit"`
}
