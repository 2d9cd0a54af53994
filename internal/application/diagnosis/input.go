package diagnosis

import (
	"strings"

	"ai-diagnosis-api/internal/domain/entity"
)

// Input 一次诊断请求的输入，由会话记录派生
type Input struct {
	SessionID string
	SubjectID string

	Symptoms []string
	Age      int
	Gender   entity.Gender
	Duration string
	Severity entity.Severity
	Notes    string
	Priority entity.Priority
}

// InputFromSession 从会话实体派生诊断输入
func InputFromSession(session *entity.DiagnosisSession) Input {
	return Input{
		SessionID: session.ID,
		SubjectID: session.SubjectID,
		Symptoms:  session.Symptoms,
		Age:       session.Age,
		Gender:    session.Gender,
		Duration:  session.Duration,
		Severity:  session.Severity,
		Notes:     session.Notes,
		Priority:  session.Priority,
	}
}

// EstimationText 返回用于 Token 估算的输入文本
func (in Input) EstimationText() string {
	parts := append([]string{}, in.Symptoms...)
	if in.Notes != "" {
		parts = append(parts, in.Notes)
	}
	return strings.Join(parts, " ")
}
