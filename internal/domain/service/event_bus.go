package service

import "context"

// 工作流事件名
const (
	EventDiagnosisCompleted = "diagnosis.completed"
	EventDiagnosisFailed    = "diagnosis.failed"
	EventUsageLimitExceeded = "usage.limit.exceeded"
)

// EventPublisher 工作流事件发布端口
type EventPublisher interface {
	Emit(ctx context.Context, event string, payload map[string]any) error
}
