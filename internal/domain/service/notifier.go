package service

import "context"

// NotificationKind 通知类别
type NotificationKind string

const (
	NotifyDiagnosisCompleted NotificationKind = "diagnosis_completed"
	NotifyDiagnosisFailed    NotificationKind = "diagnosis_failed"
	NotifyRateLimited        NotificationKind = "rate_limited"
	NotifyQuotaExceeded      NotificationKind = "quota_exceeded"
)

// Notifier 通知发送端口。
// 约定：实现应为 best-effort，发送失败不阻断诊断主流程。
type Notifier interface {
	Notify(ctx context.Context, subjectID string, kind NotificationKind, payload map[string]any) error
}
