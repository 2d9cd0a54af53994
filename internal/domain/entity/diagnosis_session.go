// Package entity 定义领域实体
package entity

import "time"

// Gender 性别枚举
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Severity 症状严重程度
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Priority 诊断优先级
type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

// OperationClass 返回优先级对应的限流操作类别。
// 紧急请求使用更紧、重置更快的窗口。
func (p Priority) OperationClass() string {
	if p == PriorityEmergency {
		return "emergency"
	}
	return "diagnosis"
}

// SessionStatus 会话状态
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusCancelled  SessionStatus = "cancelled"
	SessionStatusFailed     SessionStatus = "failed"
)

// DiagnosisSession 一次症状提交对应的诊断会话
type DiagnosisSession struct {
	ID        string `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SubjectID string `json:"subject_id" gorm:"type:uuid;index;not null"`

	Symptoms SymptomList `json:"symptoms" gorm:"type:jsonb;serializer:json;not null"`
	Age      int         `json:"age" gorm:"not null"`
	Gender   Gender      `json:"gender" gorm:"type:varchar(16);not null"`
	Duration string      `json:"duration" gorm:"type:varchar(64)"`
	Severity Severity    `json:"severity" gorm:"type:varchar(16);not null"`
	Notes    string      `json:"notes,omitempty" gorm:"type:text"`
	Priority Priority    `json:"priority" gorm:"type:varchar(16);not null;default:'normal'"`

	Status      SessionStatus   `json:"status" gorm:"type:varchar(16);not null;default:'pending'"`
	Predictions PredictionList  `json:"predictions,omitempty" gorm:"type:jsonb;serializer:json"`
	CreatedAt   time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func (DiagnosisSession) TableName() string {
	return "diagnosis_sessions"
}

// SymptomList 症状列表
type SymptomList []string

// PredictionList 预测结果列表
type PredictionList []PredictionCandidate
