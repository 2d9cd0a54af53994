// Package entity 定义领域实体
package entity

import "time"

// RunStatus 诊断运行状态
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// RunStep 编排步骤游标。
// 游标持久化在运行记录上，崩溃后从已完成步骤之后恢复，而非从头重放。
type RunStep int

const (
	StepValidateSession RunStep = iota
	StepAdmission
	StepQuota
	StepCacheLookup
	StepPredict
	StepCacheStore
	StepPersist
	StepNotify
	StepRecordUsage
	StepDone
)

// String 步骤名称，用于日志与调试
func (s RunStep) String() string {
	switch s {
	case StepValidateSession:
		return "validate_session"
	case StepAdmission:
		return "admission"
	case StepQuota:
		return "quota"
	case StepCacheLookup:
		return "cache_lookup"
	case StepPredict:
		return "predict"
	case StepCacheStore:
		return "cache_store"
	case StepPersist:
		return "persist"
	case StepNotify:
		return "notify"
	case StepRecordUsage:
		return "record_usage"
	case StepDone:
		return "done"
	default:
		return "unknown"
	}
}

// DiagnosisRun 一次诊断编排运行
type DiagnosisRun struct {
	ID        string `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionID string `json:"session_id" gorm:"type:uuid;index;not null"`
	SubjectID string `json:"subject_id" gorm:"type:uuid;index;not null"`

	Priority   Priority  `json:"priority" gorm:"type:varchar(16);not null;default:'normal'"`
	Status     RunStatus `json:"status" gorm:"type:varchar(16);not null;default:'pending'"`
	StepCursor RunStep   `json:"step_cursor" gorm:"not null;default:0"`
	RetryCount int       `json:"retry_count" gorm:"not null;default:0"`

	ErrorMessage string     `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (DiagnosisRun) TableName() string {
	return "diagnosis_runs"
}

// Start 标记运行开始
func (r *DiagnosisRun) Start() {
	now := time.Now()
	r.Status = RunStatusRunning
	if r.StartedAt == nil {
		r.StartedAt = &now
	}
}

// Complete 标记运行成功
func (r *DiagnosisRun) Complete() {
	now := time.Now()
	r.Status = RunStatusCompleted
	r.StepCursor = StepDone
	r.CompletedAt = &now
}

// Cancel 标记运行取消（准入或配额拒绝）
func (r *DiagnosisRun) Cancel(reason string) {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.ErrorMessage = reason
	r.CompletedAt = &now
}

// Fail 标记运行失败
func (r *DiagnosisRun) Fail(reason string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.ErrorMessage = reason
	r.CompletedAt = &now
}

// Terminal 是否处于终态
func (r *DiagnosisRun) Terminal() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusCancelled, RunStatusFailed:
		return true
	default:
		return false
	}
}
