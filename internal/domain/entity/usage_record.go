// Package entity 定义领域实体
package entity

import "time"

// UsageRecord 一次外部预测调用的用量流水。
// 只追加，不修改；配额统计以该流水为准。
type UsageRecord struct {
	ID         string  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SubjectID  string  `json:"subject_id" gorm:"type:uuid;index;not null"`
	TokensUsed int64   `json:"tokens_used" gorm:"not null;default:0"`
	Cost       float64 `json:"cost" gorm:"type:numeric(12,6);not null;default:0"`
	Model      string  `json:"model" gorm:"type:varchar(64);not null"`
	Endpoint   string  `json:"endpoint" gorm:"type:varchar(64);not null"`
	DurationMs int     `json:"duration_ms" gorm:"not null;default:0"`
	Success    bool    `json:"success" gorm:"not null;default:true"`
	ErrorDetail string `json:"error_detail,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"index;autoCreateTime"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}
