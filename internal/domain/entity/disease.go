// Package entity 定义领域实体
package entity

import "time"

// Disease 参考疾病库条目
type Disease struct {
	ID          string `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Code        string `json:"code" gorm:"type:varchar(16);uniqueIndex;not null"`
	Name        string `json:"name" gorm:"type:varchar(128);index;not null"`
	Description string `json:"description" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Disease) TableName() string {
	return "diseases"
}
