// Package predcache 提供预测结果缓存，避免为相同请求重复付费
package predcache

import (
	"fmt"
	"sort"
	"strings"

	"ai-diagnosis-api/internal/domain/entity"
)

// Fingerprint 根据归一化后的请求字段生成确定性缓存键。
// 症状做去空白、小写、字典序排序，保证语义相同的请求落到同一键。
func Fingerprint(symptoms []string, age int, gender entity.Gender, duration string, severity entity.Severity) string {
	normalized := make([]string, 0, len(symptoms))
	for _, s := range symptoms {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			normalized = append(normalized, s)
		}
	}
	sort.Strings(normalized)

	return fmt.Sprintf("%s:%d:%s:%s:%s",
		strings.Join(normalized, "|"), age, gender, duration, severity)
}
