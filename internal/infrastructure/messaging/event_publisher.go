// Package messaging 提供消息队列实现
package messaging

import (
	"context"
	"fmt"
	"time"

	"ai-diagnosis-api/internal/domain/service"
)

// EventPublisher 将工作流事件发布到事件流。
// 事件名作为消息类型，下游按类型注册处理器（重试调度、归档）。
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher 创建事件发布器
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

var _ service.EventPublisher = (*EventPublisher)(nil)

// Emit 发布一条工作流事件
func (p *EventPublisher) Emit(ctx context.Context, event string, payload map[string]any) error {
	subjectID, _ := payload["subject_id"].(string)
	sessionID, _ := payload["session_id"].(string)

	msg, err := NewMessage(fmt.Sprintf("%s-%d", sessionID, time.Now().UnixNano()), event, subjectID, sessionID, payload)
	if err != nil {
		return fmt.Errorf("failed to build event message: %w", err)
	}

	if _, err := p.producer.Publish(ctx, StreamDiagnosisEvents, msg); err != nil {
		return fmt.Errorf("failed to emit event %s: %w", event, err)
	}
	return nil
}
