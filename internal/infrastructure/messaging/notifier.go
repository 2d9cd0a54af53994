// Package messaging 提供消息队列实现
package messaging

import (
	"context"
	"fmt"
	"time"

	"ai-diagnosis-api/internal/domain/service"
)

// StreamNotifier 把通知写入出站通知流，由外部投递系统消费。
// 通知投递本身不属于诊断核心，失败由调用方按 best-effort 处理。
type StreamNotifier struct {
	producer *Producer
}

// NewStreamNotifier 创建流式通知器
func NewStreamNotifier(producer *Producer) *StreamNotifier {
	return &StreamNotifier{producer: producer}
}

var _ service.Notifier = (*StreamNotifier)(nil)

// Notify 发送一条通知
func (n *StreamNotifier) Notify(ctx context.Context, subjectID string, kind service.NotificationKind, payload map[string]any) error {
	sessionID, _ := payload["session_id"].(string)

	msg, err := NewMessage(fmt.Sprintf("%s-%d", subjectID, time.Now().UnixNano()), MsgTypeNotification, subjectID, sessionID, payload)
	if err != nil {
		return fmt.Errorf("failed to build notification message: %w", err)
	}
	msg.SetMetadata("kind", string(kind))

	if _, err := n.producer.Publish(ctx, StreamNotifications, msg); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}
