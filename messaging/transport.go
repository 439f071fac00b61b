package messaging

import (
	"context"
)

// Publisher 只负责发布的一端；Transport 与 MessageBus 都实现了它
type Publisher interface {
	Publish(ctx context.Context, message IMessage) error
	PublishAll(ctx context.Context, messages []IMessage) error
}

// Transport 消息传输接口
type Transport interface {
	Publisher
	Subscribe(messageType string, handler IMessageHandler) error
	Unsubscribe(messageType string, handler IMessageHandler) error
	Start(ctx context.Context) error
	Close() error
	Stats() TransportStats
}

// TransportStats 传输层统计信息
type TransportStats struct {
	Running      bool     `json:"running"`
	HandlerCount int      `json:"handler_count"`
	MessageTypes []string `json:"message_types"`
}

// WildcardType 订阅该类型的处理器接收全部消息
const WildcardType = "*"
