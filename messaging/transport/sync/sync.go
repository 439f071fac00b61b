// Package sync 提供同步的内存传输：Publish 在调用方 goroutine 中依次执行匹配的处理器
package sync

import (
	"context"
	stdErrors "errors"
	"sort"
	"sync"

	"revaudit/errors"
	"revaudit/messaging"
)

// ErrNotRunning 传输层未启动
var ErrNotRunning = stdErrors.New("sync transport is not running")

func init() {
	errors.Register(ErrNotRunning, errors.ErrCodeQueue, "同步传输层未启动")
}

// SyncTransport 同步内存传输。处理器错误会合并返回给发布方，
// 因此适合在测试或单进程部署中直接观察审计事件。
type SyncTransport struct {
	handlers map[string][]messaging.IMessageHandler
	mutex    sync.RWMutex
	running  bool
}

// NewSyncTransport 创建同步传输
func NewSyncTransport() *SyncTransport {
	return &SyncTransport{handlers: make(map[string][]messaging.IMessageHandler)}
}

// Publish 立即、同步地发布消息；没有处理器不是错误
func (t *SyncTransport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mutex.RLock()
	if !t.running {
		t.mutex.RUnlock()
		return ErrNotRunning
	}
	exact := t.handlers[message.GetType()]
	wildcard := t.handlers[messaging.WildcardType]
	handlers := make([]messaging.IMessageHandler, 0, len(exact)+len(wildcard))
	handlers = append(append(handlers, exact...), wildcard...)
	t.mutex.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler.Handle(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.WrapError(stdErrors.Join(errs...), errors.ErrCodeQueue, "消息处理失败").
			WithContext("message_type", message.GetType()).
			WithContext("failures", len(errs))
	}
	return nil
}

// PublishAll 依次发布，遇错即停
func (t *SyncTransport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, message := range messages {
		if err := t.Publish(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (t *SyncTransport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.handlers[messageType] = append(t.handlers[messageType], handler)
	return nil
}

// Unsubscribe 取消订阅；处理器不存在时返回 NOT_FOUND
func (t *SyncTransport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	handlers := t.handlers[messageType]
	for i, h := range handlers {
		if h == handler {
			t.handlers[messageType] = append(handlers[:i:i], handlers[i+1:]...)
			return nil
		}
	}
	return errors.NewErrorf(errors.ErrCodeNotFound, "消息类型 %s 下没有该处理器", messageType)
}

func (t *SyncTransport) Start(ctx context.Context) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.running {
		return errors.NewError(errors.ErrCodeConflict, "sync transport is already running")
	}
	t.running = true
	return nil
}

func (t *SyncTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if !t.running {
		return ErrNotRunning
	}
	t.running = false
	return nil
}

// Stats 统计信息，消息类型按名称排序
func (t *SyncTransport) Stats() messaging.TransportStats {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	handlerCount := 0
	messageTypes := make([]string, 0, len(t.handlers))
	for mt, h := range t.handlers {
		if len(h) == 0 {
			continue
		}
		messageTypes = append(messageTypes, mt)
		handlerCount += len(h)
	}
	sort.Strings(messageTypes)
	return messaging.TransportStats{
		Running:      t.running,
		HandlerCount: handlerCount,
		MessageTypes: messageTypes,
	}
}
