// Package redisstreams 以 Redis Streams 承载审计变更事件：每种事件类型一个流，
// 条目除编码后的消息外还带有 revision 与 entity 字段，供消费组订阅及按修订号回放
package redisstreams

import (
	"context"
	stdErrors "errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"revaudit/errors"
	"revaudit/logging"
	"revaudit/messaging"
)

// 条目中供筛选的明文字段
const (
	fieldRevision = "revision"
	fieldEntity   = "entity"
)

// client go-redis 中本传输用到的命令子集
type client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRange(ctx context.Context, stream, start, stop string) *redis.XMessageSliceCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	Close() error
}

// Config 连接与消费参数
type Config struct {
	// Client 已有客户端；为空时按 Addr/Password/DB 自建
	Client   redis.UniversalClient
	Addr     string
	Password string
	DB       int

	StreamPrefix string // 默认 "audit:"
	GroupName    string // 默认 "revaudit"
	ConsumerName string // 默认 consumer-<uuid>
	BlockTimeout time.Duration
	ReadCount    int64
	// MaxLen 大于 0 时以近似裁剪（XADD MAXLEN ~）限制每个流的长度，回放只能看到裁剪后保留的修订
	MaxLen     int64
	MaxBackoff time.Duration // 读取失败后的最大退避，默认 5s
	Logger     logging.Logger
}

// Transport 基于 Redis Streams 消费组的传输层
type Transport struct {
	cfg       Config
	client    client
	ownClient bool
	logger    logging.Logger

	mu       sync.RWMutex
	handlers map[string][]messaging.IMessageHandler
	reading  map[string]bool
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

var _ messaging.Transport = (*Transport)(nil)

// NewTransport 创建传输；未提供 Client 时按 Addr 自建并在 Close 时关闭
func NewTransport(cfg Config) (*Transport, error) {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "audit:"
	}
	if cfg.GroupName == "" {
		cfg.GroupName = "revaudit"
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "consumer-" + uuid.NewString()
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 10
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger(nil, "transport.redisstreams")
	}

	t := &Transport{
		cfg:      cfg,
		logger:   cfg.Logger,
		handlers: make(map[string][]messaging.IMessageHandler),
		reading:  make(map[string]bool),
	}
	switch {
	case cfg.Client != nil:
		t.client = cfg.Client
	case cfg.Addr != "":
		t.client = redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		t.ownClient = true
	default:
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "未配置 redis 客户端或地址")
	}
	return t, nil
}

// Publish 将消息追加到其类型对应的流
func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	args, err := t.addArgs(message)
	if err != nil {
		return err
	}
	if err := t.client.XAdd(ctx, args).Err(); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "写入 redis 流失败").
			WithContext("stream", args.Stream).
			WithContext("message_id", message.GetID())
	}
	return nil
}

// PublishAll 以一个 pipeline 追加全部消息；同一修订的事件要么一起写入，要么一起报错
func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	if len(messages) == 0 {
		return nil
	}
	all := make([]*redis.XAddArgs, 0, len(messages))
	for _, msg := range messages {
		args, err := t.addArgs(msg)
		if err != nil {
			return err
		}
		all = append(all, args)
	}
	_, err := t.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, args := range all {
			p.XAdd(ctx, args)
		}
		return nil
	})
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "批量写入 redis 流失败").
			WithContext("count", len(messages))
	}
	return nil
}

func (t *Transport) addArgs(message messaging.IMessage) (*redis.XAddArgs, error) {
	values, err := messaging.EncodeFields(message)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "编码消息失败").
			WithContext("message_id", message.GetID())
	}
	md := message.GetMetadata()
	if rev, ok := md[messaging.MetadataRevision]; ok {
		values[fieldRevision] = rev
	}
	if entity, ok := md[messaging.MetadataEntity].(string); ok {
		values[fieldEntity] = entity
	}
	args := &redis.XAddArgs{Stream: t.StreamName(message.GetType()), Values: values}
	if t.cfg.MaxLen > 0 {
		args.MaxLen = t.cfg.MaxLen
		args.Approx = true
	}
	return args, nil
}

// Replay 按写入顺序返回某类事件中修订号大于 afterRevision 的消息，
// 用于下游在断线或新接入后从已知修订继续；不带修订号的条目被跳过
func (t *Transport) Replay(ctx context.Context, messageType string, afterRevision int64) ([]*messaging.Message, error) {
	stream := t.StreamName(messageType)
	entries, err := t.client.XRange(ctx, stream, "-", "+").Result()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeQueue, "读取 redis 流失败").
			WithContext("stream", stream)
	}
	var out []*messaging.Message
	for _, entry := range entries {
		rev, ok := entryRevision(entry.Values)
		if !ok || rev <= afterRevision {
			continue
		}
		msg, err := messaging.DecodeFields(entry.Values, entry.ID)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "解码流条目失败").
				WithContext("stream", stream).
				WithContext("entry_id", entry.ID)
		}
		out = append(out, msg)
	}
	return out, nil
}

func entryRevision(values map[string]any) (int64, bool) {
	switch v := values[fieldRevision].(type) {
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	case int64:
		return v, true
	}
	return 0, false
}

// Subscribe 登记处理器；已启动时立即开始读取该类型的流
func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[messageType] = append(t.handlers[messageType], handler)
	if t.running {
		t.readLocked(messageType)
	}
	return nil
}

// Unsubscribe 移除处理器，不存在时忽略
func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	handlers := t.handlers[messageType]
	for i, h := range handlers {
		if h == handler {
			t.handlers[messageType] = append(handlers[:i:i], handlers[i+1:]...)
			break
		}
	}
	return nil
}

// Start 为每种已订阅的事件类型启动读取协程；通配订阅读取三类审计事件的流
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.NewError(errors.ErrCodeConflict, "redis streams transport already running")
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.running = true
	for mt := range t.handlers {
		t.readLocked(mt)
	}
	return nil
}

// Close 停止读取协程，并关闭自建的客户端
func (t *Transport) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	t.running = false
	t.cancel = nil
	t.reading = make(map[string]bool)
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	if t.ownClient {
		return t.client.Close()
	}
	return nil
}

// Stats 处理器与事件类型统计
func (t *Transport) Stats() messaging.TransportStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats := messaging.TransportStats{Running: t.running}
	for mt, hs := range t.handlers {
		stats.HandlerCount += len(hs)
		stats.MessageTypes = append(stats.MessageTypes, mt)
	}
	return stats
}

// StreamName 事件类型对应的流键
func (t *Transport) StreamName(messageType string) string {
	return t.cfg.StreamPrefix + messageType
}

// AuditEventTypes 通配订阅时读取的事件类型
var AuditEventTypes = []string{"audit.revision_created", "audit.entity_changed", "audit.collection_changed"}

func (t *Transport) readLocked(messageType string) {
	types := []string{messageType}
	if messageType == messaging.WildcardType {
		types = AuditEventTypes
	}
	for _, mt := range types {
		if t.reading[mt] {
			continue
		}
		t.reading[mt] = true
		t.wg.Add(1)
		go t.readLoop(t.ctx, mt)
	}
}

func (t *Transport) readLoop(ctx context.Context, messageType string) {
	defer t.wg.Done()
	stream := t.StreamName(messageType)
	if err := t.ensureGroup(ctx, stream); err != nil {
		t.logger.Warn(ctx, "创建消费组失败", logging.String("stream", stream), logging.Error(err))
	}
	args := &redis.XReadGroupArgs{
		Group:    t.cfg.GroupName,
		Consumer: t.cfg.ConsumerName,
		Streams:  []string{stream, ">"},
		Count:    t.cfg.ReadCount,
		Block:    t.cfg.BlockTimeout,
	}
	backoff := 100 * time.Millisecond
	for ctx.Err() == nil {
		res, err := t.client.XReadGroup(ctx, args).Result()
		switch {
		case err == nil:
			backoff = 100 * time.Millisecond
		case stdErrors.Is(err, redis.Nil):
			continue
		case ctx.Err() != nil:
			return
		default:
			t.logger.Warn(ctx, "读取审计事件流失败",
				logging.String("stream", stream), logging.Duration("backoff", backoff), logging.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, t.cfg.MaxBackoff)
			continue
		}
		for _, sr := range res {
			for _, entry := range sr.Messages {
				t.deliver(ctx, sr.Stream, entry)
			}
		}
	}
}

// deliver 解码并分发一个条目；无论处理结果如何都确认，失败只记录日志
func (t *Transport) deliver(ctx context.Context, stream string, entry redis.XMessage) {
	defer func() {
		if err := t.client.XAck(ctx, stream, t.cfg.GroupName, entry.ID).Err(); err != nil {
			t.logger.Warn(ctx, "确认流条目失败", logging.String("entry_id", entry.ID), logging.Error(err))
		}
	}()
	msg, err := messaging.DecodeFields(entry.Values, entry.ID)
	if err != nil {
		t.logger.Warn(ctx, "解码流条目失败", logging.String("entry_id", entry.ID), logging.Error(err))
		return
	}

	t.mu.RLock()
	exact := t.handlers[msg.GetType()]
	wildcard := t.handlers[messaging.WildcardType]
	handlers := make([]messaging.IMessageHandler, 0, len(exact)+len(wildcard))
	handlers = append(append(handlers, exact...), wildcard...)
	t.mu.RUnlock()

	for _, h := range handlers {
		if err := h.Handle(ctx, msg); err != nil {
			t.logger.Warn(ctx, "消息处理失败",
				logging.String("handler", h.Type()), logging.String("message_id", msg.GetID()), logging.Error(err))
		}
	}
}

func (t *Transport) ensureGroup(ctx context.Context, stream string) error {
	err := t.client.XGroupCreateMkStream(ctx, stream, t.cfg.GroupName, "0").Err()
	if err != nil && strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP") {
		return nil
	}
	return err
}
