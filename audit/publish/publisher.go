// Package publish 将审计变更转换为消息并经由 messaging 传输层对外发布
package publish

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"revaudit/audit/revision"
	"revaudit/logging"
	"revaudit/messaging"
)

// 消息类型
const (
	TypeEntityChanged     = "audit.entity_changed"
	TypeCollectionChanged = "audit.collection_changed"
	TypeRevisionCreated   = "audit.revision_created"
)

// EntityChanged audit.entity_changed 的载荷
type EntityChanged struct {
	Entity       string `json:"entity"`
	ID           any    `json:"id"`
	Revision     int64  `json:"revision"`
	RevisionType string `json:"revision_type"`
}

// CollectionChanged audit.collection_changed 的载荷
type CollectionChanged struct {
	Entity       string `json:"entity"`
	OwnerID      any    `json:"owner_id"`
	Role         string `json:"role"`
	Revision     int64  `json:"revision"`
	RevisionType string `json:"revision_type"`
}

// RevisionCreated audit.revision_created 的载荷；Entities 为本修订中变更过的实体名，升序
type RevisionCreated struct {
	Revision  int64    `json:"revision"`
	Timestamp int64    `json:"timestamp"`
	Entities  []string `json:"entities"`
}

// Mode 发布时机
type Mode int

const (
	// AfterCommit 缓存到事务提交后一次性发布，回滚则丢弃
	AfterCommit Mode = iota
	// Immediate 收到变更通知即发布，事务回滚时消息已发出
	Immediate
)

// Option 发布器选项
type Option func(*ChangePublisher)

// WithMode 设置发布时机，默认 AfterCommit
func WithMode(m Mode) Option {
	return func(p *ChangePublisher) { p.mode = m }
}

// WithSource 写入每条消息元数据的发布方名称
func WithSource(name string) Option {
	return func(p *ChangePublisher) { p.source = name }
}

// WithLogger 设置日志
func WithLogger(l logging.Logger) Option {
	return func(p *ChangePublisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// ChangePublisher 作为次要观察者接收变更通知（WithObservers），
// 并作为完成监听器（tracking.WithCompletionListeners）在提交后发布。
// 发布失败只记录日志，不影响事务。
type ChangePublisher struct {
	publisher messaging.Publisher
	mapping   revision.EntityMapping
	mode      Mode
	source    string
	logger    logging.Logger

	mu      sync.Mutex
	pending map[any]*batch
}

type batch struct {
	span     trace.SpanContext
	messages []messaging.IMessage
	entities map[string]struct{}
}

var (
	_ revision.EntityTrackingRevisionListener = (*ChangePublisher)(nil)
	_ revision.CompletionListener             = (*ChangePublisher)(nil)
)

// New 创建发布器；mapping 用于读取修订号与时间戳
func New(publisher messaging.Publisher, mapping revision.EntityMapping, opts ...Option) *ChangePublisher {
	p := &ChangePublisher{
		publisher: publisher,
		mapping:   mapping,
		source:    "revaudit",
		logger:    logging.ComponentLogger(nil, "audit.publish"),
		pending:   make(map[any]*batch),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewRevision 为修订开始一个消息批次，并记下当前 span 以便提交后发布的消息仍关联到它
func (p *ChangePublisher) NewRevision(ctx context.Context, rev any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[rev] = &batch{span: trace.SpanContextFromContext(ctx), entities: make(map[string]struct{})}
	return nil
}

func (p *ChangePublisher) EntityChanged(ctx context.Context, ev revision.EntityChangeEvent) error {
	number := p.mapping.ID.Get(ev.RevisionEntity)
	msg := p.message(TypeEntityChanged, number, ev.EntityName, EntityChanged{
		Entity:       ev.EntityName,
		ID:           ev.EntityID,
		Revision:     number,
		RevisionType: ev.RevisionType.String(),
	})
	return p.add(ctx, ev.RevisionEntity, ev.EntityName, msg)
}

func (p *ChangePublisher) CollectionChanged(ctx context.Context, ev revision.CollectionChangeEvent) error {
	number := p.mapping.ID.Get(ev.RevisionEntity)
	msg := p.message(TypeCollectionChanged, number, ev.EntityName, CollectionChanged{
		Entity:       ev.EntityName,
		OwnerID:      ev.EntityID,
		Role:         ev.Role,
		Revision:     number,
		RevisionType: ev.RevisionType.String(),
	})
	return p.add(ctx, ev.RevisionEntity, ev.EntityName, msg)
}

func (p *ChangePublisher) add(ctx context.Context, rev any, entity string, msg *messaging.Message) error {
	if p.mode == Immediate {
		return p.publisher.Publish(ctx, msg)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.pending[rev]
	if !ok {
		b = &batch{span: trace.SpanContextFromContext(ctx), entities: make(map[string]struct{})}
		p.pending[rev] = b
	}
	b.messages = append(b.messages, msg)
	b.entities[entity] = struct{}{}
	return nil
}

// RevisionCompleted 提交时先发布 audit.revision_created，再按通知顺序发布缓存的变更
func (p *ChangePublisher) RevisionCompleted(ctx context.Context, rev any, committed bool) {
	p.mu.Lock()
	b, ok := p.pending[rev]
	delete(p.pending, rev)
	p.mu.Unlock()
	if !ok || p.mode == Immediate {
		return
	}

	number := p.mapping.ID.Get(rev)
	if !committed {
		p.logger.Debug(ctx, "事务已回滚，丢弃变更事件",
			logging.Int64("revision", number), logging.Int("messages", len(b.messages)))
		return
	}

	names := make([]string, 0, len(b.entities))
	for n := range b.entities {
		names = append(names, n)
	}
	sort.Strings(names)
	created := p.message(TypeRevisionCreated, number, "", RevisionCreated{
		Revision:  number,
		Timestamp: p.mapping.Timestamp.Get(rev),
		Entities:  names,
	})

	if b.span.IsValid() {
		ctx = trace.ContextWithSpanContext(ctx, b.span)
	}
	messages := append([]messaging.IMessage{created}, b.messages...)
	if err := p.publisher.PublishAll(ctx, messages); err != nil {
		p.logger.Warn(ctx, "发布变更事件失败",
			logging.Int64("revision", number), logging.Int("messages", len(messages)), logging.Error(err))
	}
}

// Pending 尚未发布的修订数
func (p *ChangePublisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *ChangePublisher) message(msgType string, number int64, entity string, payload any) *messaging.Message {
	msg := messaging.NewMessage(msgType, payload).
		SetMetadata(messaging.MetadataRevision, number).
		SetMetadata(messaging.MetadataPublisher, p.source)
	if entity != "" {
		msg.SetMetadata(messaging.MetadataEntity, entity)
	}
	return msg
}
