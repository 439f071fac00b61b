// Package middleware 提供消息总线中间件
package middleware

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"revaudit/messaging"
)

// TracingMiddleware 将当前 span 的 trace_id/span_id 写入消息元数据，已有取值不覆盖。
// 审计事件在 audit.process span 内发布，消费者据此关联到产生修订的事务。
type TracingMiddleware struct{}

func NewTracingMiddleware() *TracingMiddleware { return &TracingMiddleware{} }

func (m *TracingMiddleware) Name() string { return "Tracing" }

func (m *TracingMiddleware) Handle(ctx context.Context, message messaging.IMessage, next messaging.HandlerFunc) error {
	if message == nil {
		return next(ctx, message)
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return next(ctx, message)
	}
	md := message.GetMetadata()
	if v, ok := md[messaging.MetadataTraceID]; !ok || v == "" {
		md[messaging.MetadataTraceID] = sc.TraceID().String()
	}
	if v, ok := md[messaging.MetadataSpanID]; !ok || v == "" {
		md[messaging.MetadataSpanID] = sc.SpanID().String()
	}
	return next(ctx, message)
}
