package logging

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogrusLogger 基于 logrus 的 Logger 实现，适合需要 JSON 结构化输出的部署环境
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger 包装已有的 logrus.Logger；传入 nil 时使用 logrus.StandardLogger()
func NewLogrusLogger(l *logrus.Logger) *LogrusLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

func (l *LogrusLogger) with(ctx context.Context, fields []Field) *logrus.Entry {
	entry := l.entry
	if ctx != nil {
		entry = entry.WithContext(ctx)
	}
	if len(fields) == 0 {
		return entry
	}
	return entry.WithFields(toLogrusFields(fields))
}

func (l *LogrusLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.with(ctx, fields).Debug(msg)
}

func (l *LogrusLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.with(ctx, fields).Info(msg)
}

func (l *LogrusLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.with(ctx, fields).Warn(msg)
}

func (l *LogrusLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.with(ctx, fields).Error(msg)
}

func (l *LogrusLogger) WithFields(fields ...Field) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(toLogrusFields(fields))}
}

func toLogrusFields(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		// logrus 对 error 类型有专门的 key 约定
		if err, ok := f.Value.(error); ok && f.Key == "error" {
			out[logrus.ErrorKey] = err
			continue
		}
		out[f.Key] = f.Value
	}
	return out
}
