// Package orm 提供审计引擎所需的最小会话层：持久化上下文、动作队列、延迟代理与脏检查
package orm

import (
	stdErrors "errors"

	"revaudit/errors"
)

var (
	// ErrNotFound 表示记录未找到。
	ErrNotFound = stdErrors.New("orm: record not found")
	// ErrUnknownEntity 表示实体类型或实体名未登记。
	ErrUnknownEntity = stdErrors.New("orm: unknown entity")
	// ErrTransientEntity 表示实体未被当前会话管理。
	ErrTransientEntity = stdErrors.New("orm: transient entity")
)

func init() {
	errors.Register(ErrNotFound, errors.ErrCodeNotFound, "记录不存在")
	errors.Register(ErrUnknownEntity, errors.ErrCodeMapping, "实体未登记")
	errors.Register(ErrTransientEntity, errors.ErrCodeInvalidInput, "实体未被会话管理")
}
