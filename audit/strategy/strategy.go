// Package strategy 实现审计策略：判定审计行在某个修订下是否有效的查询条件，以及审计行的写入
package strategy

import (
	"context"

	"revaudit/audit"
	"revaudit/audit/mapper"
	"revaudit/audit/query"
	core "revaudit/data/db"
	"revaudit/logging"
)

// 查询文本中由策略引入的命名参数
const (
	RevisionParameter          = "revision"
	RevisionTimestampParameter = "revisionTimestamp"
)

// revisionInfoAlias 按时间戳查询时关联修订日志表使用的别名
const revisionInfoAlias = "r"

// EntityRestriction 实体级有效性条件的参数
type EntityRestriction struct {
	// Builder 根查询，子查询由其派生以共享别名与参数计数
	Builder    *query.Builder
	Parameters *query.Parameters
	// RevisionProperty 外层实体修订号路径，例如 e.originalId.REV.id
	RevisionProperty string
	// RevisionEndProperty 外层实体结束修订路径，例如 e.REVEND.id
	RevisionEndProperty string
	AddAlias            bool
	IDData              mapper.MiddleIDData
	// RevisionPropertyPath 不带别名的修订号路径
	RevisionPropertyPath string
	OriginalIDProperty   string
	Alias1               string
	Alias2               string
	// Inclusive 为 false 时只匹配严格早于 :revision 的行
	Inclusive bool
	// ByTimestamp 以 :revisionTimestamp 限定修订日志时间
	ByTimestamp bool
}

// AssociationRestriction 中间表（关联）级有效性条件的参数
type AssociationRestriction struct {
	Builder             *query.Builder
	Parameters          *query.Parameters
	RevisionProperty    string
	RevisionEndProperty string
	AddAlias            bool
	ReferencingIDData   mapper.MiddleIDData
	MiddleEntityName    string
	// EEOriginalIDPropertyPath 中间表原始标识路径，例如 ee.originalId
	EEOriginalIDPropertyPath string
	RevisionPropertyPath     string
	OriginalIDProperty       string
	Alias1                   string
	Inclusive                bool
	ByTimestamp              bool
	Components               []mapper.MiddleComponentData
}

// MiddleAlias2 默认策略关联子查询中中间表的别名
const MiddleAlias2 = "ee2"

// Row 一条待写入的审计行
type Row struct {
	AuditTable   string
	ID           map[string]any
	Revision     int64
	RevisionType audit.RevisionType
	// RevisionTimestamp 修订时间（毫秒），有效期策略记录结束时间戳时使用
	RevisionTimestamp int64
	Data              map[string]any
}

// AuditStrategy 审计策略
type AuditStrategy interface {
	Kind() audit.StrategyKind
	// AddEntityAtRevisionRestriction 追加“实体行在 :revision 有效”的条件
	AddEntityAtRevisionRestriction(r EntityRestriction) error
	// AddAssociationAtRevisionRestriction 追加“关联行在 :revision 有效”的条件
	AddAssociationAtRevisionRestriction(r AssociationRestriction) error
	// Perform 写入实体审计行
	Perform(ctx context.Context, db core.IDatabase, row Row) error
	// PerformCollectionChange 写入中间表审计行
	PerformCollectionChange(ctx context.Context, db core.IDatabase, row Row) error
}

// New 按配置选择策略
func New(cfg audit.Config) AuditStrategy {
	base := base{cfg: cfg, logger: logging.ComponentLogger(nil, "audit.strategy")}
	if cfg.Strategy == audit.StrategyValidity {
		return &ValidityStrategy{base: base}
	}
	return &DefaultStrategy{base: base}
}

type base struct {
	cfg    audit.Config
	logger logging.Logger
}

func revisionOp(inclusive bool) string {
	if inclusive {
		return "<="
	}
	return "<"
}
