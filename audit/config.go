// Package audit 定义审计引擎共享的配置、修订类型与实体/集合映射元数据
package audit

import (
	"context"
	"strconv"
	"strings"

	core "revaudit/data/db"
	"revaudit/data/db/dialect"
	"revaudit/errors"
	"revaudit/logging"
	"revaudit/validation"
)

// StrategyKind 审计策略类型
type StrategyKind string

const (
	// StrategyDefault 以 MAX 子查询判定某修订下的有效行
	StrategyDefault StrategyKind = "default"
	// StrategyValidity 以显式的起止修订列判定有效行
	StrategyValidity StrategyKind = "validity"
)

// 配置项键名
const (
	PropertyPrefix = "revaudit."

	KeyAuditTableSuffix               = PropertyPrefix + "audit_table_suffix"
	KeyAuditTablePrefix               = PropertyPrefix + "audit_table_prefix"
	KeyRevisionFieldName              = PropertyPrefix + "revision_field_name"
	KeyRevisionTypeFieldName          = PropertyPrefix + "revision_type_field_name"
	KeyAuditStrategy                  = PropertyPrefix + "audit_strategy"
	KeyValidityEndRevFieldName        = PropertyPrefix + "audit_strategy_validity_end_rev_field_name"
	KeyValidityStoreRevendTimestamp   = PropertyPrefix + "audit_strategy_validity_store_revend_timestamp"
	KeyValidityRevendTimestampField   = PropertyPrefix + "audit_strategy_validity_revend_timestamp_field_name"
	KeyRevisionOnCollectionChange     = PropertyPrefix + "revision_on_collection_change"
	KeyStoreDataAtDelete              = PropertyPrefix + "store_data_at_delete"
	KeyTrackEntitiesChangedInRevision = PropertyPrefix + "track_entities_changed_in_revision"
	KeyUseRevisionEntityWithNativeID  = PropertyPrefix + "use_revision_entity_with_native_id"
	KeyNativeSQL                      = PropertyPrefix + "native_sql"
	KeyCorrelatedSubqueryOperator     = PropertyPrefix + "correlated_subquery_operator"
	KeyDialect                        = PropertyPrefix + "dialect"
)

// Config 审计引擎配置
type Config struct {
	AuditTablePrefix string
	AuditTableSuffix string

	RevisionFieldName     string
	RevisionTypeFieldName string

	Strategy                         StrategyKind
	ValidityEndRevisionFieldName     string
	ValidityStoreRevendTimestamp     bool
	ValidityRevendTimestampFieldName string

	RevisionOnCollectionChange     bool
	StoreDataAtDelete              bool
	TrackEntitiesChangedInRevision bool
	UseRevisionEntityWithNativeID  bool

	// NativeSQL 为 true 时生成可直接执行的 SQL（列名路径），否则生成对象查询语言文本
	NativeSQL bool
	// CorrelatedSubqueryOperator 默认策略关联子查询使用的比较符，"=" 或 "in"
	CorrelatedSubqueryOperator string
	Dialect                    string

	RevisionInfoEntityName     string
	RevisionInfoIDName         string
	RevisionInfoTimestampName  string
	ChangedEntitiesTableName   string
	ChangedEntitiesColumnName  string
	OriginalIDPropertyName     string
	RevisionInfoIDPropertyName string
	RevisionInfoTimestampProp  string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		AuditTableSuffix:                 "_AUD",
		RevisionFieldName:                "REV",
		RevisionTypeFieldName:            "REVTYPE",
		Strategy:                         StrategyDefault,
		ValidityEndRevisionFieldName:     "REVEND",
		ValidityRevendTimestampFieldName: "REVEND_TSTMP",
		RevisionOnCollectionChange:       true,
		UseRevisionEntityWithNativeID:    true,
		CorrelatedSubqueryOperator:       "=",
		RevisionInfoEntityName:           "REVINFO",
		RevisionInfoIDName:               "REV",
		RevisionInfoTimestampName:        "REVTSTMP",
		ChangedEntitiesTableName:         "REVCHANGES",
		ChangedEntitiesColumnName:        "ENTITYNAME",
		OriginalIDPropertyName:           "originalId",
		RevisionInfoIDPropertyName:       "id",
		RevisionInfoTimestampProp:        "timestamp",
	}
}

// FromProperties 在默认配置之上应用 revaudit.* 配置项并校验
func FromProperties(props map[string]string) (Config, error) {
	cfg := DefaultConfig()

	str := func(key string, dst *string) {
		if v, ok := props[key]; ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var boolErr error
	boolean := func(key string, dst *bool) {
		v, ok := props[key]
		if !ok || boolErr != nil {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			boolErr = errors.NewErrorf(errors.ErrCodeValidation, "配置项 %s 不是布尔值: %q", key, v)
			return
		}
		*dst = b
	}

	str(KeyAuditTableSuffix, &cfg.AuditTableSuffix)
	str(KeyAuditTablePrefix, &cfg.AuditTablePrefix)
	str(KeyRevisionFieldName, &cfg.RevisionFieldName)
	str(KeyRevisionTypeFieldName, &cfg.RevisionTypeFieldName)
	if v, ok := props[KeyAuditStrategy]; ok {
		cfg.Strategy = StrategyKind(strings.ToLower(strings.TrimSpace(v)))
	}
	str(KeyValidityEndRevFieldName, &cfg.ValidityEndRevisionFieldName)
	boolean(KeyValidityStoreRevendTimestamp, &cfg.ValidityStoreRevendTimestamp)
	str(KeyValidityRevendTimestampField, &cfg.ValidityRevendTimestampFieldName)
	boolean(KeyRevisionOnCollectionChange, &cfg.RevisionOnCollectionChange)
	boolean(KeyStoreDataAtDelete, &cfg.StoreDataAtDelete)
	boolean(KeyTrackEntitiesChangedInRevision, &cfg.TrackEntitiesChangedInRevision)
	boolean(KeyUseRevisionEntityWithNativeID, &cfg.UseRevisionEntityWithNativeID)
	boolean(KeyNativeSQL, &cfg.NativeSQL)
	str(KeyCorrelatedSubqueryOperator, &cfg.CorrelatedSubqueryOperator)
	str(KeyDialect, &cfg.Dialect)
	if boolErr != nil {
		return Config{}, boolErr
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 校验配置；所有进入查询文本的名字必须是合法标识符
func (c Config) Validate() error {
	if c.AuditTablePrefix == "" && c.AuditTableSuffix == "" {
		return errors.NewValidationError("审计表前缀与后缀不能同时为空")
	}
	if c.AuditTablePrefix != "" && !validation.IsIdentifier(c.AuditTablePrefix) {
		return errors.NewErrorf(errors.ErrCodeValidation, "审计表前缀不是合法的标识符: %q", c.AuditTablePrefix)
	}
	if c.AuditTableSuffix != "" && !validation.IsIdentifier("x"+c.AuditTableSuffix) {
		return errors.NewErrorf(errors.ErrCodeValidation, "审计表后缀不是合法的标识符: %q", c.AuditTableSuffix)
	}
	if err := validation.ValidateIdentifiers("列名",
		c.RevisionFieldName, c.RevisionTypeFieldName,
		c.RevisionInfoEntityName, c.RevisionInfoIDName, c.RevisionInfoTimestampName,
		c.ChangedEntitiesTableName, c.ChangedEntitiesColumnName,
		c.OriginalIDPropertyName, c.RevisionInfoIDPropertyName, c.RevisionInfoTimestampProp,
	); err != nil {
		return err
	}
	if err := validation.ValidateEnum(string(c.Strategy), "审计策略",
		[]string{string(StrategyDefault), string(StrategyValidity)}); err != nil {
		return err
	}
	if c.Strategy == StrategyValidity {
		if err := validation.ValidateIdentifier(c.ValidityEndRevisionFieldName, "结束修订列"); err != nil {
			return err
		}
		if c.ValidityStoreRevendTimestamp {
			if err := validation.ValidateIdentifier(c.ValidityRevendTimestampFieldName, "结束时间戳列"); err != nil {
				return err
			}
		}
	}
	if err := validation.ValidateEnum(strings.ToLower(c.CorrelatedSubqueryOperator), "关联子查询比较符",
		[]string{"=", "in"}); err != nil {
		return err
	}
	if c.Dialect != "" && !dialect.Known(c.Dialect) {
		return errors.NewMappingError("未知的数据库方言: %s", c.Dialect)
	}
	return nil
}

// ApplyDialect 记录方言名；未显式配置比较符时采用方言的默认值
func (c Config) ApplyDialect(d dialect.Dialect) Config {
	if d.IsKnown() {
		c.Dialect = string(d.Name())
	}
	if c.CorrelatedSubqueryOperator == "" {
		c.CorrelatedSubqueryOperator = d.CorrelatedSubqueryOperator()
	}
	return c
}

// InitiateDialect 决定运行时方言并应用到配置副本上。
//
// 顺序：配置项 revaudit.dialect（经历史名称表映射）、resolvers、db 连接推断。
// 出错的解析器被记录并跳过；都无法判断时返回 Unknown 方言，配置保持不变。
func InitiateDialect(ctx context.Context, cfg Config, db core.IDatabase, logger logging.Logger, resolvers ...dialect.Resolver) (Config, dialect.Dialect, error) {
	settings := map[string]string{dialect.SettingDialect: cfg.Dialect}
	d, err := dialect.Initiate(ctx, settings, db, logger, resolvers...)
	if err != nil {
		return Config{}, dialect.Dialect{}, err
	}
	return cfg.ApplyDialect(d), d, nil
}

// WithNativeSQL 返回切换了查询文本模式的配置副本
func (c Config) WithNativeSQL(native bool) Config {
	c.NativeSQL = native
	return c
}

// AuditEntityName 实体对应的审计表（审计实体）名
func (c Config) AuditEntityName(entityName string) string {
	return c.AuditTablePrefix + entityName + c.AuditTableSuffix
}

// OriginalIDProp 审计行原始标识组件的属性名；原生 SQL 下标识列直接位于表中
func (c Config) OriginalIDProp() string {
	if c.NativeSQL {
		return ""
	}
	return c.OriginalIDPropertyName
}

// RevisionNumberPath 审计行修订号的属性路径（不含别名）
func (c Config) RevisionNumberPath() string {
	if c.NativeSQL {
		return c.RevisionFieldName
	}
	return c.OriginalIDPropertyName + "." + c.RevisionFieldName + "." + c.RevisionInfoIDPropertyName
}

// RevisionEndPath 有效期策略结束修订的属性路径
func (c Config) RevisionEndPath() string {
	if c.NativeSQL {
		return c.ValidityEndRevisionFieldName
	}
	return c.ValidityEndRevisionFieldName + "." + c.RevisionInfoIDPropertyName
}

// RevisionEndTimestampPath 有效期策略结束时间戳的属性路径
func (c Config) RevisionEndTimestampPath() string {
	return c.ValidityRevendTimestampFieldName
}

// RevisionTypeProp 修订类型属性
func (c Config) RevisionTypeProp() string {
	return c.RevisionTypeFieldName
}

// RevisionInfoIDPath 修订日志实体的主键属性
func (c Config) RevisionInfoIDPath() string {
	if c.NativeSQL {
		return c.RevisionInfoIDName
	}
	return c.RevisionInfoIDPropertyName
}

// RevisionInfoTimestampPath 修订日志实体的时间戳属性
func (c Config) RevisionInfoTimestampPath() string {
	if c.NativeSQL {
		return c.RevisionInfoTimestampName
	}
	return c.RevisionInfoTimestampProp
}
