// Package dialect 描述各数据库方言在审计引擎中用到的差异点
package dialect

import (
	"strconv"
	"strings"

	core "revaudit/data/db"
	"revaudit/data/db/pagination"
)

// Name 标准化的数据库方言名称
type Name string

const (
	NameMySQL     Name = "mysql"
	NameSQLite    Name = "sqlite"
	NamePostgres  Name = "postgres"
	NameSQLServer Name = "sqlserver"
	NameUnknown   Name = ""
)

// Dialect 表示当前数据库的方言能力
type Dialect struct {
	name Name
}

// New 根据字符串构造方言（大小写不敏感），可识别常见别名与历史名称
func New(name string) Dialect {
	return Dialect{name: lookupName(name)}
}

// FromDatabase 从 IDatabase 实例推断方言
//
// 需要 IDatabase 可选实现 IDialectNameProvider 接口；否则返回 Unknown。
func FromDatabase(db core.IDatabase) Dialect {
	if db == nil {
		return Dialect{name: NameUnknown}
	}
	if p, ok := db.(core.IDialectNameProvider); ok {
		return New(p.GetDialectName())
	}
	return Dialect{name: NameUnknown}
}

// Name 返回标准化方言名
func (d Dialect) Name() Name {
	return d.name
}

// IsKnown 是否为已识别的方言
func (d Dialect) IsKnown() bool {
	return d.name != NameUnknown
}

// QuoteIdentifier 根据方言对标识符进行转义（如表名/列名）。
//
// 约定：
//   - 支持 schema.table 等带点形式，对每一段分别加引号；
//   - MySQL 使用反引号，SQL Server 使用方括号，Postgres/SQLite 使用双引号；
//   - Unknown 方言返回原始字符串；
//   - 该方法不负责校验标识符语法。
func (d Dialect) QuoteIdentifier(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "" {
			continue
		}
		switch d.name {
		case NameMySQL:
			parts[i] = "`" + p + "`"
		case NameSQLServer:
			parts[i] = "[" + p + "]"
		case NameSQLite, NamePostgres:
			parts[i] = `"` + p + `"`
		}
	}
	return strings.Join(parts, ".")
}

// Rebind 将通用占位符 ? 转换为方言特定形式（Postgres 为 $n，SQL Server 为 @pn）。
//
// 单引号字符串字面量中的 ? 保持不变。
func (d Dialect) Rebind(query string) string {
	var prefix string
	switch d.name {
	case NamePostgres:
		prefix = "$"
	case NameSQLServer:
		prefix = "@p"
	default:
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)
	argIndex := 1
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			sb.WriteByte(ch)
		case ch == '?' && !inQuote:
			sb.WriteString(prefix)
			sb.WriteString(strconv.Itoa(argIndex))
			argIndex++
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}

// LimitHandler 返回方言对应的分页改写器
func (d Dialect) LimitHandler() pagination.LimitHandler {
	switch d.name {
	case NameSQLServer:
		return pagination.SQLServer2005LimitHandler{}
	case NameMySQL, NameSQLite, NamePostgres:
		return pagination.LimitOffsetHandler{}
	default:
		return pagination.NoopLimitHandler{}
	}
}

// CorrelatedSubqueryOperator 默认审计策略中 "rev = (select max(...))" 使用的比较运算符
func (d Dialect) CorrelatedSubqueryOperator() string {
	return "="
}

// SupportsDeleteLimit 当前方言是否支持 DELETE ... LIMIT 语法
func (d Dialect) SupportsDeleteLimit() bool {
	switch d.name {
	case NameMySQL, NameSQLite:
		return true
	default:
		return false
	}
}

// IsUniqueViolation 基于错误消息关键字判断唯一键/主键冲突
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch d.name {
	case NameMySQL:
		return strings.Contains(msg, "duplicate entry") ||
			strings.Contains(msg, "duplicate key")
	case NameSQLite:
		return strings.Contains(msg, "unique constraint failed")
	case NameSQLServer:
		return strings.Contains(msg, "violation of primary key constraint") ||
			strings.Contains(msg, "cannot insert duplicate key")
	default:
		return strings.Contains(msg, "duplicate key") ||
			strings.Contains(msg, "unique constraint")
	}
}
