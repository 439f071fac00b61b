package dialect

import "strings"

// legacyNames 方言别名与历史类名到标准名称的映射。
//
// 进程启动时构建一次，之后只读。
var legacyNames = map[string]Name{
	"mysql":      NameMySQL,
	"mariadb":    NameMySQL,
	"sqlite":     NameSQLite,
	"sqlite3":    NameSQLite,
	"postgres":   NamePostgres,
	"postgresql": NamePostgres,
	"pgsql":      NamePostgres,
	"pgx":        NamePostgres,
	"sqlserver":  NameSQLServer,
	"mssql":      NameSQLServer,

	"org.hibernate.dialect.sqlserverdialect":        NameSQLServer,
	"org.hibernate.dialect.sqlserver2005dialect":    NameSQLServer,
	"org.hibernate.dialect.sqlserver2008dialect":    NameSQLServer,
	"org.hibernate.dialect.sqlserver2012dialect":    NameSQLServer,
	"org.hibernate.dialect.mysqldialect":            NameMySQL,
	"org.hibernate.dialect.mysql5dialect":           NameMySQL,
	"org.hibernate.dialect.mysql57dialect":          NameMySQL,
	"org.hibernate.dialect.postgresqldialect":       NamePostgres,
	"org.hibernate.dialect.postgresql82dialect":     NamePostgres,
	"org.hibernate.dialect.postgresql9dialect":      NamePostgres,
	"org.hibernate.community.dialect.sqlitedialect": NameSQLite,
}

// lookupName 先按映射表精确匹配，再按前缀匹配带版本号的驱动名（如 "postgres15"）
func lookupName(name string) Name {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return NameUnknown
	}
	if n, ok := legacyNames[key]; ok {
		return n
	}
	for _, n := range []Name{NameSQLServer, NamePostgres, NameSQLite, NameMySQL} {
		if strings.HasPrefix(key, string(n)) {
			return n
		}
	}
	return NameUnknown
}

// Known 判断名称是否能被映射为已知方言
func Known(name string) bool {
	return lookupName(name) != NameUnknown
}
