package audit

import (
	"strings"

	"revaudit/errors"
)

// RevisionType 审计行的修订类型，按数值持久化在 REVTYPE 列中
type RevisionType int

const (
	// RevisionAdd 实体/关联在本修订中被创建
	RevisionAdd RevisionType = 0
	// RevisionMod 实体/关联在本修订中被修改
	RevisionMod RevisionType = 1
	// RevisionDel 实体/关联在本修订中被删除
	RevisionDel RevisionType = 2
)

func (t RevisionType) String() string {
	switch t {
	case RevisionAdd:
		return "ADD"
	case RevisionMod:
		return "MOD"
	case RevisionDel:
		return "DEL"
	default:
		return "UNKNOWN"
	}
}

// Valid 是否为已定义的修订类型
func (t RevisionType) Valid() bool {
	return t >= RevisionAdd && t <= RevisionDel
}

// ParseRevisionType 解析名称（ADD/MOD/DEL，大小写不敏感）或数值字符串
func ParseRevisionType(s string) (RevisionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ADD", "0":
		return RevisionAdd, nil
	case "MOD", "1":
		return RevisionMod, nil
	case "DEL", "2":
		return RevisionDel, nil
	}
	return 0, errors.NewErrorf(errors.ErrCodeInvalidInput, "未知的修订类型: %q", s)
}

// RevisionTypeOf 将数据库中读出的 REVTYPE 值转换为 RevisionType
func RevisionTypeOf(v any) (RevisionType, error) {
	switch x := v.(type) {
	case RevisionType:
		return x, nil
	case int64:
		return checked(RevisionType(x))
	case int:
		return checked(RevisionType(x))
	case int32:
		return checked(RevisionType(x))
	case string:
		return ParseRevisionType(x)
	case []byte:
		return ParseRevisionType(string(x))
	}
	return 0, errors.NewErrorf(errors.ErrCodeInvalidInput, "无法识别的修订类型取值 %v (%T)", v, v)
}

func checked(t RevisionType) (RevisionType, error) {
	if !t.Valid() {
		return 0, errors.NewErrorf(errors.ErrCodeInvalidInput, "修订类型越界: %d", int(t))
	}
	return t, nil
}
