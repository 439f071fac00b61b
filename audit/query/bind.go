package query

import (
	"strings"

	"revaudit/errors"
)

// BindNamed 将 :name 形式的命名参数替换为 ? 并按出现顺序返回取值。
//
// 单引号字面量内的内容与 "::" 类型转换不会被当作参数；缺少取值时返回 INVALID_INPUT 错误。
func BindNamed(query string, values map[string]any) (string, []any, error) {
	var (
		sb      strings.Builder
		args    []any
		inQuote bool
	)
	sb.Grow(len(query))

	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inQuote = !inQuote
			sb.WriteByte(c)
			continue
		}
		if inQuote || c != ':' {
			sb.WriteByte(c)
			continue
		}
		if i+1 < len(query) && query[i+1] == ':' {
			sb.WriteString("::")
			i++
			continue
		}
		if i+1 >= len(query) || !isNameStart(query[i+1]) {
			sb.WriteByte(c)
			continue
		}

		j := i + 1
		for j < len(query) && isNamePart(query[j]) {
			j++
		}
		name := query[i+1 : j]
		v, ok := values[name]
		if !ok {
			return "", nil, errors.NewErrorf(errors.ErrCodeInvalidInput, "缺少命名参数 :%s 的取值", name)
		}
		sb.WriteByte('?')
		args = append(args, v)
		i = j - 1
	}
	return sb.String(), args, nil
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNamePart(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}
