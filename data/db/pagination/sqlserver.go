package pagination

import (
	"fmt"
	"regexp"
	"strings"
)

const rowNumberColumn = "__row_nr__"

var (
	aliasPattern      = regexp.MustCompile(`(?i)\sas\s+(\S+)\s*$`)
	identifierPattern = regexp.MustCompile(`^(?:[A-Za-z_#@][\w$#@]*|\[[^\]]+\]|"[^"]+")$`)
)

// 不能作为隐式别名的关键字：出现在列表达式末尾或倒数第二位时表示表达式尚未结束
var nonAliasWords = map[string]struct{}{
	"and": {}, "or": {}, "not": {}, "is": {}, "null": {}, "like": {}, "in": {},
	"between": {}, "case": {}, "when": {}, "then": {}, "else": {}, "end": {},
	"collate": {}, "distinct": {}, "all": {},
}

// SQLServer2005LimitHandler 基于 ROW_NUMBER() 窗口函数的分页改写。
//
// 有偏移时，原查询被包裹为：
//
//	WITH query AS (SELECT inner_query.*, ROW_NUMBER() OVER (ORDER BY CURRENT_TIMESTAMP) as __row_nr__
//	  FROM ( <原查询> ) inner_query ) SELECT <别名列表> FROM query WHERE __row_nr__ >= ? AND __row_nr__ < ?
//
// 原查询含顶层 ORDER BY 时额外插入 TOP(?)；无偏移时只插入 TOP(?)。
// 关键字按单词边界匹配，换行、制表符等任意空白均可作为分隔。
type SQLServer2005LimitHandler struct{}

func (SQLServer2005LimitHandler) SupportsLimit() bool       { return true }
func (SQLServer2005LimitHandler) SupportsLimitOffset() bool { return true }

// Process 改写 sql 并给出需要绑定的分页参数。
//
// 行号上下界为 1 起始的 [offset+1, offset+limit+1)：偏移 5、每页 10 时
// EndArgs 为 (6, 16)，取回第 6 到第 15 行，而不是 (15, 25)。
// TOP(?) 的参数为 offset+limit。
func (SQLServer2005LimitHandler) Process(sql string, sel *RowSelection) (Processed, error) {
	if !HasMaxRows(sel) {
		return Processed{SQL: sql}, nil
	}
	if !balanced(sql) {
		return Processed{}, fmt.Errorf("%w: 括号不平衡", ErrMalformedSQL)
	}

	s := trimStatement(sql)
	if shallowIndexOfWord(s, "select", 0) < 0 {
		return Processed{}, fmt.Errorf("%w: 缺少顶层 SELECT", ErrMalformedSQL)
	}

	offset, limit := FirstRow(sel), sel.MaxRows
	top := offset + limit

	if offset == 0 {
		return Processed{SQL: addTopExpression(s), StartArgs: []any{top}}, nil
	}

	s, selectClause, err := fillAliasInSelectClause(s)
	if err != nil {
		return Processed{}, err
	}

	var startArgs []any
	if shallowIndexOfWord(s, "order by", 0) > 0 {
		s = addTopExpression(s)
		startArgs = []any{top}
	}

	var sb strings.Builder
	sb.WriteString("WITH query AS (")
	sb.WriteString("SELECT inner_query.*, ROW_NUMBER() OVER (ORDER BY CURRENT_TIMESTAMP) as ")
	sb.WriteString(rowNumberColumn)
	sb.WriteString(" FROM ( ")
	sb.WriteString(s)
	sb.WriteString(" ) inner_query ")
	sb.WriteString(") SELECT ")
	sb.WriteString(selectClause)
	sb.WriteString(" FROM query WHERE ")
	sb.WriteString(rowNumberColumn)
	sb.WriteString(" >= ? AND ")
	sb.WriteString(rowNumberColumn)
	sb.WriteString(" < ?")

	return Processed{
		SQL:       sb.String(),
		StartArgs: startArgs,
		EndArgs:   []any{offset + 1, offset + limit + 1},
	}, nil
}

// fillAliasInSelectClause 为顶层 SELECT 列表中缺少别名的列补上 page_N 别名，
// 返回改写后的 SQL 与外层查询使用的列清单；存在 * 或 x.* 时外层使用 *。
func fillAliasInSelectClause(s string) (string, string, error) {
	listStart := selectListStart(s)
	fromPos := shallowIndexOfWord(s, "from", listStart)
	if fromPos < 0 {
		return "", "", fmt.Errorf("%w: 缺少顶层 FROM", ErrMalformedSQL)
	}

	var (
		aliases  []string
		unique   int
		multiple bool
	)
	columns := splitColumns(s[listStart:fromPos])
	for i, expr := range columns {
		if selectsMultipleColumns(expr) {
			multiple = true
			continue
		}
		alias := getAlias(expr)
		if alias == "" {
			alias = fmt.Sprintf("page_%d", unique)
			unique++
			body := strings.TrimRightFunc(expr, isSpaceRune)
			trailing := expr[len(body):]
			if trailing == "" && i == len(columns)-1 {
				trailing = " "
			}
			columns[i] = body + " as " + alias + trailing
		}
		aliases = append(aliases, alias)
	}

	s = s[:listStart] + strings.Join(columns, ",") + s[fromPos:]
	if multiple {
		return s, "*", nil
	}
	return s, strings.Join(aliases, ", "), nil
}

// selectListStart 返回顶层 SELECT（及紧随其后的 DISTINCT）之后列清单的起始位置
func selectListStart(s string) int {
	at := shallowIndexOfWord(s, "select", 0) + len("select")
	if d := shallowIndexOfWord(s, "distinct", at); d >= 0 && strings.TrimSpace(s[at:d]) == "" {
		at = d + len("distinct")
	}
	return at
}

// splitColumns 按顶层逗号切分列清单，保留每列两侧的空白
func splitColumns(list string) []string {
	var (
		columns []string
		depth   int
		start   int
	)
	for i := 0; i < len(list); i++ {
		switch list[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				columns = append(columns, list[start:i])
				start = i + 1
			}
		}
	}
	return append(columns, list[start:])
}

// addTopExpression 在 DISTINCT（若有）或 SELECT 之后插入 TOP(?)
func addTopExpression(s string) string {
	at := selectListStart(s)
	return s[:at] + " TOP(?)" + s[at:]
}

// getAlias 返回列表达式的别名，支持 "expr as x" 与省略 AS 的 "expr x" 两种写法；
// 括号内的内容（如 cast(a as int)）折叠为 () 后再匹配
func getAlias(expr string) string {
	var sb strings.Builder
	depth := 0
	for i := 0; i < len(expr); i++ {
		switch c := expr[i]; {
		case c == '(':
			if depth == 0 {
				sb.WriteByte(c)
			}
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				sb.WriteByte(c)
			}
		case depth == 0:
			sb.WriteByte(c)
		}
	}
	flat := " " + sb.String()
	if m := aliasPattern.FindStringSubmatch(flat); m != nil {
		return m[1]
	}

	fields := strings.Fields(flat)
	if len(fields) < 2 {
		return ""
	}
	last, prev := fields[len(fields)-1], fields[len(fields)-2]
	if !identifierPattern.MatchString(last) || reservedWord(last) || reservedWord(prev) {
		return ""
	}
	if strings.ContainsAny(prev[len(prev)-1:], "+-*/%=<>|&^~.,") {
		return ""
	}
	return last
}

func reservedWord(w string) bool {
	_, ok := nonAliasWords[asciiLower(w)]
	return ok
}

func selectsMultipleColumns(expr string) bool {
	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return false
	}
	last := fields[len(fields)-1]
	return last == "*" || strings.HasSuffix(last, ".*")
}

// shallowIndexOfWord 大小写不敏感地查找位于顶层（括号外）的单词，返回单词首字符位置。
// 单词两侧须为字符串边界、空白或括号等非标识符字符；多词关键字（如 "order by"）之间允许任意空白。
func shallowIndexOfWord(s, word string, fromIndex int) int {
	parts := strings.Fields(asciiLower(word))
	if len(parts) == 0 {
		return -1
	}
	lower := asciiLower(s)
	depth := 0
	for i := 0; i < len(lower); i++ {
		switch lower[i] {
		case '(':
			depth++
			continue
		case ')':
			depth--
			continue
		}
		if i < fromIndex || depth != 0 || (i > 0 && isWordByte(lower[i-1])) {
			continue
		}
		end, ok := matchWords(lower, i, parts)
		if ok && (end == len(lower) || !isWordByte(lower[end])) {
			return i
		}
	}
	return -1
}

// matchWords 检查 at 处是否依次出现 parts，词与词之间至少一个空白；返回匹配结束位置
func matchWords(lower string, at int, parts []string) (int, bool) {
	pos := at
	for k, p := range parts {
		if k > 0 {
			gap := pos
			for pos < len(lower) && isSpace(lower[pos]) {
				pos++
			}
			if pos == gap {
				return 0, false
			}
		}
		if !strings.HasPrefix(lower[pos:], p) {
			return 0, false
		}
		pos += len(p)
	}
	return pos, true
}

// isWordByte 标识符字符及引用标识符的定界符
func isWordByte(c byte) bool {
	return c == '_' || c == '.' || c == '$' || c == '@' || c == '#' ||
		c == '[' || c == ']' || c == '"' || c == '`' ||
		c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isSpaceRune(r rune) bool {
	return r < 0x80 && isSpace(byte(r))
}

func balanced(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

func trimStatement(sql string) string {
	s := strings.TrimSpace(sql)
	for strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	}
	return s
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
