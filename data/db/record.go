package db

import "strings"

// Record 按列名索引的一行查询结果
type Record map[string]any

// Get 按列名读取值，列名大小写不敏感
func (r Record) Get(column string) (any, bool) {
	if v, ok := r[column]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

// Int64 读取整数列，兼容驱动返回的各种整数/浮点类型
func (r Record) Int64(column string) (int64, bool) {
	v, ok := r.Get(column)
	if !ok {
		return 0, false
	}
	return ToInt64(v)
}

// ToInt64 将驱动返回的数值转换为 int64
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

// ScanRecords 读取全部行并关闭结果集。
//
// 同名列（例如多表投影 ee.*, e.* 中重复的 REV）保留首次出现的值；
// []byte 统一转换为 string。
func ScanRecords(rows IRows) ([]Record, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		rec := make(Record, len(cols))
		for i, col := range cols {
			if _, dup := rec[col]; dup {
				continue
			}
			if b, ok := values[i].([]byte); ok {
				rec[col] = string(b)
				continue
			}
			rec[col] = values[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
