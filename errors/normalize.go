package errors

import (
	stdErrors "errors"
	"sync"
)

type mapping struct {
	sentinel error
	code     ErrorCode
	message  string
}

var (
	mappingsMu sync.RWMutex
	mappings   []mapping
)

// Register 登记一个包级哨兵错误与错误码的映射，供 Normalize 使用。
//
// 各包在 init() 中登记自己的哨兵，本包因此不需要反向依赖业务包。
func Register(sentinel error, code ErrorCode, message string) {
	if sentinel == nil {
		return
	}
	mappingsMu.Lock()
	defer mappingsMu.Unlock()
	mappings = append(mappings, mapping{sentinel: sentinel, code: code, message: message})
}

// Normalize 将各层的错误规范化为 AppError。
//
// 注意：
//   - 如果传入的 err 已经是 IError，则原样返回；
//   - 未登记的错误保持原样，不强行包装，交由调用方决定是否 Wrap。
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(IError); ok {
		return err
	}

	mappingsMu.RLock()
	defer mappingsMu.RUnlock()
	for _, m := range mappings {
		if stdErrors.Is(err, m.sentinel) {
			return WrapError(err, m.code, m.message)
		}
	}

	return err
}
