package contract

import "fmt"

// errorf 以哨兵错误为根包装格式化消息。
func errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
