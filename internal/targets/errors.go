package targets

import "fmt"

// ResolutionError 表示目标主机名无法解析为可探测的地址。
type ResolutionError struct {
	Host   string
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %q: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("resolve %q: %s", e.Host, e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// ArgumentError 表示调用方提供的输入格式不合法。
type ArgumentError struct {
	Field string
	Value string
	Msg   string
}

func (e *ArgumentError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Msg)
}
