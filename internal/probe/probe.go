// Package probe 定义存活探测与端口探测能力及其实现。
//
// 每种能力至少有两个实现：基于原生套接字的实现，以及调用系统工具（ping、nc）的实现。
// 所有实现都只做一次尝试，任何失败都视为不可达或关闭，不向调用方返回错误。
package probe

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/hitushen/netsweep/internal/config"
)

// LivenessProber 判断主机在 timeout 内是否响应。
type LivenessProber interface {
	Alive(ctx context.Context, ip string, timeout time.Duration) bool
}

// PortProber 判断 ip:port 在 timeout 内是否接受连接。
type PortProber interface {
	Open(ctx context.Context, ip string, port int, timeout time.Duration) bool
}

// LivenessFunc 允许普通函数作为 LivenessProber 使用。
type LivenessFunc func(ctx context.Context, ip string, timeout time.Duration) bool

// Alive 实现 LivenessProber。
func (f LivenessFunc) Alive(ctx context.Context, ip string, timeout time.Duration) bool {
	return f(ctx, ip, timeout)
}

// PortFunc 允许普通函数作为 PortProber 使用。
type PortFunc func(ctx context.Context, ip string, port int, timeout time.Duration) bool

// Open 实现 PortProber。
func (f PortFunc) Open(ctx context.Context, ip string, port int, timeout time.Duration) bool {
	return f(ctx, ip, port, timeout)
}

// Runner 执行外部命令并返回其输出；命令以非零状态退出时返回错误。
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner 通过 os/exec 执行命令。
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NewLiveness 按配置名称构造存活探测实现。
func NewLiveness(kind string) (LivenessProber, error) {
	switch kind {
	case config.LivenessExec, "":
		return NewPingProber(ExecRunner), nil
	case config.LivenessICMP:
		return NewICMPProber(true), nil
	case config.LivenessICMPUDP:
		return NewICMPProber(false), nil
	default:
		return nil, fmt.Errorf("unknown liveness method %q", kind)
	}
}

// NewPortProber 按配置名称构造端口探测实现。
func NewPortProber(kind string) (PortProber, error) {
	switch kind {
	case config.PortProberConnect, "":
		return ConnectProber{}, nil
	case config.PortProberExec:
		return NewNetcatProber(ExecRunner), nil
	default:
		return nil, fmt.Errorf("unknown port prober %q", kind)
	}
}
