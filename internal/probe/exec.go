package probe

import (
	"context"
	"runtime"
	"strconv"
	"time"
)

// 外部命令在探测超时之外额外允许的时间，用于进程启动与退出。
const execGrace = time.Second

// PingProber 调用系统 ping 发送一次回显请求，退出码为 0 即视为存活。
type PingProber struct {
	run  Runner
	goos string
}

// NewPingProber 使用给定的 Runner 创建 PingProber。
func NewPingProber(run Runner) *PingProber {
	return &PingProber{run: run, goos: runtime.GOOS}
}

// Alive 实现 LivenessProber。
func (p *PingProber) Alive(ctx context.Context, ip string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout+execGrace)
	defer cancel()
	_, err := p.run(ctx, "ping", pingArgs(p.goos, ip, timeout)...)
	return err == nil
}

func pingArgs(goos, ip string, timeout time.Duration) []string {
	switch goos {
	case "windows":
		return []string{"-n", "1", "-w", strconv.FormatInt(millis(timeout), 10), ip}
	case "darwin", "freebsd":
		// BSD ping 的 -W 以毫秒为单位。
		return []string{"-c", "1", "-W", strconv.FormatInt(millis(timeout), 10), ip}
	default:
		return []string{"-c", "1", "-W", strconv.Itoa(seconds(timeout)), ip}
	}
}

// NetcatProber 调用 nc -z 检查端口，退出码为 0 即视为开放。
type NetcatProber struct {
	run Runner
}

// NewNetcatProber 使用给定的 Runner 创建 NetcatProber。
func NewNetcatProber(run Runner) *NetcatProber {
	return &NetcatProber{run: run}
}

// Open 实现 PortProber。
func (n *NetcatProber) Open(ctx context.Context, ip string, port int, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout+execGrace)
	defer cancel()
	_, err := n.run(ctx, "nc", "-z", "-w", strconv.Itoa(seconds(timeout)), ip, strconv.Itoa(port))
	return err == nil
}

func millis(d time.Duration) int64 {
	ms := d.Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}

// seconds 向上取整，最少 1 秒。
func seconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
