package probe

import (
	"context"
	"net"
	"strconv"
	"time"
)

// ConnectProber 通过完整的 TCP 握手判断端口是否开放。
// 拒绝、超时、不可达都视为关闭，不区分 filtered。
type ConnectProber struct{}

// Open 实现 PortProber。
func (ConnectProber) Open(ctx context.Context, ip string, port int, timeout time.Duration) bool {
	d := net.Dialer{
		Timeout:   timeout,
		KeepAlive: -1, // 探测不需要保活
	}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
