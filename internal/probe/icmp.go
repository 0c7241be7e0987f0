package probe

import (
	"context"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// IANA 协议号：ICMP for IPv4。
const protocolICMP = 1

// ICMPProber 发送一次 ICMP 回显请求并等待对应的应答。
//
// privileged 为 true 时使用原始套接字（需要 root 或 CAP_NET_RAW），
// 否则使用非特权的 UDP 数据报 ICMP 套接字（Linux 需要 net.ipv4.ping_group_range 允许）。
type ICMPProber struct {
	privileged bool
	id         int
	seq        atomic.Uint32
}

// NewICMPProber 创建 ICMPProber。
func NewICMPProber(privileged bool) *ICMPProber {
	return &ICMPProber{privileged: privileged, id: os.Getpid() & 0xffff}
}

// Alive 实现 LivenessProber。
func (p *ICMPProber) Alive(ctx context.Context, ip string, timeout time.Duration) bool {
	dst := net.ParseIP(ip).To4()
	if dst == nil {
		return false
	}

	network := "udp4"
	if p.privileged {
		network = "ip4:icmp"
	}
	c, err := icmp.ListenPacket(network, "0.0.0.0")
	if err != nil {
		return false
	}
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   p.id,
			Seq:  seq,
			Data: []byte("netsweep"),
		},
	}
	payload, err := msg.Marshal(nil)
	if err != nil {
		return false
	}

	var addr net.Addr = &net.UDPAddr{IP: dst}
	if p.privileged {
		addr = &net.IPAddr{IP: dst}
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.SetDeadline(deadline); err != nil {
		return false
	}
	if _, err := c.WriteTo(payload, addr); err != nil {
		return false
	}

	// 原始套接字会收到所有 ICMP 报文，需要按来源与序号过滤。
	buf := make([]byte, 1500)
	for {
		n, peer, err := c.ReadFrom(buf)
		if err != nil {
			return false
		}
		// 数据报套接字的 ID 由内核改写，只能比对序号。
		if isEchoReply(buf[:n], peer, dst, p.id, seq, p.privileged) {
			return true
		}
	}
}

func isEchoReply(b []byte, peer net.Addr, dst net.IP, id, seq int, checkID bool) bool {
	m, err := icmp.ParseMessage(protocolICMP, b)
	if err != nil || m.Type != ipv4.ICMPTypeEchoReply {
		return false
	}
	echo, ok := m.Body.(*icmp.Echo)
	if !ok || echo.Seq != seq {
		return false
	}
	if checkID && echo.ID != id {
		return false
	}
	return peerIP(peer).Equal(dst)
}

func peerIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.IPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	default:
		return nil
	}
}
