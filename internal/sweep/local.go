package sweep

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/hitushen/netsweep/internal/probe"
	"github.com/hitushen/netsweep/internal/targets"
)

// ARP 表条目过少时（通常只有网关和本机）改为全段 ping 扫描。
const sparseARPThreshold = 2

var ipv4Pattern = regexp.MustCompile(`(\d+\.\d+\.\d+\.\d+)`)

// LocalIPv4 返回本机默认出口的 IPv4 地址。
// 通过 UDP "连接" 公网地址获得路由选择的源地址，不会发送任何数据。
func LocalIPv4() (string, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("detect local address: %w", err)
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.To4() == nil {
		return "", fmt.Errorf("detect local address: no IPv4 source address")
	}
	return addr.IP.To4().String(), nil
}

// ReadARP 执行 arp -a 并返回属于 prefix 网段的地址。
func ReadARP(ctx context.Context, run probe.Runner, prefix string) ([]string, error) {
	out, err := run(ctx, "arp", "-a")
	if err != nil {
		return nil, fmt.Errorf("arp -a: %w", err)
	}
	return ParseARP(string(out), prefix), nil
}

// ParseARP 从 arp 命令输出中提取属于 prefix 网段的 IPv4 地址，每行取第一个。
func ParseARP(output, prefix string) []string {
	want := strings.TrimSuffix(prefix, ".") + "."
	var out []string
	for _, line := range strings.Split(output, "\n") {
		m := ipv4Pattern.FindString(line)
		if m != "" && strings.HasPrefix(m, want) {
			out = append(out, m)
		}
	}
	return out
}

// Discovery 描述一次本地网段发现的结果。
type Discovery struct {
	LocalIP string
	Prefix  string
	Hosts   []string
	Swept   bool
}

// DiscoverLocal 读取本机所在 /24 的 ARP 表；条目过少时再做全段存活扫描并合并结果。
// localIP 为空时自动探测。ARP 读取失败只会导致回退到扫描。
func DiscoverLocal(ctx context.Context, sw *Sweeper, run probe.Runner, localIP string) (*Discovery, error) {
	if localIP == "" {
		ip, err := LocalIPv4()
		if err != nil {
			return nil, err
		}
		localIP = ip
	}
	prefix, err := targets.PrefixOf(localIP)
	if err != nil {
		return nil, err
	}

	d := &Discovery{LocalIP: localIP, Prefix: prefix}
	hosts, _ := ReadARP(ctx, run, prefix)

	if len(unique(hosts)) <= sparseARPThreshold {
		rng, err := targets.FullRange(prefix)
		if err != nil {
			return nil, err
		}
		alive, err := sw.Sweep(ctx, rng)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, alive...)
		d.Swept = true
	}

	d.Hosts = unique(hosts)
	targets.SortAddresses(d.Hosts)
	return d, nil
}
