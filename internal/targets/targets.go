package targets

import (
	"net"
	"net/netip"
	"net/url"
	"slices"
	"strings"
)

// LookupFunc 将主机名解析为地址列表，签名与 net.LookupHost 一致。
type LookupFunc func(host string) ([]string, error)

// Normalize 对用户输入的地址进行裁剪并提取主机部分。
func Normalize(address string) string {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return ""
	}

	// 处理带协议前缀的输入。
	if strings.Contains(addr, "://") {
		if u, err := url.Parse(addr); err == nil && u.Host != "" {
			addr = u.Host
		}
	}

	addr = strings.TrimPrefix(strings.TrimSpace(addr), "//")

	// 去除可能存在的账号密码片段（user:pass@host）。
	if at := strings.LastIndex(addr, "@"); at != -1 {
		addr = addr[at+1:]
	}
	if cut := strings.IndexAny(addr, "/?"); cut != -1 {
		addr = addr[:cut]
	}
	addr = strings.TrimSpace(addr)

	// 支持形如 [::1]:443 或 [::1] 的 IPv6 写法。
	if strings.HasPrefix(addr, "[") {
		if end := strings.Index(addr, "]"); end != -1 {
			addr = addr[1:end]
		}
	}

	// 单冒号视为 host:port，避免误伤 IPv6。
	if strings.Count(addr, ":") == 1 {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			addr = host
		}
	}

	return strings.ToLower(strings.Trim(addr, "[] "))
}

// Resolve 返回目标对应的 IPv4 地址，使用系统解析器。
func Resolve(address string) (string, error) {
	return ResolveWith(net.LookupHost, address)
}

// ResolveWith 使用指定的解析函数将目标转换为 IPv4 地址。
// 输入已是 IPv4 字面量时不会触发解析。
func ResolveWith(lookup LookupFunc, address string) (string, error) {
	host := Normalize(address)
	if host == "" {
		return "", &ResolutionError{Host: address, Reason: "empty address"}
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		if ip.Is4() || ip.Is4In6() {
			return ip.Unmap().String(), nil
		}
		return "", &ResolutionError{Host: host, Reason: "IPv6 targets are not supported"}
	}

	addrs, err := lookup(host)
	if err != nil {
		return "", &ResolutionError{Host: host, Err: err}
	}
	for _, a := range addrs {
		if ip, err := netip.ParseAddr(a); err == nil && (ip.Is4() || ip.Is4In6()) {
			return ip.Unmap().String(), nil
		}
	}
	return "", &ResolutionError{Host: host, Reason: "no IPv4 address found"}
}

// SortAddresses 按数值升序原地排序点分地址，无法解析的条目按字典序排在最后。
func SortAddresses(addrs []string) {
	slices.SortFunc(addrs, compareAddresses)
}

func compareAddresses(a, b string) int {
	ia, errA := netip.ParseAddr(a)
	ib, errB := netip.ParseAddr(b)
	switch {
	case errA == nil && errB == nil:
		return ia.Compare(ib)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
