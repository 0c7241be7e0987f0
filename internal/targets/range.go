package targets

import (
	"net/netip"
	"strconv"
	"strings"
)

// 主机后缀的合法范围。
const (
	MinSuffix = 1
	MaxSuffix = 254
)

// Range 由网段前缀（前三个八位组）与闭区间后缀组成，构造后不可变。
// End < Start 表示空区间。
type Range struct {
	prefix string
	start  int
	end    int
}

// NewRange 校验前缀与后缀区间并构造 Range。
func NewRange(prefix string, start, end int) (Range, error) {
	p, err := normalizePrefix(prefix)
	if err != nil {
		return Range{}, err
	}
	if end >= start {
		if start < MinSuffix || end > MaxSuffix {
			return Range{}, &ArgumentError{
				Field: "range",
				Value: strconv.Itoa(start) + "-" + strconv.Itoa(end),
				Msg:   "host suffixes must be within 1-254",
			}
		}
	}
	return Range{prefix: p, start: start, end: end}, nil
}

// FullRange 返回覆盖 1-254 的 Range。
func FullRange(prefix string) (Range, error) {
	return NewRange(prefix, MinSuffix, MaxSuffix)
}

// ParseRange 解析 "1-254" 或单个后缀 "7" 形式的区间。
func ParseRange(prefix, spec string) (Range, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return FullRange(prefix)
	}
	lo, hi, found := strings.Cut(spec, "-")
	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return Range{}, &ArgumentError{Field: "range", Value: spec, Msg: "not a number"}
	}
	end := start
	if found {
		end, err = strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return Range{}, &ArgumentError{Field: "range", Value: spec, Msg: "not a number"}
		}
	}
	return NewRange(prefix, start, end)
}

// Prefix 返回不带末尾点号的网段前缀。
func (r Range) Prefix() string { return r.prefix }

// Start 返回起始后缀。
func (r Range) Start() int { return r.start }

// End 返回结束后缀。
func (r Range) End() int { return r.end }

// Len 返回区间内候选地址的数量。
func (r Range) Len() int {
	if r.end < r.start {
		return 0
	}
	return r.end - r.start + 1
}

// Addresses 按后缀顺序生成全部候选地址。
func (r Range) Addresses() []string {
	out := make([]string, 0, r.Len())
	for i := r.start; i <= r.end; i++ {
		out = append(out, r.prefix+"."+strconv.Itoa(i))
	}
	return out
}

func (r Range) String() string {
	if r.Len() == 0 {
		return r.prefix + ".(empty)"
	}
	return r.prefix + "." + strconv.Itoa(r.start) + "-" + strconv.Itoa(r.end)
}

// PrefixOf 返回 IPv4 地址所在 /24 的前缀，例如 192.168.1.20 -> 192.168.1。
func PrefixOf(ip string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil || !(addr.Is4() || addr.Is4In6()) {
		return "", &ArgumentError{Field: "address", Value: ip, Msg: "not an IPv4 address"}
	}
	b := addr.Unmap().As4()
	return strconv.Itoa(int(b[0])) + "." + strconv.Itoa(int(b[1])) + "." + strconv.Itoa(int(b[2])), nil
}

func normalizePrefix(prefix string) (string, error) {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	parts := strings.Split(p, ".")
	if len(parts) != 3 {
		return "", &ArgumentError{Field: "prefix", Value: prefix, Msg: "expected three octets such as 192.168.1"}
	}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 || part == "" || (len(part) > 1 && part[0] == '0') {
			return "", &ArgumentError{Field: "prefix", Value: prefix, Msg: "octets must be 0-255"}
		}
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, "."), nil
}
