package targets

import (
	"sort"
	"strconv"
	"strings"
)

// MaxPort 是合法端口号的上限。
const MaxPort = 65535

// ParsePorts 解析端口描述并返回排序去重后的端口列表。
// 支持 "22"、"22,80,443"、"1-1024" 以及 "22,80,8000-8100" 等写法。
func ParsePorts(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, &ArgumentError{Field: "ports", Msg: "empty port spec"}
	}
	seen := make(map[int]struct{})
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, &ArgumentError{Field: "ports", Value: spec, Msg: "empty token"}
		}
		lo, hi, isRange := strings.Cut(token, "-")
		start, err := parsePort(lo, token)
		if err != nil {
			return nil, err
		}
		end := start
		if isRange {
			if end, err = parsePort(hi, token); err != nil {
				return nil, err
			}
			if start > end {
				return nil, &ArgumentError{Field: "ports", Value: token, Msg: "range start greater than end"}
			}
		}
		for p := start; p <= end; p++ {
			seen[p] = struct{}{}
		}
	}
	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}

func parsePort(raw, token string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &ArgumentError{Field: "ports", Value: token, Msg: "not a number"}
	}
	if n < 1 || n > MaxPort {
		return 0, &ArgumentError{Field: "ports", Value: token, Msg: "port numbers must be in 1..65535"}
	}
	return n, nil
}
