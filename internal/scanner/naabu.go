package scanner

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/projectdiscovery/goflags"
	portpkg "github.com/projectdiscovery/naabu/v2/pkg/port"
	"github.com/projectdiscovery/naabu/v2/pkg/result"
	"github.com/projectdiscovery/naabu/v2/pkg/runner"

	"github.com/hitushen/netsweep/internal/models"
	"github.com/hitushen/netsweep/internal/services/fingerprint"
	"github.com/hitushen/netsweep/internal/targets"
)

// NaabuOptions 控制 naabu 全端口扫描的速率与超时。
type NaabuOptions struct {
	Rate    int
	Timeout time.Duration
}

// NaabuScan 使用 naabu 的 connect 扫描探测 address，ports 为空时覆盖 1-65535。
// 只返回开放端口，按端口升序。
func NaabuScan(ctx context.Context, address string, ports []int, o NaabuOptions) ([]models.PortResult, error) {
	ip, err := targets.Resolve(address)
	if err != nil {
		return nil, err
	}
	if o.Rate <= 0 {
		o.Rate = 3000
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Second
	}

	var mu sync.Mutex
	openPorts := make(map[int]*portpkg.Port)
	onResult := func(hr *result.HostResult) {
		if hr == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, p := range hr.Ports {
			if p != nil {
				openPorts[p.Port] = p
			}
		}
	}

	opts := runner.Options{
		Host:             goflags.StringSlice{ip},
		ScanType:         "c",
		OnResult:         onResult,
		JSON:             false,
		NoColor:          true,
		Verbose:          false,
		Stdin:            false,
		Stream:           true,
		Ports:            "1-65535",
		Retries:          1,
		Rate:             o.Rate,
		Timeout:          o.Timeout,
		ServiceDiscovery: true,
	}
	if len(ports) > 0 {
		opts.Ports = joinPorts(ports)
	}

	r, err := runner.NewRunner(&opts)
	if err != nil {
		return nil, fmt.Errorf("naabu runner init: %w", err)
	}
	defer r.Close()

	if err := r.RunEnumeration(ctx); err != nil {
		return nil, fmt.Errorf("naabu enumeration: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]models.PortResult, 0, len(openPorts))
	for num, info := range openPorts {
		name := naabuService(info)
		if name == "" {
			name = fingerprint.NameForPort(num)
		}
		out = append(out, models.PortResult{Port: num, Service: name, State: models.PortStatusOpen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out, nil
}

func joinPorts(ports []int) string {
	str := make([]string, len(ports))
	for i, p := range ports {
		str[i] = strconv.Itoa(p)
	}
	return strings.Join(str, ",")
}

// naabuService 从 naabu 的服务识别结果中挑选最具体的描述。
func naabuService(p *portpkg.Port) string {
	if p == nil || p.Service == nil {
		return ""
	}
	svc := p.Service
	switch {
	case svc.Product != "" && svc.Version != "":
		return svc.Product + " " + svc.Version
	case svc.Product != "":
		return svc.Product
	case svc.Name != "":
		return svc.Name
	default:
		return svc.ExtraInfo
	}
}
