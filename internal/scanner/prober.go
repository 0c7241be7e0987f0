package scanner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hitushen/netsweep/internal/models"
	"github.com/hitushen/netsweep/internal/pool"
	"github.com/hitushen/netsweep/internal/probe"
	"github.com/hitushen/netsweep/internal/services/fingerprint"
	"github.com/hitushen/netsweep/internal/targets"
)

// Prober 对单个目标的候选端口做有界并发的连接探测。
type Prober struct {
	ports       probe.PortProber
	concurrency int
	timeout     time.Duration
	lookup      targets.LookupFunc
}

// NewProber 创建 Prober，concurrency 小于 1 时按 1 处理。
func NewProber(pp probe.PortProber, concurrency int, timeout time.Duration) *Prober {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Prober{ports: pp, concurrency: concurrency, timeout: timeout}
}

// WithLookup 替换主机名解析函数，返回新的 Prober。
func (p *Prober) WithLookup(lookup targets.LookupFunc) *Prober {
	cp := *p
	cp.lookup = lookup
	return &cp
}

// Report 是一次端口探测的汇总结果，Results 按端口升序且每个候选端口一项。
type Report struct {
	Target    string              `json:"target"`
	Address   string              `json:"address"`
	Results   []models.PortResult `json:"results"`
	StartedAt time.Time           `json:"startedAt"`
	Duration  time.Duration       `json:"duration"`
}

// Open 返回开放的端口结果。
func (r *Report) Open() []models.PortResult {
	out := make([]models.PortResult, 0)
	for _, res := range r.Results {
		if res.Open() {
			out = append(out, res)
		}
	}
	return out
}

// ProbePorts 解析 target 并对 ports 中的每个端口尝试一次 TCP 握手。
// 无法解析时返回 *targets.ResolutionError；单个端口的网络错误一律记为关闭。
func (p *Prober) ProbePorts(ctx context.Context, target string, ports []int) (*Report, error) {
	var (
		addr string
		err  error
	)
	if p.lookup != nil {
		addr, err = targets.ResolveWith(p.lookup, target)
	} else {
		addr, err = targets.Resolve(target)
	}
	if err != nil {
		return nil, err
	}

	candidates := uniquePorts(ports)
	report := &Report{Target: target, Address: addr, StartedAt: time.Now().UTC()}

	var mu sync.Mutex
	open := make(map[int]bool, len(candidates))
	runErr := pool.Run(ctx, len(candidates), p.concurrency, func(ctx context.Context, i int) {
		port := candidates[i]
		if p.ports.Open(ctx, addr, port, p.timeout) {
			mu.Lock()
			open[port] = true
			mu.Unlock()
		}
	})

	report.Results = make([]models.PortResult, 0, len(candidates))
	for _, port := range candidates {
		state := models.PortStatusClosed
		if open[port] {
			state = models.PortStatusOpen
		}
		report.Results = append(report.Results, models.PortResult{
			Port:    port,
			Service: fingerprint.NameForPort(port),
			State:   state,
		})
	}
	report.Duration = time.Since(report.StartedAt)
	return report, runErr
}

// Batch 汇总多个目标的探测结果；无法解析的目标记录在 Failures 中。
type Batch struct {
	Reports  []*Report
	Failures []error
}

// ProbeHosts 依次探测每个目标，某个目标解析失败不会中断其余目标。
func (p *Prober) ProbeHosts(ctx context.Context, hosts []string, ports []int) (*Batch, error) {
	batch := &Batch{}
	for _, host := range hosts {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		report, err := p.ProbePorts(ctx, host, ports)
		var resErr *targets.ResolutionError
		switch {
		case errors.As(err, &resErr):
			batch.Failures = append(batch.Failures, err)
			continue
		case err != nil:
			if report != nil {
				batch.Reports = append(batch.Reports, report)
			}
			return batch, err
		}
		batch.Reports = append(batch.Reports, report)
	}
	return batch, nil
}

func uniquePorts(ports []int) []int {
	seen := make(map[int]struct{}, len(ports))
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
