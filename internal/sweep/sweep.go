// Package sweep 实现网段存活扫描：对区间内每个候选地址恰好探测一次，返回存活地址的有序集合。
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/hitushen/netsweep/internal/models"
	"github.com/hitushen/netsweep/internal/pool"
	"github.com/hitushen/netsweep/internal/probe"
	"github.com/hitushen/netsweep/internal/targets"
)

// Sweeper 使用有界并发对网段做存活探测。无共享状态，可并发复用。
type Sweeper struct {
	prober      probe.LivenessProber
	concurrency int
	timeout     time.Duration
	observe     func(models.Liveness)
}

// Option 调整 Sweeper 的可选行为。
type Option func(*Sweeper)

// WithObserver 注册每次探测完成后的回调，常用于进度展示。回调可能被并发调用。
func WithObserver(fn func(models.Liveness)) Option {
	return func(s *Sweeper) { s.observe = fn }
}

// New 创建 Sweeper，concurrency 小于 1 时按 1 处理。
func New(prober probe.LivenessProber, concurrency int, timeout time.Duration, opts ...Option) *Sweeper {
	if concurrency <= 0 {
		concurrency = 1
	}
	s := &Sweeper{
		prober:      prober,
		concurrency: concurrency,
		timeout:     timeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep 探测 rng 中的全部候选地址并返回升序排列的存活地址。
// 单个探测失败只会记为不可达；ctx 被取消时停止派发，返回已完成部分与 ctx.Err()。
func (s *Sweeper) Sweep(ctx context.Context, rng targets.Range) ([]string, error) {
	return s.SweepAddresses(ctx, rng.Addresses())
}

// SweepAddresses 对任意候选地址列表执行存活探测，重复地址只探测一次。
func (s *Sweeper) SweepAddresses(ctx context.Context, candidates []string) ([]string, error) {
	candidates = unique(candidates)

	var mu sync.Mutex
	alive := make(map[string]struct{})

	err := pool.Run(ctx, len(candidates), s.concurrency, func(ctx context.Context, i int) {
		addr := candidates[i]
		ok := s.prober.Alive(ctx, addr, s.timeout)
		if ok {
			mu.Lock()
			alive[addr] = struct{}{}
			mu.Unlock()
		}
		if s.observe != nil {
			s.observe(models.Liveness{Address: addr, Alive: ok})
		}
	})

	// pool.Run 返回时所有任务均已结束，此处读取无竞争。
	out := make([]string, 0, len(alive))
	for addr := range alive {
		out = append(out, addr)
	}
	targets.SortAddresses(out)
	return out, err
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
