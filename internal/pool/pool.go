// Package pool 提供有界并发的任务执行。
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run 对 [0,n) 中的每个下标调用一次 fn，同一时刻最多 concurrency 个在执行。
// 返回前等待所有已派发的任务结束。ctx 取消后不再派发新任务，并返回 ctx.Err()。
func Run(ctx context.Context, n, concurrency int, fn func(ctx context.Context, i int)) error {
	if n <= 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > n {
		concurrency = n
	}

	var g errgroup.Group
	g.SetLimit(concurrency)

	var stopped error
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			stopped = err
			break
		}
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return stopped
}
