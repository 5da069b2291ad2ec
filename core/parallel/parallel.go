// Package parallel は errgroup をベースにした並列実行のヘルパーを提供します。
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// EffectiveJobs は n_jobs の値を実際のワーカー数に変換します。
// -1 以下はCPUコア数、0 は 1 として扱います。
func EffectiveJobs(nJobs int) int {
	if nJobs < 0 {
		return runtime.NumCPU()
	}
	if nJobs == 0 {
		return 1
	}
	return nJobs
}

// ForEach は 0..n-1 の各インデックスについて fn を最大 nJobs 並列で実行します。
// 最初のエラーで残りの処理はキャンセルされ、そのエラーが返されます。
// 結果の順序は fn が書き込むインデックスで決まるため、スケジューリングに依存しません。
func ForEach(ctx context.Context, n, nJobs int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return ctx.Err()
	}
	workers := EffectiveJobs(nJobs)
	if workers == 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	return g.Wait()
}

// Parallelize は items を CPU コア数で分割し、各範囲 [start, end) について fn を並列実行します。
func Parallelize(items int, fn func(start, end int)) {
	if items == 0 {
		return
	}
	numWorkers := runtime.NumCPU()
	if numWorkers > items {
		numWorkers = items
	}
	chunkSize := (items + numWorkers - 1) / numWorkers

	var g errgroup.Group
	for start := 0; start < items; start += chunkSize {
		s, e := start, start+chunkSize
		if e > items {
			e = items
		}
		g.Go(func() error {
			fn(s, e)
			return nil
		})
	}
	_ = g.Wait()
}

// ParallelizeWithThreshold は items が threshold を超える場合にのみ並列化します。
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, fn)
}
