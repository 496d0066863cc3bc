package utils

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
	quarterProcs := float64(ParallelFactor) * .25
	if quarterProcs > 8 {
		ParallelFactor = int(quarterProcs)
	}
}

// GroupWorkFunc runs one contiguous range [from, to) of the work.
type GroupWorkFunc func(ctx context.Context, groupNum, from, to int) error

// GroupWorkParallel splits totalSize work items into at most numGroups contiguous ranges and runs
// them concurrently. The last group takes the remainder. The first error cancels the context
// passed to the other groups and is returned. A non-positive numGroups uses ParallelFactor.
func GroupWorkParallel(ctx context.Context, totalSize, numGroups int, groupWork GroupWorkFunc) error {
	if totalSize <= 0 {
		return nil
	}
	if numGroups <= 0 {
		numGroups = ParallelFactor
	}
	if numGroups > totalSize {
		numGroups = totalSize
	}
	groupSize := totalSize / numGroups
	extra := totalSize % numGroups

	group, ctx := errgroup.WithContext(ctx)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		from := groupSize * groupNum
		to := from + groupSize
		if groupNum == numGroups-1 {
			to += extra
		}
		groupNum := groupNum
		group.Go(func() error {
			return groupWork(ctx, groupNum, from, to)
		})
	}
	return group.Wait()
}
