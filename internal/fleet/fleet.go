// Package fleet runs one operation against many hosts concurrently.
package fleet

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/cutover/internal/config"
)

// Result is the outcome of an operation on one host.
type Result struct {
	Host    string
	Err     error
	Elapsed time.Duration
}

// Runner fans an operation out over hosts. A failing host does not cancel
// the others.
type Runner struct {
	// Parallel bounds the number of hosts in flight; <= 0 means one at a time.
	Parallel int
	// OnDone, when set, is called once per host as it finishes. Calls are
	// serialized.
	OnDone func(Result)
}

// Run calls fn for every host and returns results in host order.
func (r *Runner) Run(ctx context.Context, hosts []config.Host, fn func(ctx context.Context, host config.Host) error) []Result {
	results := make([]Result, len(hosts))
	if len(hosts) == 0 {
		return results
	}

	limit := r.Parallel
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	var mu sync.Mutex

	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			start := time.Now()
			var err error
			if err = ctx.Err(); err == nil {
				err = fn(ctx, host)
			}
			results[i] = Result{Host: host.Name, Err: err, Elapsed: time.Since(start)}

			if r.OnDone != nil {
				mu.Lock()
				r.OnDone(results[i])
				mu.Unlock()
			}
			// Host errors live in results; returning them would only keep the first.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}
