package worker

import (
	"context"
	"sync"
)

// Runner manages fan-out over a set of workers, typically one or more
// per job type.
type Runner struct {
	workers []*Worker
}

// NewRunner creates a Runner.
func NewRunner(workers ...*Worker) *Runner {
	return &Runner{workers: workers}
}

// Run starts all workers and blocks until the context finishes and
// every worker has returned.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range r.workers {
		wg.Add(1)
		go func(wk *Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}
