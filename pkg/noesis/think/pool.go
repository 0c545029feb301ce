package think

import (
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// evalPool is the bounded worker pool for draft evaluations. Submission
// never blocks: when the pool is saturated the task runs on the caller,
// which is the backpressure policy for evaluation work.
type evalPool struct {
	pool *ants.Pool
}

func newEvalPool(parallelism int) (*evalPool, error) {
	if parallelism <= 0 {
		parallelism = 4
	}
	p, err := ants.NewPool(parallelism, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &evalPool{pool: p}, nil
}

// run executes the task on a worker, or inline when the pool is full.
// done is decremented exactly once.
func (p *evalPool) run(task func(), done *sync.WaitGroup) {
	wrapped := func() {
		defer done.Done()
		task()
	}
	if p == nil || p.pool == nil {
		wrapped()
		return
	}
	if err := p.pool.Submit(wrapped); err != nil {
		// ErrPoolOverload and post-release submissions degrade to
		// caller-runs; evaluation tasks are pure so this is safe.
		wrapped()
	}
}

// release shuts the pool down, waiting up to timeout for workers.
func (p *evalPool) release(timeout time.Duration) {
	if p == nil || p.pool == nil {
		return
	}
	if timeout <= 0 {
		p.pool.Release()
		return
	}
	_ = p.pool.ReleaseTimeout(timeout)
}
