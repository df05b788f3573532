package pool

// Package pool provides the bounded runner used for fire-and-forget task
// execution. Worker count is fixed; the submission queue is unbounded, so
// sustained submission faster than completion grows memory. That matches
// the documented engine semantics and is not defended against here.

import "sync"

// Pool runs submitted functions on a fixed number of goroutines.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	wg     sync.WaitGroup
}

// New creates a pool with n worker goroutines (minimum 1) and starts them.
func New(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.loop()
	}
	return p
}

// Submit queues fn for execution. It never blocks. Submissions after Stop
// are dropped.
func (p *Pool) Submit(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.queue = append(p.queue, fn)
	p.cond.Signal()
}

// Stop drains the queue and waits for all workers to exit. Functions
// already submitted still run to completion.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		fn := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()
		fn()
	}
}
