package worker

import (
	"log/slog"
	"sync"
)

// Pool is a fixed-size task executor over an unbounded FIFO queue.
// Submission never blocks and never rejects; backpressure comes from
// the queued status callers observe on the cell.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	stopped bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewPool(size int, logger *slog.Logger) *Pool {
	p := &Pool{logger: logger}
	p.cond = sync.NewCond(&p.mu)
	if size < 1 {
		size = 1
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Submit appends a task to the queue. Safe from any goroutine.
func (p *Pool) Submit(task func()) {
	p.mu.Lock()
	p.tasks = append(p.tasks, task)
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.tasks) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if len(p.tasks) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.tasks[0]
		p.tasks = p.tasks[1:]
		p.mu.Unlock()
		p.execute(task)
	}
}

// execute shields the worker goroutine from a panicking task.
func (p *Pool) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in worker task", "panic", r)
		}
	}()
	task()
}

// Stop finishes the queued tasks, waits for running ones and parks the
// workers. Tasks submitted after Stop are not picked up.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}
