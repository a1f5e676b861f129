package worker

import (
	"sync"
)

type Task interface {
	Execute()
}

// Pool runs delivery jobs on a fixed set of workers. Exec blocks once the
// queue is full, which backpressures the asynq handler instead of growing
// unbounded.
type Pool struct {
	tasks chan Task
	wg    sync.WaitGroup
}

func NewPool(workers int, queue int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		tasks: make(chan Task, queue),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task.Execute()
	}
}

func (p *Pool) Exec(task Task) {
	p.tasks <- task
}

func (p *Pool) Close() {
	close(p.tasks)
}

func (p *Pool) Wait() {
	p.wg.Wait()
}
