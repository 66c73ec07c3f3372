package thread

import (
	"sync"
)

// Proc is a unit of work that runs on a worker: it gets the worker's context
// and an opaque input buffer, and returns an error status the session
// reports back.
type Proc func(ctx *Context, input []byte) error

type task struct {
	proc  Proc
	input []byte
	sess  *Session
}

type worker struct {
	ctx   *Context
	tasks chan task
}

// Pool is a fixed set of worker goroutines, each owning one Context. Work is
// submitted by name through Impersonate; name resolution is injected so the
// pool stays ignorant of the registry.
type Pool struct {
	workers []*worker
	idle    chan *worker
	lookup  func(name string) (Proc, bool)
	wg      sync.WaitGroup
}

// NewPool starts count workers with the given block-pool depth. lookup
// resolves procedure names; unknown names fail Impersonate.
func NewPool(count, poolDepth int, lookup func(string) (Proc, bool)) *Pool {
	p := &Pool{
		workers: make([]*worker, count),
		idle:    make(chan *worker, count),
		lookup:  lookup,
	}
	for i := 0; i < count; i++ {
		w := &worker{
			ctx:   NewContext(i, poolDepth),
			tasks: make(chan task),
		}
		p.workers[i] = w
		p.idle <- w
		p.wg.Add(1)
		go p.run(w)
	}
	return p
}

func (p *Pool) run(w *worker) {
	defer p.wg.Done()
	for t := range w.tasks {
		t.sess.err = t.proc(w.ctx, t.input)
		close(t.sess.done)
	}
}

// Size returns the worker count.
func (p *Pool) Size() int { return len(p.workers) }

// Impersonate runs the named procedure on an idle worker. Returns false if
// the name is unknown or every worker is busy; otherwise the session tracks
// the run.
func (p *Pool) Impersonate(name string, input []byte) (*Session, bool) {
	proc, ok := p.lookup(name)
	if !ok {
		return nil, false
	}
	select {
	case w := <-p.idle:
		s := &Session{pool: p, worker: w, done: make(chan struct{})}
		w.tasks <- task{proc: proc, input: input, sess: s}
		return s, true
	default:
		return nil, false
	}
}

// Shutdown stops all workers. Every session must have been released first;
// a busy worker here means a leaked session.
func (p *Pool) Shutdown() {
	for i := 0; i < len(p.workers); i++ {
		<-p.idle // drain: all workers must be idle
	}
	for _, w := range p.workers {
		close(w.tasks)
	}
	p.wg.Wait()
}

// Session is one Impersonate run. Await its completion, read the outcome,
// then Release the worker back to the pool.
type Session struct {
	pool     *Pool
	worker   *worker
	done     chan struct{}
	err      error
	released bool
}

// Await blocks until the procedure returns.
func (s *Session) Await() { <-s.done }

// Result returns the procedure's error status. Call after Await.
func (s *Session) Result() error {
	<-s.done
	return s.err
}

// Release returns the worker to the idle set. Waits for completion if the
// procedure is still running. Safe to call once per session.
func (s *Session) Release() {
	if s.released {
		return
	}
	<-s.done
	s.released = true
	s.pool.idle <- s.worker
}
