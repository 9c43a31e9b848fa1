package download

import (
	"context"
	"sync"

	"github.com/handiism/m2m-downloader/internal/model"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the number of concurrent transfers of a Pool.
const DefaultWorkers = 10

// Job is one immutable unit of work for the pool.
type Job struct {
	ID   model.DownloadID
	URL  string
	Path string
}

// JobResult is the outcome of a Job.
type JobResult struct {
	Job
	Result FetchResult
	Err    error
}

// Pool runs fetches with bounded concurrency.
//
// Submit queues a job and returns at once; a dispatcher hands queued jobs
// to an errgroup limited to the worker count. A failed job never cancels
// its siblings. Results arrive in completion order.
//
// Example:
//
//	pool := NewPool(ctx, fetcher, 10, func(r JobResult) {
//	    fmt.Println(r.Path, r.Err)
//	})
//	pool.Submit(Job{ID: "55", URL: url, Path: path})
//	results := pool.Wait()
type Pool struct {
	ctx        context.Context
	fetcher    *Fetcher
	onComplete func(JobResult)

	g    errgroup.Group
	done chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Job
	closed  bool
	results []JobResult
}

// NewPool starts a pool of workers fetching with fetcher. onComplete, if
// not nil, is called from the worker goroutine after each job.
func NewPool(ctx context.Context, fetcher *Fetcher, workers int, onComplete func(JobResult)) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &Pool{
		ctx:        ctx,
		fetcher:    fetcher,
		onComplete: onComplete,
		done:       make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.g.SetLimit(workers)

	go p.dispatch()
	return p
}

// Submit queues job. It never blocks on busy workers.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.queue = append(p.queue, job)
	p.cond.Signal()
	return nil
}

// Wait stops accepting jobs, waits for every queued job to finish, and
// returns all results.
func (p *Pool) Wait() []JobResult {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	<-p.done
	p.g.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]JobResult(nil), p.results...)
}

func (p *Pool) dispatch() {
	defer close(p.done)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		// Blocks while all workers are busy.
		p.g.Go(func() error {
			p.run(job)
			return nil // Continue with other jobs
		})
	}
}

func (p *Pool) run(job Job) {
	r := JobResult{Job: job}
	if err := p.ctx.Err(); err != nil {
		r.Err = err
	} else {
		r.Result, r.Err = p.fetcher.Fetch(p.ctx, job.URL, job.Path)
	}

	p.mu.Lock()
	p.results = append(p.results, r)
	p.mu.Unlock()

	if p.onComplete != nil {
		p.onComplete(r)
	}
}
