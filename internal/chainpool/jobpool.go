// Copyright (c) 2025 Neomantra Corp

package chainpool

import (
	"fmt"
	"sync"
)

// JobID uniquely identifies a job posted to a JobPool.
type JobID uint64

// Result is the outcome of a completed job.
type Result struct {
	Running bool
	Failed  bool
	Message string
}

// GenericMessage is recorded when a posted job panics with a value that
// is not an error.
const GenericMessage = "chainpool: generic panic recovered"

// JobPool is a higher-level pool over a fixed-size worker substrate.
// Jobs are fire-and-forget: Post returns immediately with a JobID, and
// completion is observed later via Query.
type JobPool struct {
	nThreads int64
	sem      chan struct{}
	mu       sync.Mutex
	cond     *sync.Cond
	jobID    JobID
	pending  map[JobID]struct{}
	results  map[JobID]Result
	wg       sync.WaitGroup
}

// NewJobPool constructs a JobPool backed by nThreads concurrent workers.
func NewJobPool(nThreads int) *JobPool {
	if nThreads < 1 {
		nThreads = 1
	}
	p := &JobPool{
		nThreads: int64(nThreads),
		sem:      make(chan struct{}, nThreads),
		pending:  make(map[JobID]struct{}),
		results:  make(map[JobID]Result),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Post schedules job for asynchronous execution and returns its JobID.
// Every Post eventually produces exactly one entry in the completed
// results, even if job panics.
func (p *JobPool) Post(job func()) JobID {
	p.mu.Lock()
	p.jobID++
	id := p.jobID
	p.pending[id] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		result := Result{}
		func() {
			defer func() {
				if r := recover(); r != nil {
					result.Failed = true
					if err, ok := r.(error); ok {
						result.Message = err.Error()
					} else {
						result.Message = GenericMessage
					}
				}
			}()
			job()
		}()
		p.storeResult(id, result)
	}()
	return id
}

func (p *JobPool) storeResult(id JobID, result Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[id]; ok {
		delete(p.pending, id)
	} else {
		result.Failed = true
		result.Message = fmt.Sprintf("chainpool: corrupted JobPool missing pending JobID %d", id)
	}
	p.results[id] = result
	p.cond.Broadcast()
}

// Query checks a specific job's status without blocking. Querying an
// unknown JobID is an error.
func (p *JobPool) Query(id JobID) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if result, ok := p.results[id]; ok {
		delete(p.results, id)
		return result, nil
	}
	if _, ok := p.pending[id]; ok {
		return Result{Running: true}, nil
	}
	return Result{}, fmt.Errorf("chainpool: invalid JobID %d", id)
}

// QueryAll blocks until at least one pending job completes or no pending
// jobs remain, then returns (and removes) every currently available
// completed result. An empty map means no pending jobs and no unclaimed
// results.
func (p *JobPool) QueryAll() map[JobID]Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.results) == 0 && len(p.pending) != 0 {
		p.cond.Wait()
	}
	ret := make(map[JobID]Result, len(p.results))
	for id, result := range p.results {
		ret[id] = result
		delete(p.results, id)
	}
	return ret
}

// Join blocks until every posted job has finished running.
func (p *JobPool) Join() {
	p.wg.Wait()
}
