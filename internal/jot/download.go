package jot

import (
	"errors"
	"fmt"
	"sync"
)

var errQueueStopped = errors.New("download queue stopped")

// DownloadQueue fetches remote files ahead of the delta processing loop.
// Jobs start eagerly as soon as a slot under the concurrency limit frees
// up; results are memoized until consumed.
type DownloadQueue struct {
	logger Logger
	sem    chan struct{}

	mu      sync.Mutex
	jobs    map[string]*downloadJob
	stopped bool
}

type downloadJob struct {
	done chan struct{}
	data []byte
	err  error
}

func NewDownloadQueue(logger Logger, concurrency int) *DownloadQueue {
	return &DownloadQueue{
		logger: logger,
		sem:    make(chan struct{}, concurrency),
		jobs:   make(map[string]*downloadJob),
	}
}

// Push schedules the fetch for a path. Pushing a path twice, or pushing
// after Stop, is a no-op.
func (q *DownloadQueue) Push(path string, fetch func() ([]byte, error)) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	if _, ok := q.jobs[path]; ok {
		q.mu.Unlock()
		return
	}
	job := &downloadJob{done: make(chan struct{})}
	q.jobs[path] = job
	q.mu.Unlock()

	go func() {
		q.sem <- struct{}{}
		defer func() { <-q.sem }()

		q.mu.Lock()
		stopped := q.stopped
		q.mu.Unlock()
		if stopped {
			job.err = errQueueStopped
			close(job.done)
			return
		}
		q.logger.Debug("fetching remote item", "path", path)
		job.data, job.err = fetch()
		close(job.done)
	}()
}

// WaitForResult blocks until the fetch for path completes, then consumes
// and returns the memoized result.
func (q *DownloadQueue) WaitForResult(path string) ([]byte, error) {
	q.mu.Lock()
	job := q.jobs[path]
	q.mu.Unlock()
	if job == nil {
		return nil, fmt.Errorf("no download scheduled for %s", path)
	}
	<-job.done
	q.mu.Lock()
	delete(q.jobs, path)
	q.mu.Unlock()
	return job.data, job.err
}

// Stop keeps jobs that have not started yet from fetching. In-flight
// fetches finish and their results stay consumable.
func (q *DownloadQueue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
}
