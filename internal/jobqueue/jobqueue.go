// Package jobqueue provides a FIFO work queue with single-flight
// execution per job key.
package jobqueue

import "sync"

// Task is the work body of a job.
type Task func(payload any) error

type job struct {
	key      string
	payload  any
	task     Task
	complete func(error)
}

// Queue runs jobs one at a time, in submission order. A key that is
// already queued or running is rejected on Push; it becomes pushable
// again once the job's completion callback has run. A job's error is
// delivered only to its own completion callback and never stops the
// queue from advancing.
type Queue struct {
	mu      sync.Mutex
	jobs    []*job
	keys    map[string]struct{}
	running bool
	active  int // queued plus in-flight
	drain   func()
	waiters []chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{keys: make(map[string]struct{})}
}

// SetDrain registers a callback invoked each time the queue runs dry.
// Pushing from a completion or drain callback extends the drain horizon.
func (q *Queue) SetDrain(fn func()) {
	q.mu.Lock()
	q.drain = fn
	q.mu.Unlock()
}

// Push enqueues a job. It reports false when the key is already queued
// or running, in which case the job is dropped.
func (q *Queue) Push(key string, payload any, task Task, complete func(error)) bool {
	q.mu.Lock()
	if _, busy := q.keys[key]; busy {
		q.mu.Unlock()
		return false
	}
	q.keys[key] = struct{}{}
	q.jobs = append(q.jobs, &job{key: key, payload: payload, task: task, complete: complete})
	q.active++
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		go q.work()
	}
	return true
}

// JobCount returns the number of queued plus in-flight jobs.
func (q *Queue) JobCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Wait blocks until the queue has drained. It returns immediately when
// the queue is already idle.
func (q *Queue) Wait() {
	q.mu.Lock()
	if q.active == 0 {
		q.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()
	<-ch
}

func (q *Queue) work() {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.running = false
			drain := q.drain
			waiters := q.waiters
			q.waiters = nil
			q.mu.Unlock()

			if drain != nil {
				drain()
			}
			for _, ch := range waiters {
				close(ch)
			}
			return
		}
		j := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		err := j.task(j.payload)

		// The key frees up before the completion callback runs so the
		// callback itself may re-push the same key.
		q.mu.Lock()
		delete(q.keys, j.key)
		q.mu.Unlock()

		if j.complete != nil {
			j.complete(err)
		}

		q.mu.Lock()
		q.active--
		q.mu.Unlock()
	}
}
