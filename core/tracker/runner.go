package tracker

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	JobDiscover = "discover"
	JobCycle    = "cycle"
	JobCleanup  = "cleanup"
)

type jobFunc func(ctx context.Context, now time.Time) error

type job struct {
	name     string
	schedule cron.Schedule
	run      jobFunc
	next     time.Time
	index    int
}

type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].next.Equal(h[j].next) {
		return h[i].name < h[j].name
	}
	return h[i].next.Before(h[j].next)
}
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *jobHeap) Push(x any) {
	j := x.(*job)
	j.index = len(*h)
	*h = append(*h, j)
}
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}

// runner is a cooperative task runner: one control loop pops due jobs off a
// min-heap, runs them one at a time and pushes them back with their next due
// time. Jobs never overlap.
type runner struct {
	mu    sync.Mutex
	jobs  jobHeap
	onErr func(name string, err error)
}

func newRunner(onErr func(name string, err error)) *runner {
	return &runner{onErr: onErr}
}

func (r *runner) add(name, spec string, now time.Time, fn jobFunc) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	heap.Push(&r.jobs, &job{name: name, schedule: sched, run: fn, next: sched.Next(now)})
	return nil
}

// reset re-arms every job relative to now.
func (r *runner) reset(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		j.next = j.schedule.Next(now)
	}
	heap.Init(&r.jobs)
}

// runPending runs every job due at now, in due order, and returns their names.
// The context is checked between jobs.
func (r *runner) runPending(ctx context.Context, now time.Time) []string {
	var ran []string
	for {
		if ctx.Err() != nil {
			return ran
		}
		r.mu.Lock()
		if len(r.jobs) == 0 || r.jobs[0].next.After(now) {
			r.mu.Unlock()
			return ran
		}
		j := heap.Pop(&r.jobs).(*job)
		r.mu.Unlock()

		err := j.run(ctx, now)
		if err != nil && r.onErr != nil {
			r.onErr(j.name, err)
		}
		ran = append(ran, j.name)

		r.mu.Lock()
		j.next = j.schedule.Next(now)
		heap.Push(&r.jobs, j)
		r.mu.Unlock()
	}
}

func (r *runner) nextRuns() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]time.Time, len(r.jobs))
	for _, j := range r.jobs {
		out[j.name] = j.next
	}
	return out
}
