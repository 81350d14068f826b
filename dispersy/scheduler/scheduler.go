/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package scheduler is the single event loop that owns the overlay state.
// Work from other goroutines enters the loop through AddTask or Post.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tribler/dispersy/dispersy/util"
)

type task struct {
	at       time.Time
	seq      uint64
	id       string
	fn       func()
	interval time.Duration
	index    int
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler runs tasks in deadline order on one goroutine.
type Scheduler struct {
	lock   sync.Mutex
	tasks  taskHeap
	seq    uint64
	wake   chan struct{}
	now    func() time.Time
	logger util.Logger

	running int32
	inTask  int32
}

// New creates an idle scheduler.
func New(logger util.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		wake:   make(chan struct{}, 1),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the scheduler clock.
func (s *Scheduler) Now() time.Time { return s.now() }

func (s *Scheduler) add(fn func(), delay, interval time.Duration, id string) {
	s.lock.Lock()
	s.seq++
	heap.Push(&s.tasks, &task{at: s.now().Add(delay), seq: s.seq, id: id, fn: fn, interval: interval})
	s.lock.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// AddTask runs fn once after delay. Tasks with the same id can be
// cancelled together with KillTasks; id may be empty.
func (s *Scheduler) AddTask(fn func(), delay time.Duration, id string) {
	s.add(fn, delay, 0, id)
}

// AddPeriodicTask runs fn every interval, starting after delay, until
// KillTasks(id) is called.
func (s *Scheduler) AddPeriodicTask(fn func(), delay, interval time.Duration, id string) {
	s.add(fn, delay, interval, id)
}

// Post runs fn on the loop as soon as possible.
func (s *Scheduler) Post(fn func()) {
	s.add(fn, 0, 0, "")
}

// KillTasks cancels every pending task registered under id.
func (s *Scheduler) KillTasks(id string) int {
	s.lock.Lock()
	defer s.lock.Unlock()

	killed := 0
	for i := 0; i < len(s.tasks); {
		if s.tasks[i].id == id {
			heap.Remove(&s.tasks, i)
			killed++
			continue
		}
		i++
	}
	if killed > 0 {
		s.logger.Debugf("killed %d tasks with id %s", killed, id)
	}
	return killed
}

// OnLoop reports whether loop-owned state may be touched: either Run is
// not active and the caller drives the scheduler itself, or a task is
// executing.
func (s *Scheduler) OnLoop() bool {
	return atomic.LoadInt32(&s.running) == 0 || atomic.LoadInt32(&s.inTask) > 0
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.tasks)
}

// NextDeadline returns when the earliest task is due.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.tasks) == 0 {
		return time.Time{}, false
	}
	return s.tasks[0].at, true
}

func (s *Scheduler) popDue(now time.Time) *task {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.tasks) == 0 || s.tasks[0].at.After(now) {
		return nil
	}
	t := heap.Pop(&s.tasks).(*task)
	if t.interval > 0 {
		s.seq++
		heap.Push(&s.tasks, &task{at: now.Add(t.interval), seq: s.seq, id: t.id, fn: t.fn, interval: t.interval})
	}
	return t
}

// RunDue runs every task that is due, including tasks they schedule
// without delay. It returns the number of tasks run.
func (s *Scheduler) RunDue() int {
	now := s.now()
	count := 0
	for t := s.popDue(now); t != nil; t = s.popDue(now) {
		s.run(t)
		count++
	}
	return count
}

func (s *Scheduler) run(t *task) {
	atomic.AddInt32(&s.inTask, 1)
	defer func() {
		atomic.AddInt32(&s.inTask, -1)
		if r := recover(); r != nil {
			s.logger.Errorf("task %q panicked: %v", t.id, r)
		}
	}()
	t.fn()
}

// Run is the event loop. It returns when ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Debug("event loop started")
	atomic.StoreInt32(&s.running, 1)
	defer func() {
		atomic.StoreInt32(&s.running, 0)
		s.logger.Debug("event loop stopped")
	}()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		s.RunDue()

		wait := time.Hour
		if at, ok := s.NextDeadline(); ok {
			wait = at.Sub(s.now())
		}
		if wait < 0 {
			continue
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-timer.C:
		}
	}
}
