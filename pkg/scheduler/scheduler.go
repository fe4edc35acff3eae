package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	ErrStopped       = errors.New("scheduler stopped")
	ErrDuplicateTask = errors.New("task already scheduled")
	ErrBadInterval   = errors.New("interval must be positive")
)

// Task is one run of a periodic job. ctx is cancelled when the task is
// cancelled or the scheduler stops.
type Task func(ctx context.Context)

type entry struct {
	name     string
	interval time.Duration
	cancel   context.CancelFunc
	trigger  chan struct{}
	done     chan struct{}
}

// Scheduler runs named periodic tasks, one goroutine per task.
// A task never overlaps with itself.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	tasks   map[string]*entry
	stopped bool
}

// New creates a scheduler bound to parent
func New(parent context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*entry),
	}
}

// Every schedules task every interval. With immediate set the first run
// happens right away, otherwise after one interval.
func (s *Scheduler) Every(name string, interval time.Duration, immediate bool, task Task) (context.CancelFunc, error) {
	if interval <= 0 {
		return nil, ErrBadInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrStopped
	}
	if _, exists := s.tasks[name]; exists {
		return nil, ErrDuplicateTask
	}

	ctx, cancel := context.WithCancel(s.ctx)
	e := &entry{
		name:     name,
		interval: interval,
		cancel:   cancel,
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.tasks[name] = e

	s.wg.Add(1)
	go s.loop(ctx, e, immediate, task)

	slog.Debug("Task scheduled", "task", name, "interval", interval)

	return func() { s.Cancel(name) }, nil
}

// Trigger requests an extra run of the named task. Pending triggers coalesce.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	e, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case e.trigger <- struct{}{}:
	default:
	}
	return true
}

// Cancel stops the named task and waits for its current run to return
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	e, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}

	e.cancel()
	<-e.done
	slog.Debug("Task cancelled", "task", name)
	return true
}

// Tasks returns the scheduled task names in sorted order
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop cancels every task and waits for them to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.tasks = make(map[string]*entry)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	slog.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, e *entry, immediate bool, task Task) {
	defer s.wg.Done()
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	if immediate {
		s.run(ctx, e, task)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, e, task)
		case <-e.trigger:
			s.run(ctx, e, task)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry, task Task) {
	if ctx.Err() != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scheduled task panicked", "task", e.name, "panic", r)
		}
	}()

	task(ctx)
}
