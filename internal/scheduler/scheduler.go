// Package scheduler implements the Scheduler (C10): a cooperative task
// scheduler running registered periodic tasks on a fixed worker pool, with
// per-task overrun detection and jittered periods (spec.md §4.10, §5).
package scheduler

import (
	"context"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/minhos/mdic/internal/jitter"
)

// MaxWorkers bounds the fixed worker pool size, per spec.md §4.10.
const MaxWorkers = 8

// Task is one periodically-run unit of work.
type Task struct {
	Name       string
	Period     time.Duration
	JitterFrac float64 // fraction of Period to randomize by, e.g. 0.1
	Run        func(ctx context.Context) error
}

type registeredTask struct {
	task    Task
	running int32
	overrun uint64
}

// Scheduler drives registered Tasks on a worker pool sized to
// min(logical CPUs, MaxWorkers). A task whose period fires while its
// previous run is still active is skipped and logged as an overrun rather
// than queued or run concurrently with itself.
type Scheduler struct {
	workers int
	sem     *semaphore.Weighted
	rng     *jitter.RNG
	logger  *log.Logger

	mu    sync.Mutex
	tasks []*registeredTask

	wg sync.WaitGroup
}

// New builds a Scheduler. A nil logger defaults to log.Default().
func New(logger *log.Logger) *Scheduler {
	workers := runtime.NumCPU()
	if workers > MaxWorkers {
		workers = MaxWorkers
	}
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		workers: workers,
		sem:     semaphore.NewWeighted(int64(workers)),
		rng:     jitter.New(time.Now().UnixNano()),
		logger:  logger,
	}
}

// Workers reports the worker pool size in effect.
func (s *Scheduler) Workers() int { return s.workers }

// Register adds a task. Must be called before Run.
func (s *Scheduler) Register(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &registeredTask{task: t})
}

// Run launches every registered task's period loop and blocks until ctx is
// cancelled, at which point it waits for in-flight runs to finish before
// returning.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	tasks := make([]*registeredTask, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, rt := range tasks {
		rt := rt
		s.wg.Add(1)
		go s.runTask(ctx, rt)
	}
	<-ctx.Done()
	s.wg.Wait()
}

func (s *Scheduler) runTask(ctx context.Context, rt *registeredTask) {
	defer s.wg.Done()

	timer := time.NewTimer(s.rng.Jitter(rt.task.Period, rt.task.JitterFrac))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.fire(ctx, rt)
			timer.Reset(s.rng.Jitter(rt.task.Period, rt.task.JitterFrac))
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, rt *registeredTask) {
	if !atomic.CompareAndSwapInt32(&rt.running, 0, 1) {
		atomic.AddUint64(&rt.overrun, 1)
		s.logger.Printf("scheduler: task %q overrun: previous run still active", rt.task.Name)
		return
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		atomic.StoreInt32(&rt.running, 0) // ctx cancelled before a worker slot freed up
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		defer atomic.StoreInt32(&rt.running, 0)

		if err := rt.task.Run(ctx); err != nil {
			s.logger.Printf("scheduler: task %q failed: %v", rt.task.Name, err)
		}
	}()
}

// TriggerNow runs the named task immediately, outside its normal period,
// subject to the same overrun and worker-pool rules — used by the CLI's
// manual gap-scan/backfill trigger (spec.md §4.7, §6.7).
func (s *Scheduler) TriggerNow(ctx context.Context, name string) bool {
	s.mu.Lock()
	var target *registeredTask
	for _, rt := range s.tasks {
		if rt.task.Name == name {
			target = rt
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return false
	}
	s.fire(ctx, target)
	return true
}

// Overruns reports how many times the named task's period fired while a
// previous run was still active.
func (s *Scheduler) Overruns(name string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rt := range s.tasks {
		if rt.task.Name == name {
			return atomic.LoadUint64(&rt.overrun), true
		}
	}
	return 0, false
}
