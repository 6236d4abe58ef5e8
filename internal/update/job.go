package update

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"quoteupdater/internal/instrument"
	"quoteupdater/internal/telemetry"
)

// DefaultPoolSize is the number of tasks a run executes in parallel.
const DefaultPoolSize = 10

// ErrRunning is returned by Run while a previous run of the same job still
// has tasks in flight.
var ErrRunning = errors.New("update job is already running")

// Notifier receives the coalesced "data changed" signal.
type Notifier interface {
	MarkDirty()
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func()

func (f NotifierFunc) MarkDirty() { f() }

// Status is the outcome of a run.
type Status int

const (
	StatusOK Status = iota
	StatusCancelled
)

func (s Status) String() string {
	if s == StatusCancelled {
		return "cancelled"
	}
	return "ok"
}

// Result summarizes a run.
type Result struct {
	Status    Status
	Tasks     int
	Completed int
	Changes   int64
}

// Option configures a Job.
type Option func(*Job)

// WithPoolSize sets how many tasks run in parallel. Values <= 0 keep the default.
func WithPoolSize(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.poolSize = n
		}
	}
}

// WithSink sets where fetch errors are reported.
func WithSink(s Sink) Option {
	return func(j *Job) { j.sink = s }
}

// WithLogger sets the logger for run lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(j *Job) { j.logger = l }
}

// WithHostLocks shares host slots with other jobs. Jobs that fetch from the
// same hosts must share one HostLocks, otherwise each run serializes only its
// own tasks.
func WithHostLocks(l *HostLocks) Option {
	return func(j *Job) { j.hosts = l }
}

// WithShuffle replaces the random permutation applied to historic tasks.
func WithShuffle(fn ShuffleFunc) Option {
	return func(j *Job) { j.shuffle = fn }
}

// Job refreshes quotes of a fixed instrument set. A Job runs at most once at
// a time; RepeatEvery plus Loop keep it refreshing on an interval.
type Job struct {
	feeds       Resolver
	notifier    Notifier
	instruments []*instrument.Instrument
	targets     Target

	poolSize int
	repeat   time.Duration
	sink     Sink
	logger   *slog.Logger
	shuffle  ShuffleFunc
	hosts    *HostLocks

	running  atomic.Bool
	inflight sync.WaitGroup
}

// NewJob creates a job updating targets of instruments.
func NewJob(feeds Resolver, notifier Notifier, instruments []*instrument.Instrument, targets Target, opts ...Option) *Job {
	j := &Job{
		feeds:       feeds,
		notifier:    notifier,
		instruments: append([]*instrument.Instrument(nil), instruments...),
		targets:     targets,
		poolSize:    DefaultPoolSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.sink == nil {
		j.sink = LogSink{Logger: j.logger}
	}
	if j.hosts == nil {
		j.hosts = NewHostLocks()
	}
	return j
}

// NewSingleJob creates a job updating all targets of one instrument.
func NewSingleJob(feeds Resolver, notifier Notifier, inst *instrument.Instrument, opts ...Option) *Job {
	return NewJob(feeds, notifier, []*instrument.Instrument{inst}, AllTargets, opts...)
}

// RepeatEvery makes Loop start a new run d after each run finished.
// Zero disables repeating.
func (j *Job) RepeatEvery(d time.Duration) *Job {
	j.repeat = d
	return j
}

// Run executes one scheduling run. It returns when all tasks finished or ctx
// is cancelled, whichever comes first; tasks already started keep running
// after cancellation. The only error is ErrRunning.
func (j *Job) Run(ctx context.Context, progress Progress) (Result, error) {
	if !j.running.CompareAndSwap(false, true) {
		return Result{}, ErrRunning
	}
	j.inflight.Add(1)
	if progress == nil {
		progress = NopProgress{}
	}

	start := time.Now()
	log := j.logger.With("run_id", uuid.NewString())
	telemetry.RunStarted()

	progress.Begin("Updating quotes", UnknownTotal)
	defer progress.Done()

	coalescer := NewCoalescer(j.flush)
	tasks := Partition(j.instruments, j.feeds, j.targets, j.shuffle)
	res := Result{Tasks: len(tasks)}

	if ctx.Err() != nil {
		j.release()
		telemetry.RunCancelled()
		log.Info("quote update cancelled before start")
		res.Status = StatusCancelled
		return res, nil
	}

	log.Info("quote update started",
		"targets", j.targets.String(),
		"instruments", len(j.instruments),
		"tasks", len(tasks),
	)

	if len(tasks) == 0 {
		j.release()
	} else {
		completed, finished, cancelled := j.runTasks(ctx, tasks, coalescer, progress)
		res.Completed = completed
		if cancelled {
			// keep the job marked as running until the stragglers are done
			go func() {
				<-finished
				j.release()
			}()
			res.Status = StatusCancelled
		} else {
			j.release()
		}
	}

	res.Changes = coalescer.Count()
	if res.Status == StatusOK && ctx.Err() == nil && coalescer.HasPendingChanges() {
		j.flush()
	}
	if res.Status == StatusCancelled {
		telemetry.RunCancelled()
	}

	elapsed := time.Since(start)
	telemetry.RunFinished(elapsed)
	log.Info("quote update finished",
		"status", res.Status.String(),
		"completed", res.Completed,
		"changes", res.Changes,
		"duration", elapsed,
	)
	return res, nil
}

// runTasks starts every task and waits for the group or ctx. finished is
// closed once the last task has returned.
func (j *Job) runTasks(ctx context.Context, tasks []*Task, c *Coalescer, progress Progress) (completed int, finished <-chan struct{}, cancelled bool) {
	taskCtx := context.WithoutCancel(ctx)
	pool := semaphore.NewWeighted(int64(j.poolSize))
	var done atomic.Int64

	var g errgroup.Group
	for _, t := range tasks {
		g.Go(func() error {
			// host slot first, so tasks queued on a busy host do not hold pool slots
			release, err := j.hosts.Acquire(ctx, t.Token)
			if err != nil {
				return nil
			}
			defer release()
			if err := pool.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer pool.Release(1)
			if ctx.Err() != nil {
				return nil
			}

			t.Run(taskCtx, c, j.sink)

			done.Add(1)
			telemetry.TaskDone()
			progress.Worked(1)
			return nil
		})
	}

	ch := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(ch)
	}()

	select {
	case <-ch:
		return int(done.Load()), ch, false
	case <-ctx.Done():
		select {
		case <-ch:
			return int(done.Load()), ch, false
		default:
		}
		return int(done.Load()), ch, true
	}
}

func (j *Job) release() {
	j.running.Store(false)
	j.inflight.Done()
}

// Wait blocks until the tasks of the last run have returned, including the
// ones a cancelled Run left behind. Call it after the last Run was started.
func (j *Job) Wait() {
	j.inflight.Wait()
}

func (j *Job) flush() {
	telemetry.DirtyFlushed()
	if j.notifier != nil {
		j.notifier.MarkDirty()
	}
}

// Loop runs the job, then keeps re-running it RepeatEvery after each run
// until ctx is cancelled. Without a repeat interval it runs once.
func (j *Job) Loop(ctx context.Context, progress Progress) error {
	for {
		if _, err := j.Run(ctx, progress); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if j.repeat <= 0 {
			return nil
		}

		timer := time.NewTimer(j.repeat)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
