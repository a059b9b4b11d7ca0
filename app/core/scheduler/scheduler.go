package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"superagent/app/core/orchestrator/task"
	"superagent/app/core/orchestrator/worker"
	"superagent/app/core/queue"
	"superagent/app/pkg/logger"
)

var (
	ErrNotScheduled   = errors.New("scheduler: task not scheduled or already completed")
	ErrAlreadyStarted = errors.New("scheduler: already started")
	ErrNotStarted     = errors.New("scheduler: not started")
)

const settleTimeout = 10 * time.Second

// Dispatcher executes a fired task's query. *router.Router satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, skill worker.Skill, query string) (string, error)
}

type Config struct {
	Workers         int
	QueueBuffer     int
	StaleRunning    time.Duration
	DispatchTimeout time.Duration

	// KnownSkills, when set, is consulted before a task is persisted so an
	// unknown skill is refused at schedule time rather than at fire time.
	KnownSkills func(worker.Skill) bool
}

// Scheduler accepts deferred tasks, persists them, and fires them at their
// requested time. The store is the durable source of truth; armed timers are
// a disposable projection rebuilt from pending records on restart.
type Scheduler struct {
	store      *task.Store
	dispatcher Dispatcher
	cfg        Config
	exec       *queue.Queue

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	armed   map[int64]*armedJob
	seq     uint64
	wg      sync.WaitGroup
	wake    chan struct{}

	lockMu sync.Mutex
	locks  map[int64]*sync.Mutex

	inflightMu sync.Mutex
	inflight   map[int64]struct{}
}

// armedJob is the live timer binding for one pending record. seq preserves
// scheduling order as the tiebreak for identical fire times.
type armedJob struct {
	taskID int64
	skill  worker.Skill
	query  string
	fireAt time.Time
	seq    uint64
}

// JobInfo describes one armed job for listing surfaces.
type JobInfo struct {
	TaskID int64         `json:"task_id"`
	JobID  string        `json:"job_id"`
	Skill  worker.Skill  `json:"skill"`
	Query  string        `json:"query"`
	FireAt time.Time     `json:"fire_at"`
	seq    uint64
}

func New(store *task.Store, dispatcher Dispatcher, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueBuffer <= 0 {
		cfg.QueueBuffer = 64
	}
	if cfg.StaleRunning <= 0 {
		cfg.StaleRunning = 30 * time.Minute
	}
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		exec:       queue.New(cfg.QueueBuffer),
		armed:      make(map[int64]*armedJob),
		wake:       make(chan struct{}, 1),
		locks:      make(map[int64]*sync.Mutex),
		inflight:   make(map[int64]struct{}),
	}
}

func (s *Scheduler) Start(parent context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	// The pool gets its own context: cancelling the run loop must not kill
	// the workers, or Stop's drain would abort in-flight firings and strand
	// buffered ones. exec.Stop owns the pool's cancellation.
	if err := s.exec.Start(context.Background(), s.cfg.Workers); err != nil {
		s.mu.Lock()
		s.started = false
		s.cancel = nil
		s.mu.Unlock()
		cancel()
		return err
	}

	s.wg.Add(1)
	go s.runLoop(ctx)
	return nil
}

func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.cancel = nil
	s.started = false
	s.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	if timeout > 0 {
		select {
		case <-done:
		case <-time.After(timeout):
			return fmt.Errorf("scheduler: stop timeout after %s", timeout)
		}
	} else {
		<-done
	}
	return s.exec.Stop(timeout)
}

// Schedule persists a new pending record and arms its timer. A fire time in
// the past fires immediately. A store failure aborts the whole operation; no
// timer is armed for a record that was never written.
func (s *Scheduler) Schedule(ctx context.Context, skill worker.Skill, query string, fireAt time.Time) (task.TaskRecord, error) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return task.TaskRecord{}, ErrNotStarted
	}

	if s.cfg.KnownSkills != nil && !s.cfg.KnownSkills(skill) {
		return task.TaskRecord{}, fmt.Errorf("%w: %s", worker.ErrUnknownSkill, skill)
	}

	now := time.Now()
	if fireAt.Before(now) {
		fireAt = now
	}

	record, err := s.store.CreateScheduled(ctx, string(skill), query, fireAt)
	if err != nil {
		return task.TaskRecord{}, err
	}
	s.arm(record.ID, skill, record.Query, fireAt)
	logger.Info("Scheduled %s (%s) to run at %s", record.JobID(), skill, fireAt.UTC().Format(time.RFC3339))
	return record, nil
}

// Cancel disarms a pending task and marks its record cancelled. The timer is
// only dropped after the store update succeeds, so a failed update never
// orphans a pending record. A task whose timer has already fired reports
// ErrNotScheduled even if it is still running.
func (s *Scheduler) Cancel(ctx context.Context, id int64) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	_, ok := s.armed[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotScheduled, task.JobID(id))
	}

	cancelled := task.StatusCancelled
	if _, err := s.store.Update(ctx, id, task.UpdateFields{Status: &cancelled}); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.armed, id)
	s.mu.Unlock()
	s.signalWake()
	s.dropLock(id)
	logger.Info("Cancelled %s", task.JobID(id))
	return nil
}

// QueueStats reports the execution pool counters for status surfaces.
func (s *Scheduler) QueueStats() queue.Stats {
	return s.exec.Stats()
}

// Jobs returns the jobs this process currently holds a live timer for,
// ordered by fire time with scheduling order as the tiebreak.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	jobs := make([]JobInfo, 0, len(s.armed))
	for _, j := range s.armed {
		jobs = append(jobs, JobInfo{
			TaskID: j.taskID,
			JobID:  task.JobID(j.taskID),
			Skill:  j.skill,
			Query:  j.query,
			FireAt: j.fireAt,
			seq:    j.seq,
		})
	}
	s.mu.Unlock()

	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].FireAt.Equal(jobs[k].FireAt) {
			return jobs[i].seq < jobs[k].seq
		}
		return jobs[i].FireAt.Before(jobs[k].FireAt)
	})
	return jobs
}

// List renders the armed jobs as a text summary.
func (s *Scheduler) List() string {
	jobs := s.Jobs()
	if len(jobs) == 0 {
		return "No tasks are currently scheduled."
	}

	var b strings.Builder
	b.WriteString("Scheduled tasks:\n")
	for _, j := range jobs {
		fmt.Fprintf(&b, "\n- Task ID: %s\n  Run time: %s\n  Skill: %s\n  Query: %s\n",
			j.JobID, j.FireAt.UTC().Format("2006-01-02 15:04:05 UTC"), j.Skill, j.Query)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ReconcileOnStart rebuilds the armed timer set from the store: pending
// records are re-armed (past-due ones fire immediately), and running records
// untouched for longer than the staleness threshold are flagged as failed.
func (s *Scheduler) ReconcileOnStart(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return err
	}
	rearmed := 0
	for _, record := range pending {
		s.mu.Lock()
		_, armed := s.armed[record.ID]
		s.mu.Unlock()
		if armed {
			continue
		}
		s.arm(record.ID, worker.Skill(record.Skill), record.Query, record.FireAt)
		rearmed++
	}
	if rearmed > 0 {
		logger.Info("Re-armed %d pending task(s) from the store", rearmed)
	}

	return s.failStuckRunning(ctx)
}

func (s *Scheduler) failStuckRunning(ctx context.Context) error {
	stuck, err := s.store.ListStuckRunning(ctx, s.cfg.StaleRunning)
	if err != nil {
		return err
	}
	for _, record := range stuck {
		if s.isInflight(record.ID) {
			continue
		}
		status := task.StatusError
		result := "task interrupted before completion; flagged as failed after staleness threshold"
		if _, err := s.store.Update(ctx, record.ID, task.UpdateFields{Status: &status, Result: &result}); err != nil {
			logger.Error("Failed to flag stuck task %d: %v", record.ID, err)
			continue
		}
		logger.Error("Flagged stuck running task %s as failed", record.JobID())
	}
	return nil
}

func (s *Scheduler) arm(id int64, skill worker.Skill, query string, fireAt time.Time) {
	s.mu.Lock()
	s.seq++
	s.armed[id] = &armedJob{taskID: id, skill: skill, query: query, fireAt: fireAt, seq: s.seq}
	s.mu.Unlock()
	s.signalWake()
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	sweep := time.NewTicker(s.cfg.StaleRunning)
	defer sweep.Stop()

	for {
		due, next := s.collectDue(time.Now())
		for _, j := range due {
			s.submit(ctx, j)
		}

		var fireWait <-chan time.Time
		if !next.IsZero() {
			delay := time.Until(next)
			if delay < 0 {
				delay = 0
			}
			timer.Reset(delay)
			fireWait = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer, fireWait)
			return
		case <-s.wake:
			stopTimer(timer, fireWait)
		case <-fireWait:
		case <-sweep.C:
			stopTimer(timer, fireWait)
			if err := s.failStuckRunning(ctx); err != nil {
				logger.Error("Stuck-running sweep failed: %v", err)
			}
		}
	}
}

func stopTimer(timer *time.Timer, armed <-chan time.Time) {
	if armed == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

// collectDue removes and returns every armed job whose fire time has
// arrived, in (fire time, scheduling order). It also reports the earliest
// fire time still armed.
func (s *Scheduler) collectDue(now time.Time) ([]*armedJob, time.Time) {
	s.mu.Lock()
	var due []*armedJob
	var next time.Time
	for id, j := range s.armed {
		if !j.fireAt.After(now) {
			due = append(due, j)
			delete(s.armed, id)
		} else if next.IsZero() || j.fireAt.Before(next) {
			next = j.fireAt
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, k int) bool {
		if due[i].fireAt.Equal(due[k].fireAt) {
			return due[i].seq < due[k].seq
		}
		return due[i].fireAt.Before(due[k].fireAt)
	})
	return due, next
}

func (s *Scheduler) submit(ctx context.Context, j *armedJob) {
	job := queue.Job{
		ID:             task.JobID(j.taskID),
		AttemptTimeout: s.cfg.DispatchTimeout,
		Run: func(runCtx context.Context) error {
			return s.fire(runCtx, j)
		},
	}
	if _, err := s.exec.EnqueueContext(ctx, job); err != nil {
		// The record stays pending in the store; restart reconciliation
		// re-arms it.
		logger.Error("Failed to enqueue firing for %s: %v", task.JobID(j.taskID), err)
	}
}

// fire runs one due task: mark running in the store, dispatch, write the
// terminal outcome. The running transition happens before dispatch so a crash
// mid-flight leaves a detectable running record instead of a silent loss.
func (s *Scheduler) fire(ctx context.Context, j *armedJob) error {
	lock := s.lockFor(j.taskID)
	lock.Lock()
	running := task.StatusRunning
	if _, err := s.store.Update(ctx, j.taskID, task.UpdateFields{Status: &running}); err != nil {
		lock.Unlock()
		if errors.Is(err, task.ErrIllegalTransition) || errors.Is(err, task.ErrNotFound) {
			// Lost the race to a cancel; nothing to run.
			s.dropLock(j.taskID)
			return nil
		}
		logger.Error("Task %d could not enter running state: %v", j.taskID, err)
		return err
	}
	s.markInflight(j.taskID)
	lock.Unlock()
	defer s.unmarkInflight(j.taskID)

	result, dispatchErr := s.dispatcher.Dispatch(ctx, j.skill, j.query)
	status := task.StatusSuccess
	if dispatchErr != nil {
		status = task.StatusError
		result = dispatchErr.Error()
		logger.Error("Task %d dispatch failed: %v", j.taskID, dispatchErr)
	}
	return s.settle(j.taskID, status, result)
}

// settle writes the terminal outcome on a detached context so an expired
// dispatch deadline cannot block the bookkeeping. A failed write is retried
// once, then surfaced as a stuck running record.
func (s *Scheduler) settle(id int64, status task.Status, result string) error {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	fields := task.UpdateFields{Status: &status, Result: &result}
	if _, err := s.store.Update(ctx, id, fields); err != nil {
		logger.Error("Task %d terminal update failed, retrying once: %v", id, err)
		if _, err := s.store.Update(ctx, id, fields); err != nil {
			logger.Error("Task %d is stuck in running state: %v", id, err)
			return err
		}
	}
	return nil
}

func (s *Scheduler) lockFor(id int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

func (s *Scheduler) markInflight(id int64) {
	s.inflightMu.Lock()
	s.inflight[id] = struct{}{}
	s.inflightMu.Unlock()
}

func (s *Scheduler) unmarkInflight(id int64) {
	s.inflightMu.Lock()
	delete(s.inflight, id)
	s.inflightMu.Unlock()

	// The record is terminal; its lock has no further contenders.
	s.dropLock(id)
}

func (s *Scheduler) dropLock(id int64) {
	s.lockMu.Lock()
	delete(s.locks, id)
	s.lockMu.Unlock()
}

func (s *Scheduler) isInflight(id int64) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	_, ok := s.inflight[id]
	return ok
}
