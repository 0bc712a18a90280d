package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/safetransit/pkg/config"
	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
	"github.com/angelmondragon/safetransit/pkg/logger"
	"github.com/angelmondragon/safetransit/pkg/metrics"
)

// Task types accepted by AddTaskOfType.
const (
	TaskTypeCheckExpired      = "check_expired"
	TaskTypeCheckExpiringSoon = "check_expiring_soon"
)

const defaultStopTimeout = time.Minute

// ServiceParams configure the scheduler service.
type ServiceParams struct {
	Logger       *logger.Logger
	Registry     *Registry
	Lock         Lock
	Metrics      *metrics.SchedulerMetrics
	Expired      Job
	ExpiringSoon Job
	StopTimeout  time.Duration
	Now          func() time.Time
}

// TaskStatus describes one registered task.
type TaskStatus struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	NextRun  *time.Time `json:"next_run,omitempty"`
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	IsRunning   bool         `json:"is_running"`
	ActiveTasks []string     `json:"active_tasks"`
	TaskCount   int          `json:"task_count"`
	Tasks       []TaskStatus `json:"tasks"`
}

// JobResult reports one synchronous job execution.
type JobResult struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Skipped    bool   `json:"skipped,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Service runs registered tasks on their cron schedules through one gocron
// scheduler that executes a single job at a time.
type Service struct {
	logg         *logger.Logger
	registry     *Registry
	lock         Lock
	metrics      *metrics.SchedulerMetrics
	expired      Job
	expiringSoon Job
	stopTimeout  time.Duration
	now          func() time.Time

	mu        sync.Mutex
	running   bool
	scheduler gocron.Scheduler
	jobIDs    map[string]uuid.UUID
	runCtx    context.Context
	cancel    context.CancelFunc
	initial   sync.WaitGroup

	// execMu serializes job bodies across scheduled, initial and manual runs.
	execMu sync.Mutex
}

// NewService builds a scheduler service. It does not start it.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Expired == nil || params.ExpiringSoon == nil {
		return nil, fmt.Errorf("expired and expiring soon jobs required")
	}
	if params.Lock == nil {
		params.Lock = NewLocalLock()
	}
	if params.Registry == nil {
		params.Registry = NewRegistry()
	}
	if params.StopTimeout <= 0 {
		params.StopTimeout = defaultStopTimeout
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Service{
		logg:         params.Logger,
		registry:     params.Registry,
		lock:         params.Lock,
		metrics:      params.Metrics,
		expired:      params.Expired,
		expiringSoon: params.ExpiringSoon,
		stopTimeout:  params.StopTimeout,
		now:          params.Now,
		jobIDs:       make(map[string]uuid.UUID),
	}, nil
}

// RegisterDefaults adds the three built-in tasks with schedules from cfg.
func RegisterDefaults(registry *Registry, cfg config.SchedulerConfig, expired, expiringSoon, cleanup Job) error {
	defaults := []struct {
		expr string
		job  Job
	}{
		{expr: orDefault(cfg.ExpiredCron, "* * * * *"), job: expired},
		{expr: orDefault(cfg.ExpiringSoonCron, "*/15 * * * *"), job: expiringSoon},
		{expr: orDefault(cfg.CleanupCron, "0 2 * * *"), job: cleanup},
	}
	for _, d := range defaults {
		if d.job == nil {
			continue
		}
		if _, err := registry.Register(d.job.Name(), d.expr, d.job); err != nil {
			return err
		}
	}
	return nil
}

// Start schedules every registered task and runs the two time-driven sweeps
// once. Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logg.Info(ctx, "scheduler already running")
		return nil
	}

	scheduler, err := gocron.NewScheduler(
		gocron.WithLimitConcurrentJobs(1, gocron.LimitModeWait),
		gocron.WithLocation(time.UTC),
		gocron.WithStopTimeout(s.stopTimeout),
		gocron.WithLogger(newSchedulerLogger(s.logg, ctx)),
	)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	jobIDs := make(map[string]uuid.UUID)
	for _, task := range s.registry.Tasks() {
		id, err := s.schedule(scheduler, runCtx, task)
		if err != nil {
			cancel()
			_ = scheduler.Shutdown()
			return err
		}
		jobIDs[task.Name] = id
	}

	scheduler.Start()
	s.scheduler = scheduler
	s.jobIDs = jobIDs
	s.runCtx = runCtx
	s.cancel = cancel
	s.running = true

	s.initial.Add(1)
	go func() {
		defer s.initial.Done()
		s.execute(runCtx, s.expired.Name(), s.expired)
		s.execute(runCtx, s.expiringSoon.Name(), s.expiringSoon)
	}()

	s.logg.Info(s.logg.WithField(ctx, "task_count", len(jobIDs)), "scheduler started")
	return nil
}

// Stop halts scheduling and waits for any in-flight job to finish. Calling
// Stop on a stopped service is a no-op.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	scheduler := s.scheduler
	cancel := s.cancel
	ctx := s.runCtx
	s.running = false
	s.scheduler = nil
	s.jobIDs = make(map[string]uuid.UUID)
	s.mu.Unlock()

	err := scheduler.Shutdown()
	s.initial.Wait()
	s.execMu.Lock()
	s.execMu.Unlock()
	cancel()

	if err != nil {
		s.logg.Error(ctx, "scheduler shutdown", err)
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	s.logg.Info(ctx, "scheduler stopped")
	return nil
}

// Running reports whether the scheduler loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status lists registered tasks with their next activation when running.
func (s *Service) Status() Status {
	running := s.Running()
	now := s.now()
	tasks := s.registry.Tasks()
	status := Status{
		IsRunning:   running,
		ActiveTasks: make([]string, 0, len(tasks)),
		TaskCount:   len(tasks),
		Tasks:       make([]TaskStatus, 0, len(tasks)),
	}
	for _, task := range tasks {
		entry := TaskStatus{Name: task.Name, Schedule: task.Schedule}
		if running {
			next := task.Next(now)
			entry.NextRun = &next
		}
		status.ActiveTasks = append(status.ActiveTasks, task.Name)
		status.Tasks = append(status.Tasks, entry)
	}
	return status
}

// RunOnce synchronously runs the expired and expiring soon sweeps.
func (s *Service) RunOnce(ctx context.Context) ([]JobResult, error) {
	results := make([]JobResult, 0, 2)
	var errs error
	for _, job := range []Job{s.expired, s.expiringSoon} {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result := s.execute(ctx, job.Name(), job)
		if result.Error != "" {
			errs = multierr.Append(errs, fmt.Errorf("%s: %s", job.Name(), result.Error))
		}
		results = append(results, result)
	}
	return results, errs
}

// AddTask registers a task and schedules it right away when running.
func (s *Service) AddTask(name, expr string, job Job) error {
	task, err := s.registry.Register(name, expr, job)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		id, err := s.schedule(s.scheduler, s.runCtx, task)
		if err != nil {
			_, _ = s.registry.Remove(task.Name)
			return err
		}
		s.jobIDs[task.Name] = id
	}
	s.logg.Info(s.logg.WithFields(context.Background(), map[string]any{
		"task":     task.Name,
		"schedule": task.Schedule,
	}), "scheduler task added")
	return nil
}

// AddTaskOfType registers a task that runs one of the built-in sweeps.
func (s *Service) AddTaskOfType(name, expr, taskType string) error {
	switch taskType {
	case TaskTypeCheckExpired:
		return s.AddTask(name, expr, s.expired)
	case TaskTypeCheckExpiringSoon:
		return s.AddTask(name, expr, s.expiringSoon)
	}
	return pkgerrors.InvalidInput(fmt.Sprintf("invalid task type %q: must be %s or %s", taskType, TaskTypeCheckExpired, TaskTypeCheckExpiringSoon))
}

// RemoveTask unschedules and forgets a task. Built-in tasks can be removed too.
func (s *Service) RemoveTask(name string) error {
	task, err := s.registry.Remove(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.jobIDs[task.Name]; ok && s.scheduler != nil {
		if err := s.scheduler.RemoveJob(id); err != nil {
			s.logg.Error(context.Background(), "remove scheduled job", err)
		}
		delete(s.jobIDs, task.Name)
	}
	s.logg.Info(s.logg.WithField(context.Background(), "task", task.Name), "scheduler task removed")
	return nil
}

func (s *Service) schedule(scheduler gocron.Scheduler, ctx context.Context, task Task) (uuid.UUID, error) {
	job, err := scheduler.NewJob(
		gocron.CronJob(task.Schedule, hasSeconds(task.Schedule)),
		gocron.NewTask(func() {
			if !s.Running() {
				return
			}
			s.execute(ctx, task.Name, task.Job)
		}),
		gocron.WithName(task.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return uuid.Nil, pkgerrors.InvalidInput(fmt.Sprintf("schedule task %q: %v", task.Name, err))
	}
	return job.ID(), nil
}

// execute runs one job under the distributed lock, recording metrics. Errors
// are logged and reported, never propagated to the scheduler.
func (s *Service) execute(ctx context.Context, name string, job Job) JobResult {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	jobCtx := s.logg.WithField(ctx, "job", name)
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")
	result := JobResult{Name: name}

	locked, err := s.lock.Acquire(jobCtx, name)
	if err != nil {
		s.logg.Error(jobCtx, "lock acquire", err)
		s.metrics.IncFailure(name)
		result.Error = err.Error()
		return result
	}
	if !locked {
		s.logg.Info(jobCtx, "another instance holds the task lock; skipping")
		result.Skipped = true
		s.metrics.IncSkipped(name)
		return result
	}
	defer func() {
		if relErr := s.lock.Release(jobCtx, name); relErr != nil {
			s.logg.Error(jobCtx, "failed to release task lock", relErr)
		}
	}()

	s.logg.Debug(jobCtx, "job start")
	start := time.Now()
	err = s.run(jobCtx, job)
	duration := time.Since(start)
	s.metrics.ObserveRun(name, duration, s.now(), err)
	result.DurationMS = duration.Milliseconds()
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		result.Error = err.Error()
		return result
	}
	s.logg.Info(jobCtx, "job completed")
	return result
}

func (s *Service) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
