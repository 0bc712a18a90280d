package cron

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"

	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
)

// Job represents the work a scheduled task performs.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Task binds a Job to a recurrence under a unique name.
type Task struct {
	Name     string
	Schedule string
	Job      Job

	recurrence robfig.Schedule
}

// Next returns the first activation strictly after from.
func (t Task) Next(from time.Time) time.Time {
	if t.recurrence == nil {
		return time.Time{}
	}
	return t.recurrence.Next(from)
}

var scheduleParser = robfig.NewParser(
	robfig.SecondOptional | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
)

// ParseSchedule validates a cron expression. Five fields are standard, a
// sixth leading field adds seconds.
func ParseSchedule(expr string) (robfig.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, pkgerrors.InvalidInput("cron expression is required")
	}
	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, pkgerrors.InvalidInput(fmt.Sprintf("invalid cron expression %q: %v", expr, err))
	}
	return schedule, nil
}

func hasSeconds(expr string) bool {
	return len(strings.Fields(expr)) == 6
}

// Registry tracks tasks in registration order.
type Registry struct {
	mu    sync.RWMutex
	tasks []Task
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a task. Names are unique.
func (r *Registry) Register(name, expr string, job Job) (Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Task{}, pkgerrors.InvalidInput("task name is required")
	}
	if job == nil {
		return Task{}, pkgerrors.InvalidInput("task job is required")
	}
	recurrence, err := ParseSchedule(expr)
	if err != nil {
		return Task{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tasks {
		if existing.Name == name {
			return Task{}, pkgerrors.TaskExists(name)
		}
	}
	task := Task{Name: name, Schedule: strings.TrimSpace(expr), Job: job, recurrence: recurrence}
	r.tasks = append(r.tasks, task)
	return task, nil
}

// Remove deletes the named task.
func (r *Registry) Remove(name string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, task := range r.tasks {
		if task.Name == name {
			r.tasks = append(r.tasks[:i:i], r.tasks[i+1:]...)
			return task, nil
		}
	}
	return Task{}, pkgerrors.NotFound(fmt.Sprintf("task %q not found", name))
}

// Tasks returns the registered tasks in the order they were added.
func (r *Registry) Tasks() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tasks := make([]Task, len(r.tasks))
	copy(tasks, r.tasks)
	return tasks
}
