// Package worker runs tasks on a fixed number of goroutines and keeps a
// history of finished ones.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ah-its-andy/bookconv/internal/db"
	"github.com/ah-its-andy/bookconv/internal/livelog"
	"github.com/ah-its-andy/bookconv/internal/task"
)

// History stores finished tasks. *db.Store satisfies it.
type History interface {
	InsertTaskHistory(ctx context.Context, h *db.TaskHistory) error
}

// Snapshot is the polled view of a queued or running task.
type Snapshot struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Message   string      `json:"message"`
	User      string      `json:"user"`
	Status    task.Status `json:"status"`
	Progress  float64     `json:"progress"`
	Error     string      `json:"error,omitempty"`
	QueuedAt  time.Time   `json:"queued_at"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
}

// Pool is the task dispatcher.
type Pool struct {
	workers int
	queue   *Queue
	history History
	logs    *livelog.Manager
	logger  *slog.Logger
	wg      sync.WaitGroup
}

var _ task.Dispatcher = (*Pool)(nil)

// NewPool creates a pool. history and logs may be nil.
func NewPool(workers int, q *Queue, history History, logs *livelog.Manager, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		queue:   q,
		history: history,
		logs:    logs,
		logger:  logger.With("component", "worker"),
	}
}

// Add queues t for execution.
func (p *Pool) Add(user string, t task.Task) error {
	if err := p.queue.Enqueue(user, t); err != nil {
		return fmt.Errorf("add task %s: %w", t.ID(), err)
	}
	p.logger.Info("task queued", "task", t.ID().String(), "name", t.Name(), "user", user)
	return nil
}

// Run starts the workers. They stop when ctx is cancelled or after Drain.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("started workers", "count", p.workers)
}

func (p *Pool) worker(ctx context.Context, idx int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-p.queue.Chan():
			if !ok {
				return
			}
			p.handle(ctx, idx, e)
		}
	}
}

func (p *Pool) handle(ctx context.Context, idx int, e *entry) {
	t := e.task
	id := t.ID().String()
	defer p.queue.Dequeued(t.ID())

	p.queue.markStarted(e)
	if p.logs != nil {
		p.logs.StartTask(id)
		defer p.logs.EndTask(id)
	}
	log := p.logger.With("task", id, "name", t.Name(), "worker", idx)
	log.Debug("task started")

	start := time.Now()
	p.runTask(ctx, t, log)
	end := time.Now()

	log.Info("task finished", "status", t.Status(), "duration", end.Sub(start))
	if p.history == nil {
		return
	}
	h := &db.TaskHistory{
		TaskID:       id,
		Name:         t.Name(),
		Message:      t.Message(),
		User:         e.user,
		Status:       string(t.Status()),
		ErrorMessage: t.Err(),
		Progress:     t.Progress(),
		StartTime:    start,
		EndTime:      end,
		DurationMs:   end.Sub(start).Milliseconds(),
	}
	// the run context may already be cancelled on shutdown
	if err := p.history.InsertTaskHistory(context.WithoutCancel(ctx), h); err != nil {
		log.Error("insert task history failed", "error", err)
	}
}

type failer interface {
	Fail(msg string)
}

// runTask keeps a panicking task from taking the worker down and makes sure
// it ends in a terminal state.
func (p *Pool) runTask(ctx context.Context, t task.Task, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r)
			if f, ok := t.(failer); ok {
				f.Fail(fmt.Sprintf("unexpected error: %v", r))
			}
		}
	}()
	t.Run(ctx, p)
	if !t.Status().Terminal() {
		log.Warn("task returned without finishing", "status", t.Status())
		if f, ok := t.(failer); ok {
			f.Fail("task did not finish")
		}
	}
}

// Snapshots lists queued and running tasks, oldest first.
func (p *Pool) Snapshots() []Snapshot {
	entries := p.queue.entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].queuedAt.Before(entries[j].queuedAt) })
	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		s := Snapshot{
			ID:       e.task.ID().String(),
			Name:     e.task.Name(),
			Message:  e.task.Message(),
			User:     e.user,
			Status:   e.task.Status(),
			Progress: e.task.Progress(),
			Error:    e.task.Err(),
			QueuedAt: e.queuedAt,
		}
		if !e.started.IsZero() {
			started := e.started
			s.StartedAt = &started
		}
		out = append(out, s)
	}
	return out
}

// Len counts queued and running tasks.
func (p *Pool) Len() int { return p.queue.Len() }

// Drain waits for queued and running tasks to finish, or for ctx to expire.
// Running tasks may still queue follow-on tasks while the pool drains, so
// callers stop their own ingress first and call Stop afterwards.
func (p *Pool) Drain(ctx context.Context) error {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for p.queue.Len() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain: %d tasks left: %w", p.queue.Len(), ctx.Err())
		case <-tick.C:
		}
	}
	return nil
}

// Stop refuses every further task.
func (p *Pool) Stop() { p.queue.StopAccepting() }

// Wait blocks until every worker goroutine has returned.
func (p *Pool) Wait() { p.wg.Wait() }
