// Package task defines the unit of background work the dispatcher runs and
// the conversion and e-mail tasks built on it.
package task

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task. A task moves from pending to
// running and ends in exactly one terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// Task is a unit of asynchronous work.
type Task interface {
	ID() uuid.UUID
	Name() string
	// Message is a one-line description of what the task does.
	Message() string
	IsCancellable() bool
	// Progress is a fraction in [0, 1]; safe to call from any goroutine.
	Progress() float64
	Status() Status
	// Err is the error message of a failed task.
	Err() string
	// Run executes the task on the calling goroutine. It is not re-entrant
	// and only the first call does anything.
	Run(ctx context.Context, d Dispatcher)
}

// Dispatcher accepts tasks for asynchronous execution.
type Dispatcher interface {
	Add(user string, t Task) error
}

// Base carries the state every task shares. Embed a *Base and call Start,
// Succeed and Fail from Run.
type Base struct {
	id       uuid.UUID
	message  string
	progress atomic.Uint64 // math.Float64bits
	started  atomic.Bool

	mu     sync.RWMutex
	status Status
	errMsg string
}

func NewBase(message string) *Base {
	return &Base{id: uuid.New(), message: message, status: StatusPending}
}

func (b *Base) ID() uuid.UUID { return b.id }

func (b *Base) Message() string { return b.message }

func (b *Base) Progress() float64 {
	return math.Float64frombits(b.progress.Load())
}

// SetProgress raises progress to p, clamped to [0, 1]. Lower values are
// ignored so progress never goes backwards.
func (b *Base) SetProgress(p float64) {
	if math.IsNaN(p) {
		return
	}
	p = math.Max(0, math.Min(1, p))
	for {
		cur := b.progress.Load()
		if p <= math.Float64frombits(cur) {
			return
		}
		if b.progress.CompareAndSwap(cur, math.Float64bits(p)) {
			return
		}
	}
}

func (b *Base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *Base) Err() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.errMsg
}

// Start moves the task to running. It returns false if the task was
// already started.
func (b *Base) Start() bool {
	if !b.started.CompareAndSwap(false, true) {
		return false
	}
	b.mu.Lock()
	b.status = StatusRunning
	b.mu.Unlock()
	return true
}

// Succeed marks a running task as done.
func (b *Base) Succeed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != StatusRunning {
		return
	}
	b.status = StatusSuccess
	b.progress.Store(math.Float64bits(1))
}

// Fail marks a running task as failed with msg.
func (b *Base) Fail(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != StatusRunning {
		return
	}
	b.status = StatusError
	b.errMsg = msg
}
