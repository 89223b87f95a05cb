package worker

import (
	"errors"
	"sync"
	"time"

	"github.com/ah-its-andy/bookconv/internal/task"
	"github.com/google/uuid"
)

var (
	ErrQueueFull = errors.New("task queue is full")
	ErrStopped   = errors.New("task queue is not accepting tasks")
	ErrDuplicate = errors.New("task already queued")
)

type entry struct {
	user     string
	task     task.Task
	queuedAt time.Time
	started  time.Time
}

// Queue is a bounded FIFO of tasks. A task can only be queued once at a time.
type Queue struct {
	ch        chan *entry
	mu        sync.Mutex
	enqueued  map[uuid.UUID]*entry
	accepting bool
}

func NewQueue(size int) *Queue {
	return &Queue{
		ch:        make(chan *entry, size),
		enqueued:  make(map[uuid.UUID]*entry),
		accepting: true,
	}
}

// Enqueue adds t without blocking.
func (q *Queue) Enqueue(user string, t task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.accepting {
		return ErrStopped
	}
	if _, ok := q.enqueued[t.ID()]; ok {
		return ErrDuplicate
	}
	e := &entry{user: user, task: t, queuedAt: time.Now()}
	select {
	case q.ch <- e:
	default:
		return ErrQueueFull
	}
	q.enqueued[t.ID()] = e
	return nil
}

// Dequeued forgets a finished task.
func (q *Queue) Dequeued(id uuid.UUID) {
	q.mu.Lock()
	delete(q.enqueued, id)
	q.mu.Unlock()
}

func (q *Queue) markStarted(e *entry) {
	q.mu.Lock()
	e.started = time.Now()
	q.mu.Unlock()
}

// StopAccepting makes every further Enqueue fail.
func (q *Queue) StopAccepting() {
	q.mu.Lock()
	q.accepting = false
	q.mu.Unlock()
}

func (q *Queue) Chan() <-chan *entry { return q.ch }

// Len counts queued and running tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.enqueued)
}

func (q *Queue) entries() []entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]entry, 0, len(q.enqueued))
	for _, e := range q.enqueued {
		out = append(out, *e)
	}
	return out
}
