package livelog

import (
	"strings"
	"sync"
	"time"
)

// defaultMaxLines bounds the lines kept per task.
const defaultMaxLines = 500

// LiveLog is the recent tool output of one task.
type LiveLog struct {
	TaskID     string    `json:"task_id"`
	Lines      []string  `json:"lines"`
	Dropped    int       `json:"dropped"`
	StartTime  time.Time `json:"start_time"`
	LastUpdate time.Time `json:"last_update"`
	Done       bool      `json:"done"`
}

// Text joins the kept lines.
func (l *LiveLog) Text() string {
	return strings.Join(l.Lines, "\n")
}

// Manager keeps live logs of running tasks, keyed by task id.
type Manager struct {
	mu       sync.RWMutex
	logs     map[string]*LiveLog
	maxLines int
}

// NewManager creates a manager keeping at most maxLines lines per task;
// older lines are dropped. Zero uses a default.
func NewManager(maxLines int) *Manager {
	if maxLines <= 0 {
		maxLines = defaultMaxLines
	}
	return &Manager{logs: make(map[string]*LiveLog), maxLines: maxLines}
}

// StartTask creates a new live log entry for a task
func (m *Manager) StartTask(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.logs[taskID] = &LiveLog{TaskID: taskID, StartTime: now, LastUpdate: now}
}

// Append adds a line to a started task's log. Lines for unknown tasks are
// ignored.
func (m *Manager) Append(taskID, line string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.logs[taskID]
	if !ok || l.Done {
		return
	}
	l.Lines = append(l.Lines, line)
	if over := len(l.Lines) - m.maxLines; over > 0 {
		l.Lines = append(l.Lines[:0:0], l.Lines[over:]...)
		l.Dropped += over
	}
	l.LastUpdate = time.Now()
}

// GetLog returns a copy of a task's live log.
func (m *Manager) GetLog(taskID string) (*LiveLog, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.logs[taskID]
	if !ok {
		return nil, false
	}
	return l.copy(), true
}

// EndTask marks a task's log as complete. It stays readable until
// CleanOldLogs removes it.
func (m *Manager) EndTask(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.logs[taskID]; ok {
		l.Done = true
		l.LastUpdate = time.Now()
	}
}

// GetAllActiveLogs returns copies of the logs of tasks still running.
func (m *Manager) GetAllActiveLogs() map[string]*LiveLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*LiveLog, len(m.logs))
	for id, l := range m.logs {
		if !l.Done {
			result[id] = l.copy()
		}
	}
	return result
}

// CleanOldLogs removes finished logs that haven't been updated in maxAge.
func (m *Manager) CleanOldLogs(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, l := range m.logs {
		if l.Done && now.Sub(l.LastUpdate) > maxAge {
			delete(m.logs, id)
			removed++
		}
	}
	return removed
}

func (l *LiveLog) copy() *LiveLog {
	c := *l
	c.Lines = append([]string(nil), l.Lines...)
	return &c
}
