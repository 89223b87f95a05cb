// Package watcher turns conversion request files dropped into a spool
// directory into queued tasks.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ah-its-andy/bookconv/internal/task"
	"github.com/fsnotify/fsnotify"
)

const (
	requestExt = ".json"
	queuedExt  = ".queued"
	failedExt  = ".failed"
)

// SubmitFunc queues a conversion for req.
type SubmitFunc func(req task.ConversionRequest) error

// Watcher watches one spool directory. Each *.json file holds a single
// conversion request; once handled it is renamed to *.json.queued, or
// *.json.failed with the reason written next to it.
type Watcher struct {
	dir    string
	delay  time.Duration
	submit SubmitFunc
	logger *slog.Logger
	w      *fsnotify.Watcher

	mu       sync.Mutex
	paused   bool
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// New creates a watcher for dir. delay is how long a file must sit after
// its last event before it is read, letting writers finish.
func New(dir string, delay time.Duration, submit SubmitFunc, logger *slog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		delay:    delay,
		submit:   submit,
		logger:   logger.With("component", "watcher", "dir", dir),
		w:        w,
		inFlight: make(map[string]struct{}),
	}, nil
}

// Start picks up requests already in the spool and then handles new ones
// until ctx is cancelled.
func (wr *Watcher) Start(ctx context.Context) error {
	if err := wr.w.Add(wr.dir); err != nil {
		return fmt.Errorf("watch %s: %w", wr.dir, err)
	}
	if err := wr.ScanAll(); err != nil {
		wr.logger.Warn("initial scan failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			wr.wg.Wait()
			return nil
		case ev, ok := <-wr.w.Events:
			if !ok {
				return nil
			}
			wr.handleEvent(ctx, ev)
		case err, ok := <-wr.w.Errors:
			if !ok {
				return nil
			}
			wr.logger.Error("watcher error", "error", err)
		}
	}
}

func (wr *Watcher) Close() error { return wr.w.Close() }

func (wr *Watcher) Pause()       { wr.mu.Lock(); wr.paused = true; wr.mu.Unlock() }
func (wr *Watcher) Resume()      { wr.mu.Lock(); wr.paused = false; wr.mu.Unlock() }
func (wr *Watcher) Paused() bool { wr.mu.Lock(); defer wr.mu.Unlock(); return wr.paused }

func isRequest(path string) bool {
	return strings.EqualFold(filepath.Ext(path), requestExt)
}

func (wr *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isRequest(ev.Name) || wr.Paused() {
		return
	}
	wr.mu.Lock()
	if _, busy := wr.inFlight[ev.Name]; busy {
		wr.mu.Unlock()
		return
	}
	wr.inFlight[ev.Name] = struct{}{}
	wr.mu.Unlock()

	wr.wg.Add(1)
	go func(path string) {
		defer wr.wg.Done()
		defer func() {
			wr.mu.Lock()
			delete(wr.inFlight, path)
			wr.mu.Unlock()
		}()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wr.delay):
		}
		if err := wr.ProcessFile(path); err != nil {
			wr.logger.Error("spool request failed", "file", filepath.Base(path), "error", err)
		}
	}(ev.Name)
}

// ScanAll handles every request file currently in the spool.
func (wr *Watcher) ScanAll() error {
	entries, err := os.ReadDir(wr.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !isRequest(e.Name()) {
			continue
		}
		if err := wr.ProcessFile(filepath.Join(wr.dir, e.Name())); err != nil {
			wr.logger.Error("spool request failed", "file", e.Name(), "error", err)
		}
	}
	return nil
}

// ProcessFile decodes and submits one request file, then renames it so it
// is never picked up twice.
func (wr *Watcher) ProcessFile(path string) error {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// already handled through another event
		return nil
	}
	if err != nil {
		return err
	}

	var req task.ConversionRequest
	err = json.Unmarshal(b, &req)
	if err != nil {
		err = fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	} else if err = req.Validate(); err == nil {
		err = wr.submit(req)
	}
	if err != nil {
		wr.reject(path, err)
		return err
	}

	if rerr := os.Rename(path, path+queuedExt); rerr != nil {
		return fmt.Errorf("mark %s queued: %w", filepath.Base(path), rerr)
	}
	wr.logger.Info("queued spool request", "file", filepath.Base(path), "book_id", req.BookID)
	return nil
}

func (wr *Watcher) reject(path string, reason error) {
	if err := os.Rename(path, path+failedExt); err != nil {
		wr.logger.Warn("mark request failed", "file", filepath.Base(path), "error", err)
		return
	}
	if err := os.WriteFile(path+failedExt+".txt", []byte(reason.Error()+"\n"), 0o644); err != nil {
		wr.logger.Warn("write failure reason", "file", filepath.Base(path), "error", err)
	}
}
