// Package storage stages book files between the local library and a remote
// copy of it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ah-its-andy/bookconv/internal/utils"
)

// ErrRemoteNotFound means the requested file does not exist remotely.
var ErrRemoteNotFound = errors.New("file not found on remote storage")

// Remote is a remote copy of the library, addressed by book directory
// (relative to the library root) and file name.
type Remote interface {
	// Fetch downloads bookPath/name into dstDir.
	Fetch(ctx context.Context, bookPath, name, dstDir string) error
	// Push uploads every file of localRoot/bookPath that is missing or
	// differs remotely.
	Push(ctx context.Context, localRoot, bookPath string) error
}

// DirRemote keeps the remote library in a directory, for example a mounted
// network share or a synced folder.
type DirRemote struct {
	root   string
	logger *slog.Logger
}

func NewDirRemote(root string, logger *slog.Logger) *DirRemote {
	return &DirRemote{root: root, logger: logger.With("component", "remote")}
}

func (r *DirRemote) Fetch(ctx context.Context, bookPath, name, dstDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src := filepath.Join(r.root, bookPath, name)
	if !utils.IsFile(src) {
		return fmt.Errorf("%w: %s", ErrRemoteNotFound, filepath.Join(bookPath, name))
	}
	if err := utils.CopyFile(src, filepath.Join(dstDir, name)); err != nil {
		return fmt.Errorf("fetch %s: %w", name, err)
	}
	r.logger.Debug("fetched remote file", "book_path", bookPath, "name", name)
	return nil
}

func (r *DirRemote) Push(ctx context.Context, localRoot, bookPath string) error {
	localDir := filepath.Join(localRoot, bookPath)
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", localDir, err)
	}
	pushed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.Type().IsRegular() {
			continue
		}
		src := filepath.Join(localDir, e.Name())
		dst := filepath.Join(r.root, bookPath, e.Name())
		if sameSize(src, dst) {
			continue
		}
		if err := utils.CopyFile(src, dst); err != nil {
			return fmt.Errorf("push %s: %w", e.Name(), err)
		}
		pushed++
	}
	r.logger.Debug("pushed book directory", "book_path", bookPath, "files", pushed)
	return nil
}

func sameSize(a, b string) bool {
	sa, err := utils.FileSize(a)
	if err != nil {
		return false
	}
	sb, err := utils.FileSize(b)
	return err == nil && sa == sb
}
