package converter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ah-its-andy/bookconv/internal/logger"
	"github.com/stretchr/testify/require"
)

// writeTool writes an executable shell script standing in for an external tool.
func writeTool(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestConverter(timeout time.Duration) *Converter {
	return New(logger.Discard(), timeout)
}

type recorder struct {
	progress []float64
	lines    []string
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		Progress: func(p float64) { r.progress = append(r.progress, p) },
		Line:     func(l string) { r.lines = append(r.lines, l) },
	}
}
