package converter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalibreJobArgv(t *testing.T) {
	j := CalibreJob{Source: "/b/x.epub", Target: "/b/x.mobi"}
	assert.Equal(t, []string{"/b/x.epub", "/b/x.mobi"}, j.Argv())

	j.OPFPath = "/tmp/m.opf"
	j.CoverPath = "/b/cover.jpg"
	j.Extra = []Arg{{Flag: "--title", Value: "A  B", HasValue: true}, {Flag: "--pretty-print"}}
	assert.Equal(t, []string{
		"/b/x.epub", "/b/x.mobi",
		"--from-opf", "/tmp/m.opf",
		"--cover", "/b/cover.jpg",
		"--title", "A  B", "--pretty-print",
	}, j.Argv())

	// a cover is only passed along with metadata
	j.OPFPath = ""
	assert.Equal(t, []string{"/b/x.epub", "/b/x.mobi", "--title", "A  B", "--pretty-print"}, j.Argv())
}

func TestCalibreToolMissing(t *testing.T) {
	c := newTestConverter(0)
	err := c.Calibre(context.Background(), CalibreJob{ToolPath: "/nonexistent/ebook-convert"}, Hooks{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Equal(t, "Calibre ebook-convert /nonexistent/ebook-convert not found", err.Error())
}

func TestCalibreSuccessReportsProgress(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	tool := writeTool(t, dir, "ebook-convert", `
for a in "$@"; do echo "$a" >> "`+argsFile+`"; done
echo "1% Converting input to HTML..."
echo "InputFormatPlugin: EPUB Input running"
echo ""
echo "67% Running transforms on ebook..."
echo "some warning" >&2
cp "$1" "$2"
`)
	src := filepath.Join(dir, "42.epub")
	dst := filepath.Join(dir, "42.mobi")
	require.NoError(t, os.WriteFile(src, []byte("epub"), 0o644))

	rec := &recorder{}
	c := newTestConverter(0)
	err := c.Calibre(context.Background(), CalibreJob{
		ToolPath: tool, Source: src, Target: dst,
		Extra: []Arg{{Flag: "--title", Value: "Two  Spaces", HasValue: true}},
	}, rec.hooks())
	require.NoError(t, err)

	assert.FileExists(t, dst)
	assert.Equal(t, []float64{0.01, 0.67}, rec.progress)
	assert.Contains(t, rec.lines, "InputFormatPlugin: EPUB Input running")
	assert.Contains(t, rec.lines, "some warning")
	assert.NotContains(t, rec.lines, "")

	raw, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, []string{src, dst, "--title", "Two  Spaces"}, strings.Split(strings.TrimSpace(string(raw)), "\n"))
}

func TestCalibreNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, "ebook-convert", `
echo "Traceback (most recent call last):" >&2
echo '  File "convert.py", line 1, in <module>' >&2
echo "calibre.ebooks.ConversionError: DRM protected" >&2
exit 3
`)
	c := newTestConverter(0)
	err := c.Calibre(context.Background(), CalibreJob{ToolPath: tool, Source: "a.epub", Target: "a.mobi"}, Hooks{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProcessExit))
	assert.Equal(t, "Calibre failed with error: calibre.ebooks.ConversionError: DRM protected", err.Error())

	var convErr *Error
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, 3, convErr.ExitCode)
}

func TestCalibreLaunchFailure(t *testing.T) {
	dir := t.TempDir()
	tool := filepath.Join(dir, "ebook-convert")
	require.NoError(t, os.WriteFile(tool, []byte("not executable"), 0o644))

	c := newTestConverter(0)
	err := c.Calibre(context.Background(), CalibreJob{ToolPath: tool, Source: "a", Target: "b"}, Hooks{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProcessLaunch))
	assert.True(t, strings.HasPrefix(err.Error(), "Ebook-converter failed: "))
}

func TestRunnerDrainsLargeOutput(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, "chatty", `
i=0
while [ $i -lt 5000 ]; do
  echo "stderr line $i padding padding padding padding padding" >&2
  echo "$((i % 100))% stdout line $i"
  i=$((i+1))
done
`)
	lines := 0
	r := NewRunner(newTestConverter(0).logger, 0)
	res, err := r.Stream(context.Background(), Command{Path: tool}, func(string) { lines++ })
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, 5000, lines)
	assert.Len(t, res.Stderr, 5000)
}

func TestRunnerTimeout(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, "hang", "exec sleep 10")

	r := NewRunner(newTestConverter(0).logger, 200*time.Millisecond)
	start := time.Now()
	_, err := r.Stream(context.Background(), Command{Path: tool}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProcessExit))
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunnerPassesEnv(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, "env", `printf '%s' "$BOOKCONV_TEST_VALUE"`)

	r := NewRunner(newTestConverter(0).logger, 0)
	res, err := r.Capture(context.Background(), Command{Path: tool, Env: []string{"BOOKCONV_TEST_VALUE=hello world"}})
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(res.Stdout))
}
