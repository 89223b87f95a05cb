package converter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportOPF(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "env.txt")
	tool := writeTool(t, dir, "calibredb", `
[ "$1" = show_metadata ] || exit 9
[ "$2" = --as-opf ] || exit 9
[ "$3" = 42 ] || exit 9
[ "$4" = --with-library ] || exit 9
printf '%s' "$5|$CALIBRE_OVERRIDE_DATABASE_PATH" > "`+envFile+`"
printf '<?xml version="1.0"?>\n<package>\377</package>'
`)
	tmp := t.TempDir()
	lib := Library{CalibredbPath: tool, Path: "/split", MetadataDB: "/lib/metadata.db"}

	path, err := newTestConverter(0).ExportOPF(context.Background(), lib, 42, tmp)
	require.NoError(t, err)

	assert.Equal(t, tmp, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "metadata_"))
	assert.True(t, strings.HasSuffix(path, ".opf"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("<?xml version=\"1.0\"?>\n<package>\xff</package>"), raw)

	env, err := os.ReadFile(envFile)
	require.NoError(t, err)
	assert.Equal(t, "/split|/lib/metadata.db", string(env))
}

func TestExportOPFUniqueNames(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, "calibredb", `printf '<package/>'`)
	lib := Library{CalibredbPath: tool, Path: dir}
	c := newTestConverter(0)

	a, err := c.ExportOPF(context.Background(), lib, 1, dir)
	require.NoError(t, err)
	b, err := c.ExportOPF(context.Background(), lib, 1, dir)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestExportOPFFailure(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, "calibredb", `
echo "Traceback (most recent call last):" >&2
echo '  File "calibredb.py", line 10' >&2
echo "KeyError: 'No book with id: 42 in database'" >&2
exit 1
`)
	tmp := t.TempDir()
	_, err := newTestConverter(0).ExportOPF(context.Background(), Library{CalibredbPath: tool, Path: dir}, 42, tmp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProcessExit))
	assert.Equal(t, "Calibre failed with error: KeyError: 'No book with id: 42 in database'", err.Error())

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExportBook(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, "calibredb", `
[ "$1" = export ] || exit 9
printf 'embedded' > "$6/${10}.$8"
`)
	tmp := t.TempDir()
	exportDir, file, err := newTestConverter(0).ExportBook(context.Background(), Library{CalibredbPath: tool, Path: dir}, 7, "epub", tmp)
	require.NoError(t, err)
	assert.Equal(t, exportDir, filepath.Dir(file))
	assert.True(t, strings.HasSuffix(file, ".epub"))
	assert.FileExists(t, file)
}

func TestExportBookFailureRemovesDir(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, "calibredb", `echo "no such format" >&2; exit 2`)
	tmp := t.TempDir()

	_, _, err := newTestConverter(0).ExportBook(context.Background(), Library{CalibredbPath: tool, Path: dir}, 7, "epub", tmp)
	require.Error(t, err)
	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
