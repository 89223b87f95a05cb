package converter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// Library locates a calibre library for calibredb.
type Library struct {
	CalibredbPath string
	// Path is passed as --with-library.
	Path string
	// MetadataDB overrides the library's database location (split
	// libraries); empty means the default inside Path.
	MetadataDB string
}

func (l Library) env() []string {
	if l.MetadataDB == "" {
		return nil
	}
	return []string{"CALIBRE_OVERRIDE_DATABASE_PATH=" + l.MetadataDB}
}

// ExportOPF writes the book's catalog metadata as an OPF document into a
// uniquely named file in tmpDir and returns its path. The caller owns the
// file and must remove it.
func (c *Converter) ExportOPF(ctx context.Context, lib Library, bookID int64, tmpDir string) (string, error) {
	cmd := Command{
		Path: lib.CalibredbPath,
		Args: []string{"show_metadata", "--as-opf", strconv.FormatInt(bookID, 10), "--with-library", lib.Path},
		Env:  lib.env(),
	}
	res, err := c.runner.Capture(ctx, cmd)
	if err != nil {
		return "", relabel(err, "Calibre failed with error")
	}
	if res.ExitCode != 0 {
		return "", exitError("Calibre failed with error", res)
	}

	path := filepath.Join(tmpDir, "metadata_"+uuid.NewString()+".opf")
	if err := os.WriteFile(path, res.Stdout, 0o644); err != nil {
		return "", fmt.Errorf("write opf: %w", err)
	}
	c.logger.Debug("exported metadata", "book_id", bookID, "opf", path)
	return path, nil
}

// ExportBook has calibredb export the book's file in the given format, with
// catalog metadata embedded, into a fresh directory under tmpDir. It returns
// that directory, which the caller must remove, and the exported file.
func (c *Converter) ExportBook(ctx context.Context, lib Library, bookID int64, format, tmpDir string) (dir, file string, err error) {
	dir, err = os.MkdirTemp(tmpDir, "export-*")
	if err != nil {
		return "", "", fmt.Errorf("create export dir: %w", err)
	}
	name := uuid.NewString()
	cmd := Command{
		Path: lib.CalibredbPath,
		Args: []string{"export", "--dont-write-opf", "--with-library", lib.Path,
			"--to-dir", dir, "--formats", format, "--template", name, strconv.FormatInt(bookID, 10)},
		Env: lib.env(),
	}
	res, err := c.runner.Stream(ctx, cmd, nil)
	if err == nil && res.ExitCode != 0 {
		err = exitError("Calibre failed with error", res)
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", "", relabel(err, "Calibre failed with error")
	}
	return dir, filepath.Join(dir, name+"."+format), nil
}
