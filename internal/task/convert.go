package task

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ah-its-andy/bookconv/internal/config"
	"github.com/ah-its-andy/bookconv/internal/converter"
	"github.com/ah-its-andy/bookconv/internal/db"
	"github.com/ah-its-andy/bookconv/internal/storage"
	"github.com/ah-its-andy/bookconv/internal/utils"
	"github.com/go-playground/validator/v10"
)

// ConversionRequest describes one format conversion of a catalog book.
type ConversionRequest struct {
	// SourcePath is the book file without extension, e.g.
	// /books/Author/Title (42)/Title - Author.
	SourcePath   string `json:"source_path" binding:"required"`
	BookID       int64  `json:"book_id" binding:"required,gt=0"`
	SourceFormat string `json:"source_format" binding:"required,alphanum"`
	TargetFormat string `json:"target_format" binding:"required,alphanum"`

	// Delivery settings for the follow-on e-mail. EReaderMail may hold
	// several comma separated addresses; empty means no delivery.
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	EReaderMail string `json:"ereader_mail"`
	User        string `json:"user"`
}

var requestValidator = func() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}()

// Validate checks the request with the same rules the HTTP API binds with.
func (r ConversionRequest) Validate() error {
	if err := requestValidator.Struct(r); err != nil {
		return fmt.Errorf("invalid conversion request: %w", err)
	}
	return nil
}

// ConversionResult is filled in while the task runs.
type ConversionResult struct {
	Success      bool   `json:"success"`
	OutputPath   string `json:"output_path,omitempty"`
	CatalogPath  string `json:"catalog_path,omitempty"`
	Title        string `json:"title,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Catalog opens catalog sessions. *db.Store satisfies it.
type Catalog interface {
	Begin(ctx context.Context) (db.Session, error)
}

// OutputSink receives converter output lines keyed by task id.
type OutputSink interface {
	Append(taskID, line string)
}

// Deps are the collaborators a ConvertTask works with. Remote, Output and
// Logger are optional.
type Deps struct {
	Catalog   Catalog
	Converter *converter.Converter
	Remote    storage.Remote
	Mailer    Mailer
	Output    OutputSink
	Logger    *slog.Logger
}

// ConvertTask converts one book file into another format and registers the
// result in the catalog.
type ConvertTask struct {
	*Base
	req  ConversionRequest
	cfg  config.Config
	deps Deps
	log  *slog.Logger

	// set from the catalog at the start of the run
	hasCover bool

	mu     sync.Mutex
	result ConversionResult
}

// NewConvertTask creates a task for req. cfg is copied and not read again
// from anywhere else.
func NewConvertTask(cfg config.Config, req ConversionRequest, deps Deps) *ConvertTask {
	if deps.Mailer == nil {
		deps.Mailer = LogMailer{Logger: loggerOr(deps.Logger)}
	}
	t := &ConvertTask{
		req:  req,
		cfg:  cfg,
		deps: deps,
	}
	t.Base = NewBase(t.String())
	t.log = loggerOr(deps.Logger).With("task", t.ID().String(), "book_id", req.BookID)
	return t
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func (t *ConvertTask) Name() string { return "Convert" }

func (t *ConvertTask) IsCancellable() bool { return false }

func (t *ConvertTask) String() string {
	if t.req.EReaderMail != "" {
		return fmt.Sprintf("Convert Book %d and mail it to %s", t.req.BookID, t.req.EReaderMail)
	}
	return fmt.Sprintf("Convert Book %d", t.req.BookID)
}

func (t *ConvertTask) Result() ConversionResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

func (t *ConvertTask) Run(ctx context.Context, d Dispatcher) {
	if !t.Start() {
		t.log.Warn("task already started")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.fail(fmt.Errorf("unexpected error: %v", r))
		}
	}()

	var staged []string
	if t.cfg.RemoteStorage {
		var err error
		staged, err = t.fetchRemote(ctx)
		if err != nil {
			removeAll(t.log, staged)
			t.fail(err)
			return
		}
	}

	filename, err := t.convert(ctx)
	// fetched inputs must not be pushed back
	removeAll(t.log, staged)
	if err != nil {
		t.fail(err)
		return
	}

	if t.cfg.RemoteStorage {
		res := t.Result()
		if err := t.deps.Remote.Push(ctx, t.cfg.BookPath(), res.CatalogPath); err != nil {
			t.fail(fmt.Errorf("upload to remote storage failed: %w", err))
			return
		}
	}

	if t.req.EReaderMail != "" {
		if err := t.enqueueMail(d, filename); err != nil {
			t.fail(err)
			return
		}
	}

	t.mu.Lock()
	t.result.Success = true
	t.mu.Unlock()
	t.Succeed()
	t.log.Info("conversion finished", "file", filename)
}

func (t *ConvertTask) fail(err error) {
	t.log.Error("conversion failed", "error", err)
	t.mu.Lock()
	t.result.Success = false
	t.result.ErrorMessage = err.Error()
	t.mu.Unlock()
	t.Fail(err.Error())
}

// fetchRemote downloads the source file and cover into the local book
// directory. It returns the files it created.
func (t *ConvertTask) fetchRemote(ctx context.Context) ([]string, error) {
	if t.deps.Remote == nil {
		return nil, converter.Errorf(converter.ErrConfiguration, "remote storage enabled but not configured")
	}
	sess, err := t.deps.Catalog.Begin(ctx)
	if err != nil {
		return nil, dbError(err)
	}
	defer sess.Close()

	book, err := sess.GetBook(t.req.BookID)
	if err != nil {
		return nil, dbError(err)
	}
	if err := t.checkSource(book); err != nil {
		return nil, err
	}
	data, err := sess.GetBookFormat(t.req.BookID, t.req.SourceFormat)
	if err != nil {
		return nil, dbError(err)
	}
	if data == nil {
		return nil, converter.Errorf(converter.ErrNotFound, "%s not found in catalog for book %d",
			strings.ToUpper(t.req.SourceFormat), t.req.BookID)
	}

	localDir := filepath.Join(t.cfg.BookPath(), book.Path)
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", localDir, err)
	}

	var staged []string
	name := data.Name + utils.Ext(t.req.SourceFormat)
	if err := t.deps.Remote.Fetch(ctx, book.Path, name, localDir); err != nil {
		if errors.Is(err, storage.ErrRemoteNotFound) {
			return nil, converter.Errorf(converter.ErrNotFound, "%s not found on remote storage: %s",
				strings.ToUpper(t.req.SourceFormat), name)
		}
		return nil, fmt.Errorf("fetch from remote storage failed: %w", err)
	}
	staged = append(staged, filepath.Join(localDir, name))

	err = t.deps.Remote.Fetch(ctx, book.Path, "cover.jpg", localDir)
	switch {
	case err == nil:
		staged = append(staged, filepath.Join(localDir, "cover.jpg"))
	case errors.Is(err, storage.ErrRemoteNotFound):
		t.log.Debug("no cover on remote storage")
	default:
		return staged, fmt.Errorf("fetch cover from remote storage failed: %w", err)
	}
	return staged, nil
}

// convert produces <source>.<target> unless it already exists and makes sure
// the catalog knows about it. It returns the file name of the result.
func (t *ConvertTask) convert(ctx context.Context) (string, error) {
	target := t.req.SourcePath + utils.Ext(t.req.TargetFormat)

	sess, err := t.deps.Catalog.Begin(ctx)
	if err != nil {
		return "", dbError(err)
	}
	defer sess.Close()

	book, err := sess.GetBook(t.req.BookID)
	if err != nil {
		return "", dbError(err)
	}
	if err := t.checkSource(book); err != nil {
		return "", err
	}
	t.hasCover = book.HasCover
	existing, err := sess.GetBookFormat(t.req.BookID, t.req.TargetFormat)
	if err != nil {
		return "", dbError(err)
	}

	// a catalog record alone is not enough, the file has to be there
	if utils.IsFile(target) {
		t.log.Info("book already converted", "format", t.req.TargetFormat, "path", target)
		t.setResult(book, target)
		if existing == nil {
			size, err := utils.FileSize(target)
			if err != nil {
				return "", err
			}
			rec := &db.Data{
				Book:             t.req.BookID,
				Format:           t.req.TargetFormat,
				UncompressedSize: size,
				Name:             filepath.Base(t.req.SourcePath),
			}
			if err := commitFormat(sess, rec, false); err != nil {
				return "", err
			}
		}
		return filepath.Base(target), nil
	}
	// the catalog must not stay locked while the tool runs
	sess.Close()

	t.log.Info("converting", "from", t.req.SourceFormat, "to", t.req.TargetFormat)
	if t.cfg.UseKepubify(t.req.SourceFormat, t.req.TargetFormat) {
		err = t.runKepubify(ctx, target)
	} else {
		err = t.runCalibre(ctx, target)
	}
	if err != nil {
		return "", err
	}
	if !utils.IsFile(target) {
		return "", converter.Errorf(converter.ErrNotFound, "%s format not found on disk",
			strings.ToUpper(utils.Ext(t.req.TargetFormat)))
	}

	if err := t.register(ctx, target); err != nil {
		return "", err
	}
	return filepath.Base(target), nil
}

// checkSource makes sure the source file sits directly in the book's
// directory inside the library, so the tools never read or write elsewhere.
func (t *ConvertTask) checkSource(book *db.Book) error {
	root := t.cfg.BookPath()
	bookDir := filepath.Join(root, book.Path)
	if !utils.Within(root, bookDir) || filepath.Dir(filepath.Clean(t.req.SourcePath)) != bookDir {
		return converter.Errorf(converter.ErrConfiguration, "source path %s is outside the book directory %s",
			t.req.SourcePath, bookDir)
	}
	return nil
}

// register records target as a new format of the book.
func (t *ConvertTask) register(ctx context.Context, target string) error {
	sess, err := t.deps.Catalog.Begin(ctx)
	if err != nil {
		return dbError(err)
	}
	defer sess.Close()

	book, err := sess.GetBook(t.req.BookID)
	if err != nil {
		return dbError(err)
	}
	t.setResult(book, target)

	existing, err := sess.GetBookFormat(t.req.BookID, t.req.TargetFormat)
	if err != nil {
		return dbError(err)
	}
	if existing != nil {
		return nil
	}
	size, err := utils.FileSize(target)
	if err != nil {
		return err
	}
	name := filepath.Base(t.req.SourcePath)
	if len(book.Data) > 0 {
		name = book.Data[0].Name
	}
	rec := &db.Data{
		Book:             t.req.BookID,
		Format:           t.req.TargetFormat,
		UncompressedSize: size,
		Name:             name,
	}
	return commitFormat(sess, rec, clearsKoboSync(t.req.TargetFormat))
}

func commitFormat(sess db.Session, rec *db.Data, clearSync bool) error {
	err := sess.MergeFormat(rec)
	if err == nil && clearSync {
		err = sess.RemoveSyncedBook(rec.Book)
	}
	if err == nil {
		err = sess.Commit()
	}
	if err != nil {
		_ = sess.Rollback()
		return dbError(err)
	}
	return nil
}

func clearsKoboSync(format string) bool {
	switch strings.ToUpper(format) {
	case "KEPUB", "EPUB", "EPUB3":
		return true
	}
	return false
}

func dbError(err error) error {
	return &converter.Error{Kind: converter.ErrDatabase, Msg: "Database error: " + err.Error()}
}

func (t *ConvertTask) setResult(book *db.Book, target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result.OutputPath = target
	t.result.CatalogPath = book.Path
	t.result.Title = book.Title
}

func (t *ConvertTask) runCalibre(ctx context.Context, target string) error {
	if !utils.IsFile(t.cfg.ConverterPath) {
		return converter.Errorf(converter.ErrConfiguration, "Calibre ebook-convert %s not found", t.cfg.ConverterPath)
	}
	extra, err := converter.ParseArgs(t.cfg.ConverterArgs)
	if err != nil {
		return err
	}
	job := converter.CalibreJob{
		ToolPath: t.cfg.ConverterPath,
		Source:   t.req.SourcePath + utils.Ext(t.req.SourceFormat),
		Target:   target,
		Extra:    extra,
	}
	if t.cfg.EmbedMetadata {
		opf, err := t.deps.Converter.ExportOPF(ctx, t.library(), t.req.BookID, t.tempDir())
		if err != nil {
			return err
		}
		defer removeAll(t.log, []string{opf})
		job.OPFPath = opf
		if t.hasCover {
			job.CoverPath = filepath.Join(filepath.Dir(t.req.SourcePath), "cover.jpg")
		}
	}
	return t.deps.Converter.Calibre(ctx, job, t.hooks())
}

func (t *ConvertTask) runKepubify(ctx context.Context, target string) error {
	job := converter.KepubifyJob{
		ToolPath:  t.cfg.KepubifyPath,
		Input:     t.req.SourcePath + utils.Ext(t.req.SourceFormat),
		OutputDir: filepath.Dir(t.req.SourcePath),
		Target:    target,
	}
	if t.cfg.EmbedMetadata && t.cfg.BinariesDir != "" {
		dir, file, err := t.deps.Converter.ExportBook(ctx, t.library(), t.req.BookID,
			strings.ToLower(t.req.SourceFormat), t.tempDir())
		if err != nil {
			return err
		}
		defer removeAll(t.log, []string{dir})
		job.Input, job.OutputDir = file, dir
	}
	return t.deps.Converter.Kepubify(ctx, job, t.hooks())
}

func (t *ConvertTask) library() converter.Library {
	lib := converter.Library{CalibredbPath: t.cfg.CalibredbPath(), Path: t.cfg.CalibreDir}
	if t.cfg.CalibreSplit {
		lib.Path = t.cfg.CalibreSplitDir
		lib.MetadataDB = t.cfg.MetadataDBPath()
	}
	return lib
}

func (t *ConvertTask) tempDir() string {
	if t.cfg.TempDir != "" {
		return t.cfg.TempDir
	}
	return os.TempDir()
}

// hooks scales tool progress to leave the last tenth for the upload when
// remote storage is on.
func (t *ConvertTask) hooks() converter.Hooks {
	scale := 1.0
	if t.cfg.RemoteStorage {
		scale = 0.9
	}
	h := converter.Hooks{Progress: func(p float64) { t.SetProgress(p * scale) }}
	if t.deps.Output != nil {
		id := t.ID().String()
		h.Line = func(l string) { t.deps.Output.Append(id, l) }
	}
	return h
}

func (t *ConvertTask) enqueueMail(d Dispatcher, filename string) error {
	res := t.Result()
	text := html.EscapeString(res.Title) + " send to E-Reader"
	// build every task first so a bad address queues nothing
	var mails []*EmailTask
	for _, addr := range strings.Split(t.req.EReaderMail, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		mail, err := NewEmailTask(Email{
			Subject:   t.req.Subject,
			BookPath:  res.CatalogPath,
			Filename:  filename,
			Recipient: addr,
			Text:      text,
			Body:      t.req.Body,
			BookID:    t.req.BookID,
			Internal:  true,
		}, t.deps.Mailer)
		if err != nil {
			return &converter.Error{Kind: converter.ErrFollowOnTask, Msg: err.Error()}
		}
		mails = append(mails, mail)
	}
	for _, mail := range mails {
		if err := d.Add(t.req.User, mail); err != nil {
			return &converter.Error{Kind: converter.ErrFollowOnTask,
				Msg: fmt.Sprintf("enqueue e-mail to %s: %v", mail.Email().Recipient, err)}
		}
	}
	return nil
}

func removeAll(log *slog.Logger, paths []string) {
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			log.Warn("cleanup failed", "path", p, "error", err)
		}
	}
}
