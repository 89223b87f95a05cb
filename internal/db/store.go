package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Open connects to the sqlite catalog at path and migrates the tables this
// service owns.
func Open(path string) (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	// SQLite only supports one writer
	sqlDB.SetMaxOpenConns(1)

	if err := conn.AutoMigrate(&Book{}, &Data{}, &KoboSyncedBook{}, &TaskHistory{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return conn, nil
}

// Session is a request-scoped unit of work against the catalog. Callers must
// Commit or Rollback and always Close.
type Session interface {
	GetBook(id int64) (*Book, error)
	GetBookFormat(id int64, format string) (*Data, error)
	MergeFormat(d *Data) error
	RemoveSyncedBook(bookID int64) error
	Commit() error
	Rollback() error
	Close()
}

// Store hands out catalog sessions and keeps task history.
type Store struct {
	db *gorm.DB
}

func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

// Begin opens a new transaction-backed session.
func (s *Store) Begin(ctx context.Context) (Session, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	return &session{tx: tx}, nil
}

// CreateBook inserts a book together with its format records.
func (s *Store) CreateBook(ctx context.Context, b *Book) error {
	return s.db.WithContext(ctx).Create(b).Error
}

// ListFormats returns every stored format of a book.
func (s *Store) ListFormats(ctx context.Context, bookID int64) ([]Data, error) {
	var rows []Data
	err := s.db.WithContext(ctx).Where("book = ?", bookID).Order("id").Find(&rows).Error
	return rows, err
}

// InsertTaskHistory adds a task history entry.
func (s *Store) InsertTaskHistory(ctx context.Context, h *TaskHistory) error {
	return s.db.WithContext(ctx).Create(h).Error
}

// ListTaskHistory lists history entries, newest first.
func (s *Store) ListTaskHistory(ctx context.Context, limit, offset int) ([]TaskHistory, int64, error) {
	var (
		rows  []TaskHistory
		count int64
	)
	q := s.db.WithContext(ctx).Model(&TaskHistory{})
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("id desc").Limit(limit).Offset(offset).Find(&rows).Error
	return rows, count, err
}

// PruneTaskHistory deletes history entries that ended before cutoff.
func (s *Store) PruneTaskHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("end_time < ?", cutoff).Delete(&TaskHistory{})
	return res.RowsAffected, res.Error
}

type session struct {
	tx   *gorm.DB
	done bool
}

func (s *session) GetBook(id int64) (*Book, error) {
	var b Book
	err := s.tx.Preload("Data", func(q *gorm.DB) *gorm.DB { return q.Order("id") }).First(&b, id).Error
	if err != nil {
		return nil, fmt.Errorf("get book %d: %w", id, err)
	}
	return &b, nil
}

// GetBookFormat returns nil without error when the book has no such format.
func (s *session) GetBookFormat(id int64, format string) (*Data, error) {
	var d Data
	err := s.tx.Where("book = ? AND format = ?", id, strings.ToUpper(format)).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// MergeFormat inserts d unless a record for (book, format) already exists.
func (s *session) MergeFormat(d *Data) error {
	d.Format = strings.ToUpper(d.Format)
	return s.tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "book"}, {Name: "format"}},
		DoNothing: true,
	}).Create(d).Error
}

func (s *session) RemoveSyncedBook(bookID int64) error {
	return s.tx.Where("book_id = ?", bookID).Delete(&KoboSyncedBook{}).Error
}

func (s *session) Commit() error {
	s.done = true
	return s.tx.Commit().Error
}

func (s *session) Rollback() error {
	s.done = true
	return s.tx.Rollback().Error
}

// Close rolls back anything not yet committed.
func (s *session) Close() {
	if !s.done {
		s.tx.Rollback()
		s.done = true
	}
}
