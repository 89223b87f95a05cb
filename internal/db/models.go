package db

import (
	"time"
)

// Book is the subset of a catalog book this service reads.
type Book struct {
	ID       int64  `gorm:"primaryKey" json:"id"`
	Title    string `gorm:"not null" json:"title"`
	Path     string `gorm:"not null" json:"path"` // relative to the library root
	HasCover bool   `gorm:"not null;default:false" json:"has_cover"`
	Data     []Data `gorm:"foreignKey:Book" json:"data,omitempty"`
}

func (Book) TableName() string { return "books" }

// Data is one stored file format of a book. (Book, Format) is unique.
type Data struct {
	ID               int64  `gorm:"primaryKey" json:"id"`
	Book             int64  `gorm:"column:book;not null;uniqueIndex:idx_data_book_format" json:"book"`
	Format           string `gorm:"column:format;not null;uniqueIndex:idx_data_book_format" json:"format"` // upper case, e.g. EPUB
	UncompressedSize int64  `gorm:"column:uncompressed_size;not null" json:"uncompressed_size"`
	Name             string `gorm:"column:name;not null" json:"name"` // file name without extension
}

func (Data) TableName() string { return "data" }

// KoboSyncedBook marks a book as already delivered to a user's Kobo device.
type KoboSyncedBook struct {
	ID     int64 `gorm:"primaryKey" json:"id"`
	UserID int64 `gorm:"not null;index" json:"user_id"`
	BookID int64 `gorm:"not null;index" json:"book_id"`
}

func (KoboSyncedBook) TableName() string { return "kobo_synced_books" }

// TaskHistory records one finished task run.
type TaskHistory struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	TaskID       string    `gorm:"not null;index" json:"task_id"`
	Name         string    `gorm:"not null" json:"name"`
	Message      string    `json:"message"`
	User         string    `json:"user"`
	Status       string    `gorm:"not null;index" json:"status"` // success, error
	ErrorMessage string    `json:"error_message"`
	Progress     float64   `json:"progress"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

func (TaskHistory) TableName() string { return "tasks_history" }
