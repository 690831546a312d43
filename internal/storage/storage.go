// Package storage keeps the operation journal and backup records using GORM and SQLite
package storage

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Sentinel errors
var (
	ErrNilBackup   = errors.New("backup cannot be nil")
	ErrNotFound    = errors.New("record not found")
	ErrEmptyDomain = errors.New("domain cannot be empty")
)

// Event statuses
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Event is one top-level operation against a site or the host.
type Event struct {
	ID uint `gorm:"primaryKey"`

	Domain    string `gorm:"not null;index:idx_domain_operation"`
	Operation string `gorm:"not null;index:idx_domain_operation"`
	Detail    string

	Status       string `gorm:"not null;index"`
	ErrorMessage string `gorm:"type:text"`

	StartedAt  time.Time `gorm:"not null"`
	FinishedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Duration returns how long the operation ran, or zero while it is running.
func (e *Event) Duration() time.Duration {
	if e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Backup is a database dump pulled out of a site's container.
type Backup struct {
	ID uint `gorm:"primaryKey"`

	Domain    string `gorm:"not null;index"`
	Container string `gorm:"not null"`
	Path      string `gorm:"not null;uniqueIndex"`
	SizeBytes int64

	TakenAt time.Time `gorm:"not null;index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store defines the interface for journal and backup storage operations
type Store interface {
	Close() error
	StartEvent(domain, operation, detail string) (*Event, error)
	FinishEvent(id uint, opErr error) error
	ListEvents(domain string, limit int) ([]*Event, error)
	RecordBackup(*Backup) error
	ListBackups(domain string) ([]*Backup, error)
	LatestBackup(domain string) (*Backup, error)
	DeleteBackup(id uint) error
	GetStats() (map[string]interface{}, error)
}

// DB wraps gorm.DB with our journal operations
type DB struct {
	db  *gorm.DB
	now func() time.Time
}

// Config holds database configuration
type Config struct {
	DatabasePath string
	LogLevel     string // silent, error, warn, info
}

// InitDB initializes the database connection and runs migrations
func InitDB(cfg Config) (*DB, error) {
	logLevel := logger.Silent
	switch cfg.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&Event{}, &Backup{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &DB{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}

// StartEvent journals the start of an operation.
func (d *DB) StartEvent(domain, operation, detail string) (*Event, error) {
	if domain == "" {
		return nil, ErrEmptyDomain
	}
	event := &Event{
		Domain:    domain,
		Operation: operation,
		Detail:    detail,
		Status:    StatusRunning,
		StartedAt: d.now(),
	}
	if err := d.db.Create(event).Error; err != nil {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}
	return event, nil
}

// FinishEvent marks an operation finished, failed when opErr is non-nil.
func (d *DB) FinishEvent(id uint, opErr error) error {
	finished := d.now()
	updates := map[string]interface{}{
		"status":      StatusSuccess,
		"finished_at": &finished,
	}
	if opErr != nil {
		updates["status"] = StatusFailed
		updates["error_message"] = opErr.Error()
	}

	res := d.db.Model(&Event{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to finish event %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEvents returns the newest events first, optionally filtered by domain.
// A limit of zero or less returns all events.
func (d *DB) ListEvents(domain string, limit int) ([]*Event, error) {
	var events []*Event
	q := d.db.Order("started_at DESC, id DESC")
	if domain != "" {
		q = q.Where("domain = ?", domain)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// RecordBackup creates a new backup record
func (d *DB) RecordBackup(backup *Backup) error {
	if backup == nil {
		return ErrNilBackup
	}
	if backup.Domain == "" {
		return ErrEmptyDomain
	}
	if backup.TakenAt.IsZero() {
		backup.TakenAt = d.now()
	}
	if err := d.db.Create(backup).Error; err != nil {
		return fmt.Errorf("failed to record backup: %w", err)
	}
	return nil
}

// ListBackups returns backups newest first, optionally filtered by domain.
func (d *DB) ListBackups(domain string) ([]*Backup, error) {
	var backups []*Backup
	q := d.db.Order("taken_at DESC, id DESC")
	if domain != "" {
		q = q.Where("domain = ?", domain)
	}
	if err := q.Find(&backups).Error; err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	return backups, nil
}

// LatestBackup returns the most recent backup of domain.
func (d *DB) LatestBackup(domain string) (*Backup, error) {
	var backup Backup
	err := d.db.Where("domain = ?", domain).Order("taken_at DESC, id DESC").First(&backup).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest backup: %w", err)
	}
	return &backup, nil
}

// DeleteBackup removes a backup record. The dump file is not touched.
func (d *DB) DeleteBackup(id uint) error {
	res := d.db.Delete(&Backup{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete backup %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStats returns journal statistics
func (d *DB) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int64
	if err := d.db.Model(&Event{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	stats["total_events"] = total

	var backups int64
	if err := d.db.Model(&Backup{}).Count(&backups).Error; err != nil {
		return nil, fmt.Errorf("failed to count backups: %w", err)
	}
	stats["total_backups"] = backups

	var operationCounts []struct {
		Operation string
		Count     int64
	}
	if err := d.db.Model(&Event{}).Select("operation, COUNT(*) as count").
		Group("operation").Scan(&operationCounts).Error; err != nil {
		return nil, fmt.Errorf("failed to get operation counts: %w", err)
	}
	stats["by_operation"] = operationCounts

	var statusCounts []struct {
		Status string
		Count  int64
	}
	if err := d.db.Model(&Event{}).Select("status, COUNT(*) as count").
		Group("status").Scan(&statusCounts).Error; err != nil {
		return nil, fmt.Errorf("failed to get status counts: %w", err)
	}
	stats["by_status"] = statusCounts

	return stats, nil
}
