package storage

import (
	"errors"
	"testing"
	"time"
)

// newTestDB creates an in-memory SQLite database for testing
func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := InitDB(Config{
		DatabasePath: ":memory:",
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})

	return db
}

// fixedClock returns a clock that advances one minute per call
func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Minute)
		return current
	}
}

// seedBackups populates the database with backup records
func seedBackups(t *testing.T, db *DB) []*Backup {
	t.Helper()

	base := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	backups := []*Backup{
		{Domain: "shop.example.com", Container: "shop-example-com", Path: "/root/backups/shop-example-com-2024-05-01.sql.gz", SizeBytes: 1024, TakenAt: base},
		{Domain: "shop.example.com", Container: "shop-example-com", Path: "/root/backups/shop-example-com-2024-05-02.sql.gz", SizeBytes: 2048, TakenAt: base.Add(24 * time.Hour)},
		{Domain: "blog.example.com", Container: "blog-example-com", Path: "/root/backups/blog-example-com-2024-05-01.sql.gz", SizeBytes: 512, TakenAt: base},
	}

	for _, b := range backups {
		if err := db.RecordBackup(b); err != nil {
			t.Fatalf("failed to seed test data: %v", err)
		}
	}

	return backups
}

// TestInitDB tests database initialization
func TestInitDB(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantError bool
	}{
		{
			name:   "in-memory database",
			config: Config{DatabasePath: ":memory:", LogLevel: "silent"},
		},
		{
			name:   "in-memory with error log level",
			config: Config{DatabasePath: ":memory:", LogLevel: "error"},
		},
		{
			name:   "in-memory with info log level",
			config: Config{DatabasePath: ":memory:", LogLevel: "info"},
		},
		{
			name:   "in-memory with unknown log level defaults to silent",
			config: Config{DatabasePath: ":memory:", LogLevel: "unknown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := InitDB(tt.config)
			if (err != nil) != tt.wantError {
				t.Errorf("InitDB() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && db == nil {
				t.Error("InitDB() returned nil DB without error")
				return
			}
			if db != nil {
				if err := db.Close(); err != nil {
					t.Errorf("failed to close database: %v", err)
				}
			}
		})
	}
}

func TestStartFinishEvent(t *testing.T) {
	tests := []struct {
		name       string
		opErr      error
		wantStatus string
		wantMsg    string
	}{
		{name: "success", opErr: nil, wantStatus: StatusSuccess},
		{name: "failure", opErr: errors.New("installation failed: nginx"), wantStatus: StatusFailed, wantMsg: "installation failed: nginx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			db.now = fixedClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

			event, err := db.StartEvent("example.com", "create", "static")
			if err != nil {
				t.Fatalf("StartEvent() error = %v", err)
			}
			if event.ID == 0 || event.Status != StatusRunning {
				t.Errorf("StartEvent() = %+v", event)
			}

			if err := db.FinishEvent(event.ID, tt.opErr); err != nil {
				t.Fatalf("FinishEvent() error = %v", err)
			}

			events, err := db.ListEvents("example.com", 0)
			if err != nil {
				t.Fatalf("ListEvents() error = %v", err)
			}
			if len(events) != 1 {
				t.Fatalf("ListEvents() returned %d events, want 1", len(events))
			}
			got := events[0]
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", got.Status, tt.wantStatus)
			}
			if got.ErrorMessage != tt.wantMsg {
				t.Errorf("ErrorMessage = %q, want %q", got.ErrorMessage, tt.wantMsg)
			}
			if got.Duration() != time.Minute {
				t.Errorf("Duration() = %v, want 1m", got.Duration())
			}
		})
	}
}

func TestStartEvent_EmptyDomain(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.StartEvent("", "create", ""); !errors.Is(err, ErrEmptyDomain) {
		t.Errorf("StartEvent() error = %v, want ErrEmptyDomain", err)
	}
}

func TestFinishEvent_NotFound(t *testing.T) {
	db := newTestDB(t)
	if err := db.FinishEvent(999, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishEvent() error = %v, want ErrNotFound", err)
	}
}

func TestListEvents(t *testing.T) {
	db := newTestDB(t)
	db.now = fixedClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

	for _, d := range []string{"a.com", "b.com", "a.com", "a.com"} {
		if _, err := db.StartEvent(d, "create", ""); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		domain string
		limit  int
		want   int
	}{
		{name: "all", domain: "", limit: 0, want: 4},
		{name: "by domain", domain: "a.com", limit: 0, want: 3},
		{name: "limited", domain: "a.com", limit: 2, want: 2},
		{name: "unknown domain", domain: "c.com", limit: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := db.ListEvents(tt.domain, tt.limit)
			if err != nil {
				t.Fatalf("ListEvents() error = %v", err)
			}
			if len(events) != tt.want {
				t.Errorf("ListEvents() returned %d, want %d", len(events), tt.want)
			}
			for i := 1; i < len(events); i++ {
				if events[i].StartedAt.After(events[i-1].StartedAt) {
					t.Error("events must be newest first")
				}
			}
		})
	}
}

func TestRecordBackup(t *testing.T) {
	tests := []struct {
		name    string
		backup  *Backup
		wantErr error
	}{
		{name: "nil backup", backup: nil, wantErr: ErrNilBackup},
		{name: "missing domain", backup: &Backup{Path: "/root/backups/x.sql.gz"}, wantErr: ErrEmptyDomain},
		{name: "valid backup", backup: &Backup{Domain: "example.com", Container: "example-com", Path: "/root/backups/example-com.sql.gz"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			err := db.RecordBackup(tt.backup)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("RecordBackup() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("RecordBackup() error = %v", err)
			}
			if tt.backup.ID == 0 {
				t.Error("RecordBackup() did not assign an ID")
			}
			if tt.backup.TakenAt.IsZero() {
				t.Error("RecordBackup() did not default TakenAt")
			}
		})
	}
}

func TestRecordBackup_DuplicatePath(t *testing.T) {
	db := newTestDB(t)
	seedBackups(t, db)

	dup := &Backup{Domain: "shop.example.com", Container: "shop-example-com", Path: "/root/backups/shop-example-com-2024-05-01.sql.gz"}
	if err := db.RecordBackup(dup); err == nil {
		t.Error("RecordBackup() with duplicate path must fail")
	}
}

func TestListBackups(t *testing.T) {
	db := newTestDB(t)
	seedBackups(t, db)

	all, err := db.ListBackups("")
	if err != nil {
		t.Fatalf("ListBackups() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListBackups(\"\") returned %d, want 3", len(all))
	}

	shop, err := db.ListBackups("shop.example.com")
	if err != nil {
		t.Fatalf("ListBackups() error = %v", err)
	}
	if len(shop) != 2 {
		t.Fatalf("ListBackups(shop) returned %d, want 2", len(shop))
	}
	if shop[0].SizeBytes != 2048 {
		t.Errorf("newest backup first expected, got %+v", shop[0])
	}
}

func TestLatestBackup(t *testing.T) {
	db := newTestDB(t)
	seedBackups(t, db)

	latest, err := db.LatestBackup("shop.example.com")
	if err != nil {
		t.Fatalf("LatestBackup() error = %v", err)
	}
	if latest.Path != "/root/backups/shop-example-com-2024-05-02.sql.gz" {
		t.Errorf("LatestBackup() = %s", latest.Path)
	}

	if _, err := db.LatestBackup("missing.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestBackup(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteBackup(t *testing.T) {
	db := newTestDB(t)
	backups := seedBackups(t, db)

	if err := db.DeleteBackup(backups[0].ID); err != nil {
		t.Fatalf("DeleteBackup() error = %v", err)
	}
	if err := db.DeleteBackup(backups[0].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteBackup() error = %v, want ErrNotFound", err)
	}
	remaining, _ := db.ListBackups("")
	if len(remaining) != 2 {
		t.Errorf("remaining backups = %d, want 2", len(remaining))
	}
}

func TestGetStats(t *testing.T) {
	db := newTestDB(t)
	seedBackups(t, db)

	e1, _ := db.StartEvent("a.com", "create", "")
	_ = db.FinishEvent(e1.ID, nil)
	e2, _ := db.StartEvent("a.com", "delete", "")
	_ = db.FinishEvent(e2.ID, errors.New("boom"))

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats["total_events"] != int64(2) {
		t.Errorf("total_events = %v, want 2", stats["total_events"])
	}
	if stats["total_backups"] != int64(3) {
		t.Errorf("total_backups = %v, want 3", stats["total_backups"])
	}
}
