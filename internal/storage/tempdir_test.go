package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewStagingDir(t *testing.T) {
	tests := []struct {
		name        string
		purpose     string
		item        string
		wantErr     bool
		errContains string
	}{
		{name: "bundle", purpose: "bundle", item: "extensions-v1.2.0"},
		{name: "name with slash", purpose: "bundle", item: "owner/repo"},
		{name: "empty purpose", purpose: "", item: "x", wantErr: true, errContains: "purpose cannot be empty"},
		{name: "empty name", purpose: "bundle", item: "", wantErr: true, errContains: "name cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := t.TempDir()
			sd, err := NewStagingDir(base, tt.purpose, tt.item)

			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("NewStagingDir() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewStagingDir() unexpected error: %v", err)
			}
			defer sd.Remove()

			for _, dir := range []string{sd.Root(), sd.Downloads(), sd.Signatures()} {
				if info, err := os.Stat(dir); err != nil || !info.IsDir() {
					t.Errorf("directory %s missing: %v", dir, err)
				}
			}
			if filepath.Dir(sd.Root()) != base {
				t.Errorf("Root() = %s, want under %s", sd.Root(), base)
			}
			if !strings.HasPrefix(filepath.Base(sd.Root()), "sitectl-"+tt.purpose+"-") {
				t.Errorf("directory name = %s", filepath.Base(sd.Root()))
			}
		})
	}
}

func TestStagingDir_Remove(t *testing.T) {
	sd, err := NewStagingDir(t.TempDir(), "bundle", "x")
	if err != nil {
		t.Fatal(err)
	}
	if err := sd.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(sd.Root()); !os.IsNotExist(err) {
		t.Errorf("root still exists: %v", err)
	}
	if err := sd.Remove(); err != nil {
		t.Errorf("second Remove() error = %v", err)
	}

	var zero StagingDir
	if err := zero.Remove(); err != nil {
		t.Errorf("Remove() on zero value error = %v", err)
	}
}

func TestStagingDir_ListAllFiles(t *testing.T) {
	sd, err := NewStagingDir(t.TempDir(), "bundle", "x")
	if err != nil {
		t.Fatal(err)
	}
	defer sd.Remove()

	files, err := sd.ListAllFiles()
	if err != nil || len(files) != 0 {
		t.Fatalf("ListAllFiles() on empty dir = %v, %v", files, err)
	}

	must := func(p string) {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	must(filepath.Join(sd.Downloads(), "bundle.zip"))
	must(filepath.Join(sd.Signatures(), "bundle.zip.sig"))
	if err := os.Mkdir(filepath.Join(sd.Downloads(), "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err = sd.ListAllFiles()
	if err != nil {
		t.Fatalf("ListAllFiles() error = %v", err)
	}
	if len(files) != 2 {
		t.Errorf("ListAllFiles() = %v, want 2 files", files)
	}

	var zero StagingDir
	if _, err := zero.ListAllFiles(); err == nil {
		t.Error("ListAllFiles() on zero value must fail")
	}
}
