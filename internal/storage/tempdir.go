package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StagingDir is a scratch directory for artifacts fetched on the host before
// they are verified and pushed into a container.
//
//	{base}/sitectl-{purpose}-{name}-{random}/
//	  downloads/    - fetched archives
//	  signatures/   - detached signatures for the archives
type StagingDir struct {
	root    string
	created time.Time
}

// NewStagingDir creates a staging directory under base, or under the system
// temp directory when base is empty. The caller must call Remove.
func NewStagingDir(base, purpose, name string) (*StagingDir, error) {
	if purpose == "" {
		return nil, fmt.Errorf("purpose cannot be empty")
	}
	if name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging base %s: %w", base, err)
	}

	safe := strings.NewReplacer("/", "-", string(os.PathSeparator), "-").Replace(name)
	root, err := os.MkdirTemp(base, fmt.Sprintf("sitectl-%s-%s-", purpose, safe))
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	for _, sub := range []string{"downloads", "signatures"} {
		if err := os.Mkdir(filepath.Join(root, sub), 0o755); err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}

	return &StagingDir{root: root, created: time.Now()}, nil
}

// Root returns the staging directory path.
func (s *StagingDir) Root() string {
	return s.root
}

// Downloads returns the directory fetched archives are written to.
func (s *StagingDir) Downloads() string {
	if s.root == "" {
		return ""
	}
	return filepath.Join(s.root, "downloads")
}

// Signatures returns the directory detached signatures are written to.
func (s *StagingDir) Signatures() string {
	if s.root == "" {
		return ""
	}
	return filepath.Join(s.root, "signatures")
}

// Remove deletes the staging directory. Removing twice is not an error.
func (s *StagingDir) Remove() error {
	if s.root == "" {
		return nil
	}
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("failed to remove staging directory %s: %w", s.root, err)
	}
	return nil
}

// Age returns how long ago the staging directory was created.
func (s *StagingDir) Age() time.Duration {
	return time.Since(s.created)
}

// ListAllFiles returns the regular files in downloads and signatures.
func (s *StagingDir) ListAllFiles() ([]string, error) {
	if s.root == "" {
		return nil, fmt.Errorf("staging directory not initialized: use NewStagingDir to create instances")
	}

	var files []string
	for _, dir := range []string{s.Downloads(), s.Signatures()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.Type().IsRegular() {
				files = append(files, filepath.Join(dir, entry.Name()))
			}
		}
	}
	return files, nil
}
