// Package bundle fetches the extension bundle imported into new WordPress
// sites and checks it before use.
//
// A bundle comes from a local archive or from a GitHub release asset. It is
// staged in a scratch directory, its detached signature is verified when a
// signing key is configured, and it is scanned with ClamAV when enabled.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	gh "github.com/google/go-github/v57/github"

	"github.com/clean-dependency-project/sitectl/internal/clamav"
	"github.com/clean-dependency-project/sitectl/internal/config"
	"github.com/clean-dependency-project/sitectl/internal/github"
	"github.com/clean-dependency-project/sitectl/internal/gpg"
	"github.com/clean-dependency-project/sitectl/internal/shell"
	"github.com/clean-dependency-project/sitectl/internal/storage"
)

// Sentinel errors
var (
	ErrDisabled         = errors.New("extension bundle is disabled")
	ErrSignatureMissing = errors.New("bundle signature not found")
	ErrNoReleases       = errors.New("github source configured without a release client")
)

// Releases resolves and downloads release assets. *github.Client implements it.
type Releases interface {
	GetRelease(ctx context.Context, tag string) (*gh.RepositoryRelease, error)
	DownloadAsset(ctx context.Context, asset *gh.ReleaseAsset, dir string) (string, error)
}

// Bundle is a staged archive ready to be pushed into a container.
type Bundle struct {
	Path      string
	Signature string // empty when none was published
	Release   string // tag of the source release; empty for local bundles
	Verified  bool
	Scan      *clamav.Result

	staging *storage.StagingDir
}

// Cleanup removes the staging directory.
func (b *Bundle) Cleanup() error {
	if b == nil || b.staging == nil {
		return nil
	}
	return b.staging.Remove()
}

// Fetcher stages and checks bundles.
type Fetcher struct {
	cfg         config.BundleConfig
	stagingBase string
	releases    Releases
	scanner     clamav.Scanner
	logger      *slog.Logger
}

// NewFetcher creates a fetcher from explicit collaborators. releases may be
// nil for local bundles; a nil scanner disables scanning.
func NewFetcher(cfg config.BundleConfig, stagingBase string, releases Releases, scanner clamav.Scanner, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		cfg:         cfg,
		stagingBase: stagingBase,
		releases:    releases,
		scanner:     scanner,
		logger:      logger,
	}
}

// New creates a fetcher wired from configuration: a GitHub client for
// github sources and a Docker ClamAV scanner when scanning is enabled.
func New(cfg config.BundleConfig, stagingBase string, exec *shell.Executor, logger *slog.Logger) (*Fetcher, error) {
	var releases Releases
	if cfg.Enabled && cfg.Source == "github" {
		client, err := github.NewClient(cfg.Token(), cfg.Repository)
		if err != nil {
			return nil, fmt.Errorf("failed to create github client: %w", err)
		}
		releases = client
	}
	var scanner clamav.Scanner
	if cfg.ClamAV.Enabled {
		scanner = clamav.NewDockerScanner(exec, cfg.ClamAV.Image, logger)
	}
	return NewFetcher(cfg, stagingBase, releases, scanner, logger), nil
}

// Enabled reports whether new sites receive a bundle.
func (f *Fetcher) Enabled() bool {
	return f.cfg.Enabled
}

// Fetch stages, verifies and scans the bundle for the site name. The caller
// must call Cleanup on the returned bundle. On error nothing is left staged.
func (f *Fetcher) Fetch(ctx context.Context, name string) (*Bundle, error) {
	if !f.cfg.Enabled {
		return nil, ErrDisabled
	}

	staging, err := storage.NewStagingDir(f.stagingBase, "bundle", name)
	if err != nil {
		return nil, err
	}
	b := &Bundle{staging: staging}

	if err := f.fetch(ctx, b); err != nil {
		if rerr := staging.Remove(); rerr != nil {
			f.logger.Warn("failed to remove staging directory", "path", staging.Root(), "error", rerr)
		}
		return nil, err
	}
	return b, nil
}

func (f *Fetcher) fetch(ctx context.Context, b *Bundle) error {
	var err error
	switch f.cfg.Source {
	case "local":
		err = f.stageLocal(b)
	case "github":
		err = f.stageRelease(ctx, b)
	default:
		err = config.ErrBundleSourceInvalid
	}
	if err != nil {
		return err
	}
	f.logger.Info("bundle staged", "path", b.Path, "release", b.Release)

	if f.cfg.SigningKey != "" {
		if err := f.verify(b); err != nil {
			return err
		}
	}

	if f.scanner != nil {
		result, err := f.scanner.Scan(ctx, b.Path)
		if err != nil {
			return fmt.Errorf("failed to scan bundle: %w", err)
		}
		b.Scan = &result
		if err := result.Err(); err != nil {
			return fmt.Errorf("bundle %s rejected: %w", filepath.Base(b.Path), err)
		}
	}
	return nil
}

// stageLocal copies the configured archive and a sibling .sig or .asc file.
func (f *Fetcher) stageLocal(b *Bundle) error {
	dest, err := copyFile(f.cfg.Path, b.staging.Downloads())
	if err != nil {
		return err
	}
	b.Path = dest

	for _, suffix := range []string{".sig", ".asc"} {
		sig := f.cfg.Path + suffix
		if _, err := os.Stat(sig); err != nil {
			continue
		}
		if b.Signature, err = copyFile(sig, b.staging.Signatures()); err != nil {
			return err
		}
		break
	}
	return nil
}

func (f *Fetcher) stageRelease(ctx context.Context, b *Bundle) error {
	if f.releases == nil {
		return ErrNoReleases
	}
	release, err := f.releases.GetRelease(ctx, f.cfg.Tag)
	if err != nil {
		return err
	}
	b.Release = release.GetTagName()

	asset, err := github.FindAsset(release, f.cfg.AssetPattern)
	if err != nil {
		return err
	}
	if b.Path, err = f.releases.DownloadAsset(ctx, asset, b.staging.Downloads()); err != nil {
		return err
	}

	if sig, ok := github.FindSignature(release, asset); ok {
		if b.Signature, err = f.releases.DownloadAsset(ctx, sig, b.staging.Signatures()); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fetcher) verify(b *Bundle) error {
	if b.Signature == "" {
		return fmt.Errorf("%w for %s", ErrSignatureMissing, filepath.Base(b.Path))
	}
	keyRing, err := gpg.LoadKeyRing(f.cfg.SigningKey)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	if err := gpg.VerifyDetachedSignature(keyRing, b.Path, b.Signature); err != nil {
		return fmt.Errorf("bundle %s: %w", filepath.Base(b.Path), err)
	}
	b.Verified = true
	f.logger.Info("bundle signature verified", "path", b.Path)
	return nil
}

func copyFile(src, dir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	dest := filepath.Join(dir, filepath.Base(src))
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", dest, err)
	}
	return dest, nil
}
