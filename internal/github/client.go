// Package github resolves and downloads release assets from the GitHub
// Releases API.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v57/github"
)

// Sentinel errors for GitHub operations.
var (
	ErrInvalidRepo     = errors.New("repository must be in format 'owner/repo'")
	ErrNilRelease      = errors.New("github release cannot be nil")
	ErrReleaseNotFound = errors.New("release not found")
	ErrAssetNotFound   = errors.New("release asset not found")
)

// signatureSuffixes are the detached signature names looked up next to an asset.
var signatureSuffixes = []string{".sig", ".asc"}

// Client wraps the GitHub API client for release downloads.
type Client struct {
	client     *github.Client
	httpClient *http.Client // follows asset download redirects
	owner      string
	repo       string
}

// NewClient creates a GitHub API client for the specified repository.
// An empty token gives anonymous access, which is enough for public releases.
// Repository must be in the format "owner/repo".
func NewClient(token, repository string) (*Client, error) {
	owner, repo, err := parseRepository(repository)
	if err != nil {
		return nil, err
	}

	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	return &Client{
		client:     client,
		httpClient: http.DefaultClient,
		owner:      owner,
		repo:       repo,
	}, nil
}

func (c *Client) initialized() error {
	if c.client == nil || c.owner == "" || c.repo == "" {
		return fmt.Errorf("client not initialized: use NewClient to create instances")
	}
	return nil
}

// Repository returns "owner/repo".
func (c *Client) Repository() string {
	return c.owner + "/" + c.repo
}

// GetRelease retrieves a release by tag name, or the latest release when tag
// is empty. Returns ErrReleaseNotFound if the release doesn't exist.
func (c *Client) GetRelease(ctx context.Context, tag string) (*github.RepositoryRelease, error) {
	if err := c.initialized(); err != nil {
		return nil, err
	}

	var (
		release *github.RepositoryRelease
		resp    *github.Response
		err     error
	)
	if tag == "" {
		release, resp, err = c.client.Repositories.GetLatestRelease(ctx, c.owner, c.repo)
	} else {
		release, resp, err = c.client.Repositories.GetReleaseByTag(ctx, c.owner, c.repo, tag)
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrReleaseNotFound
		}
		if tag == "" {
			tag = "latest"
		}
		return nil, fmt.Errorf("failed to get release %s: %w", tag, err)
	}

	return release, nil
}

// FindAsset returns the first asset whose name matches pattern (path.Match
// syntax), skipping detached signatures.
func FindAsset(release *github.RepositoryRelease, pattern string) (*github.ReleaseAsset, error) {
	if release == nil {
		return nil, ErrNilRelease
	}
	if pattern == "" {
		pattern = "*"
	}
	for _, asset := range release.Assets {
		name := asset.GetName()
		if isSignature(name) {
			continue
		}
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("invalid asset pattern %q: %w", pattern, err)
		}
		if ok {
			return asset, nil
		}
	}
	return nil, fmt.Errorf("%w: no asset matches %q in %s", ErrAssetNotFound, pattern, release.GetTagName())
}

// FindSignature returns the detached signature published for asset, if any.
func FindSignature(release *github.RepositoryRelease, asset *github.ReleaseAsset) (*github.ReleaseAsset, bool) {
	if release == nil || asset == nil {
		return nil, false
	}
	for _, suffix := range signatureSuffixes {
		want := asset.GetName() + suffix
		for _, candidate := range release.Assets {
			if candidate.GetName() == want {
				return candidate, true
			}
		}
	}
	return nil, false
}

func isSignature(name string) bool {
	for _, suffix := range signatureSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// DownloadAsset writes asset into dir under its own name and returns the
// file path.
func (c *Client) DownloadAsset(ctx context.Context, asset *github.ReleaseAsset, dir string) (string, error) {
	if asset == nil || asset.ID == nil {
		return "", fmt.Errorf("%w: asset has no ID", ErrAssetNotFound)
	}
	if err := c.initialized(); err != nil {
		return "", err
	}

	rc, _, err := c.client.Repositories.DownloadReleaseAsset(ctx, c.owner, c.repo, asset.GetID(), c.httpClient)
	if err != nil {
		return "", fmt.Errorf("failed to download asset %s: %w", asset.GetName(), err)
	}
	defer func() { _ = rc.Close() }()

	dest := filepath.Join(dir, filepath.Base(asset.GetName()))
	file, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(file, rc); err != nil {
		_ = file.Close()
		return "", fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", dest, err)
	}

	return dest, nil
}

// GetReleaseURL returns the HTML URL for a release.
func (c *Client) GetReleaseURL(release *github.RepositoryRelease) string {
	if release == nil || release.HTMLURL == nil {
		return ""
	}
	return *release.HTMLURL
}

// parseRepository splits a repository string into owner and repo.
// Returns an error if the format is invalid.
func parseRepository(repository string) (owner, repo string, err error) {
	if repository == "" {
		return "", "", ErrInvalidRepo
	}

	parts := strings.Split(repository, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: got %s", ErrInvalidRepo, repository)
	}

	owner = strings.TrimSpace(parts[0])
	repo = strings.TrimSpace(parts[1])

	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("%w: owner or repo is empty", ErrInvalidRepo)
	}

	return owner, repo, nil
}
