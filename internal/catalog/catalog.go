// Package catalog resolves the plugins and themes installed into new
// WordPress sites, from a local directory or the remote tools API.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent is the default User-Agent header
	DefaultUserAgent = "sitectl/1.0"

	// KeyHeader carries the CLI key on API requests
	KeyHeader = "CLI-Key"
)

// Kind selects a catalog listing.
type Kind string

const (
	Plugins Kind = "plugins"
	Themes  Kind = "themes"
)

// Sentinel errors
var (
	// ErrUnknownKind indicates a listing other than plugins or themes
	ErrUnknownKind = errors.New("unknown catalog kind")

	// ErrNoEndpoint indicates the remote catalog is not configured
	ErrNoEndpoint = errors.New("catalog endpoint not configured")

	// ErrNotFound indicates the requested listing was not found
	ErrNotFound = errors.New("listing not found")

	// ErrUnauthorized indicates the CLI key was rejected
	ErrUnauthorized = errors.New("catalog key rejected")

	// ErrNetworkError indicates a network-related error
	ErrNetworkError = errors.New("network error")
)

// ErrAPIError represents an API-specific error
type ErrAPIError struct {
	StatusCode int
	Message    string
	Kind       Kind
}

func (e ErrAPIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("catalog error for %s: %d %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("catalog error: %d %s", e.StatusCode, e.Message)
}

func (e ErrAPIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNetworkError:
		return e.StatusCode == 0 || e.StatusCode >= 500
	}
	return false
}

// Client lists catalog identifiers.
type Client interface {
	// List returns plugin or theme identifiers: slugs, archive URLs or host paths.
	List(ctx context.Context, kind Kind) ([]string, error)
}

// HTTPClient defines the interface for HTTP operations
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds configuration for the catalog client
type Config struct {
	Endpoint   string // API base URL; the remote catalog is skipped when empty
	Key        string
	LocalDir   string // {LocalDir}/plugins and {LocalDir}/themes take precedence
	UserAgent  string
	Timeout    time.Duration
	HTTPClient HTTPClient
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		LocalDir:  "/root/base_extracted_files",
		UserAgent: DefaultUserAgent,
		Timeout:   DefaultTimeout,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

type client struct {
	config Config
}

// NewClient creates a catalog client
func NewClient(config Config) Client {
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{
			Timeout: config.Timeout,
		}
	}
	return &client{config: config}
}

func validKind(kind Kind) error {
	if kind != Plugins && kind != Themes {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return nil
}

// List checks the local directory first and falls back to the API when it
// holds nothing.
func (c *client) List(ctx context.Context, kind Kind) ([]string, error) {
	if err := validKind(kind); err != nil {
		return nil, err
	}
	if local, err := ListLocal(c.config.LocalDir, kind); err != nil {
		return nil, err
	} else if len(local) > 0 {
		return local, nil
	}
	return c.fetch(ctx, kind)
}

// ListLocal returns absolute paths of the entries in {dir}/{kind}. A missing
// directory yields no entries.
func ListLocal(dir string, kind Kind) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	root := filepath.Join(dir, string(kind))
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	var out []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		out = append(out, filepath.Join(root, entry.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func (c *client) fetch(ctx context.Context, kind Kind) ([]string, error) {
	if c.config.Endpoint == "" {
		return nil, ErrNoEndpoint
	}

	apiURL, err := url.JoinPath(c.config.Endpoint, "v1", "tools", string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to construct API URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.Key != "" {
		req.Header.Set(KeyHeader, c.config.Key)
	}

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, ErrAPIError{Message: err.Error(), Kind: kind}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrAPIError{StatusCode: resp.StatusCode, Message: resp.Status, Kind: kind}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrAPIError{StatusCode: resp.StatusCode, Message: err.Error(), Kind: kind}
	}
	ids, err := decodeIdentifiers(body)
	if err != nil {
		return nil, ErrAPIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to decode response: %v", err),
			Kind:       kind,
		}
	}
	return ids, nil
}

// decodeIdentifiers accepts a bare JSON array or an object wrapping it in "data".
func decodeIdentifiers(body []byte) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(body, &ids); err == nil {
		return compact(ids), nil
	}
	var wrapped struct {
		Data []string `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	return compact(wrapped.Data), nil
}

func compact(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
