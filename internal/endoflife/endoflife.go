// Package endoflife queries the endoflife.date API for release lifecycle
// data, e.g. whether an Ubuntu or PHP release still receives updates.
package endoflife

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultBaseURL is the default endoflife.date API base URL
	DefaultBaseURL = "https://endoflife.date/api/v1"

	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = 10 * time.Second

	// DefaultUserAgent is the default User-Agent header
	DefaultUserAgent = "sitectl/1.0"
)

// Sentinel errors
var (
	ErrProductNotFound = errors.New("product not found")
	ErrCycleNotFound   = errors.New("release cycle not found")
	ErrInvalidResponse = errors.New("invalid API response")
	ErrNetworkError    = errors.New("network error")
)

// ErrAPIError represents an API-specific error
type ErrAPIError struct {
	StatusCode int
	Message    string
	Product    string
}

func (e ErrAPIError) Error() string {
	if e.Product != "" {
		return fmt.Sprintf("API error for product %s: %d %s", e.Product, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %d %s", e.StatusCode, e.Message)
}

func (e ErrAPIError) Is(target error) bool {
	switch target {
	case ErrProductNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrInvalidResponse:
		return e.StatusCode >= 400 && e.StatusCode < 500 || e.StatusCode == http.StatusOK
	case ErrNetworkError:
		return e.StatusCode == 0 || e.StatusCode >= 500
	}
	return false
}

// ProductInfo is the product document returned by the API.
type ProductInfo struct {
	SchemaVersion string `json:"schema_version"`
	Result        struct {
		Name     string    `json:"name"`
		Label    string    `json:"label"`
		Releases []Release `json:"releases"`
	} `json:"result"`
}

// Release is one release cycle of a product, e.g. Ubuntu 22.04 or PHP 8.1.
type Release struct {
	Name         string  `json:"name"`
	Label        string  `json:"label"`
	ReleaseDate  string  `json:"releaseDate"`
	IsLTS        bool    `json:"isLts"`
	IsEOAS       bool    `json:"isEoas"`
	IsEOL        bool    `json:"isEol"`
	EOLFrom      *string `json:"eolFrom"`
	IsMaintained bool    `json:"isMaintained"`
	Latest       struct {
		Name string `json:"name"`
		Date string `json:"date"`
	} `json:"latest"`
}

// Status summarizes the lifecycle state of the release.
func (r Release) Status() string {
	switch {
	case r.IsEOL:
		return "End of Life"
	case r.IsEOAS:
		return "Security Only"
	case r.IsMaintained:
		return "Active"
	}
	return "Unknown"
}

// EOL returns the end of life date, or "" when none is announced.
func (r Release) EOL() string {
	if r.EOLFrom == nil {
		return ""
	}
	return *r.EOLFrom
}

// HTTPClient defines the interface for HTTP operations
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds configuration for the endoflife client
type Config struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient HTTPClient
}

// Client is an endoflife.date API client.
type Client struct {
	config Config
}

// NewClient creates a new endoflife.date API client
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.Timeout}
	}
	return &Client{config: config}
}

// GetProductInfo retrieves the lifecycle data of a product.
func (c *Client) GetProductInfo(ctx context.Context, product string) (*ProductInfo, error) {
	if product == "" {
		return nil, ErrAPIError{StatusCode: http.StatusBadRequest, Message: "product name cannot be empty"}
	}

	apiURL, err := url.JoinPath(c.config.BaseURL, "products", product)
	if err != nil {
		return nil, fmt.Errorf("failed to construct API URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, ErrAPIError{Message: err.Error(), Product: product}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrAPIError{StatusCode: resp.StatusCode, Message: resp.Status, Product: product}
	}

	var info ProductInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, ErrAPIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to decode response: %v", err),
			Product:    product,
		}
	}
	return &info, nil
}

// Cycle returns one release cycle of a product.
func (c *Client) Cycle(ctx context.Context, product, cycle string) (*Release, error) {
	info, err := c.GetProductInfo(ctx, product)
	if err != nil {
		return nil, err
	}
	for _, r := range info.Result.Releases {
		if r.Name == cycle {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", ErrCycleNotFound, product, cycle)
}
