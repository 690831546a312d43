// Package export renders a WordPress site into static files.
//
// The site lists its routes through a REST endpoint guarded by the site key.
// Every route is fetched and saved as <route>/index.html, then the local
// scripts and stylesheets the pages reference are copied alongside them.
// Manifests pages.json, js.json and css.json describe the result.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clean-dependency-project/sitectl/internal/config"
)

const (
	// DefaultConcurrency bounds in-flight requests per batch
	DefaultConcurrency = 5

	// DefaultPagesPath is the route listing endpoint
	DefaultPagesPath = "/wp-json/static/v1/pages"

	// KeyHeader carries the site key on the route listing request
	KeyHeader = "X-Site-Key"
)

// Sentinel errors
var (
	ErrMissingURL    = errors.New("site URL is required")
	ErrMissingOutput = errors.New("output directory is required")
	ErrNoRoutes      = errors.New("site returned no routes")
)

// RequestError is a non-2xx response.
type RequestError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("GET %s: %d", e.URL, e.StatusCode)
	if b := strings.TrimSpace(e.Body); b != "" {
		msg += ": " + b
	}
	return msg
}

// HTTPClient defines the interface for HTTP operations
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds exporter settings.
type Config struct {
	Concurrency int
	PagesPath   string
	Timeout     time.Duration
	UserAgent   string
	HTTPClient  HTTPClient
}

// Options select the site to export.
type Options struct {
	URL       string // site base URL, e.g. http://shop.example.com
	Domain    string // used for exclusion lookups; URL host when empty
	SiteKey   string
	OutputDir string
	Exclude   config.ExcludeConfig
}

// Result summarizes an export.
type Result struct {
	Pages   []string // manifest entries, e.g. /about/index.html
	Scripts []string
	Styles  []string
	Failed  []string // URLs that could not be fetched
	Skipped []string // excluded routes
	Written int      // files created or changed
	Removed []string // stale files pruned from the output directory
}

// Exporter fetches sites over HTTP.
type Exporter struct {
	cfg    Config
	logger *slog.Logger
}

// NewExporter creates an exporter, filling unset fields with defaults.
func NewExporter(cfg Config, logger *slog.Logger) *Exporter {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PagesPath == "" {
		cfg.PagesPath = DefaultPagesPath
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "sitectl/1.0"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{cfg: cfg, logger: logger}
}

type route struct {
	URL string `json:"url"`
}

type routeListing struct {
	Routes []route `json:"routes"`
}

// Export writes the static rendition of a site into opts.OutputDir. Pages,
// then scripts, then styles are fetched in bounded batches; each batch
// completes before the next starts. Individual fetch failures are reported
// in Result.Failed. Files that the export did not produce are removed.
func (e *Exporter) Export(ctx context.Context, opts Options) (*Result, error) {
	if opts.URL == "" {
		return nil, ErrMissingURL
	}
	if opts.OutputDir == "" {
		return nil, ErrMissingOutput
	}
	base, err := url.Parse(strings.TrimRight(opts.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid site URL %q: %w", opts.URL, err)
	}
	if opts.Domain == "" {
		opts.Domain = base.Hostname()
	}

	routes, err := e.listRoutes(ctx, base, opts.SiteKey)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var pages []string
	for _, r := range routes {
		u, err := base.Parse(r.URL)
		if err != nil {
			e.logger.Warn("skipping invalid route", "url", r.URL, "error", err)
			continue
		}
		if opts.Exclude.IsExcluded(opts.Domain, u.Path) {
			res.Skipped = append(res.Skipped, u.Path)
			continue
		}
		pages = append(pages, u.String())
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	w := newWriter(opts.OutputDir, e.logger)
	b := &batch{exporter: e, writer: w, base: base, result: res}

	scripts, styles := newAssetSet(), newAssetSet()
	err = b.run(ctx, pages, func(u *url.URL, body []byte) error {
		entry := pageEntry(u.Path)
		if err := w.write(entry, body); err != nil {
			return err
		}
		b.mu.Lock()
		res.Pages = append(res.Pages, entry)
		b.mu.Unlock()

		js, css := extractAssets(body, base)
		scripts.add(js...)
		styles.add(css...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Scripts, err = b.copyAssets(ctx, scripts.sorted(), "js.json"); err != nil {
		return nil, err
	}
	if res.Styles, err = b.copyAssets(ctx, styles.sorted(), "css.json"); err != nil {
		return nil, err
	}

	sort.Strings(res.Pages)
	sort.Strings(res.Failed)
	if err := writeManifest(w, "pages.json", res.Pages); err != nil {
		return nil, err
	}

	if res.Removed, err = w.prune(); err != nil {
		return nil, err
	}
	res.Written = w.written

	e.logger.Info("export finished",
		"domain", opts.Domain,
		"pages", len(res.Pages),
		"scripts", len(res.Scripts),
		"styles", len(res.Styles),
		"failed", len(res.Failed),
		"written", res.Written,
		"removed", len(res.Removed))
	return res, nil
}

func (e *Exporter) listRoutes(ctx context.Context, base *url.URL, siteKey string) ([]route, error) {
	endpoint := base.JoinPath(e.cfg.PagesPath).String()
	header := http.Header{}
	if siteKey != "" {
		header.Set(KeyHeader, siteKey)
	}
	body, err := e.get(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}

	var listing routeListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("failed to decode route listing: %w", err)
	}
	if len(listing.Routes) == 0 {
		return nil, ErrNoRoutes
	}
	return listing.Routes, nil
}

func (e *Exporter) get(ctx context.Context, target string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{URL: target, StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return body, nil
}

// batch runs bounded fetch pools sharing one result.
type batch struct {
	exporter *Exporter
	writer   *writer
	base     *url.URL
	result   *Result
	mu       sync.Mutex
}

// run fetches every URL with at most Concurrency requests in flight. Fetch
// failures are recorded; errors from save abort the batch.
func (b *batch) run(ctx context.Context, urls []string, save func(u *url.URL, body []byte) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.exporter.cfg.Concurrency)

	for _, raw := range urls {
		g.Go(func() error {
			u, err := url.Parse(raw)
			if err != nil {
				return err
			}
			body, err := b.exporter.get(gctx, raw, nil)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				b.exporter.logger.Warn("fetch failed", "url", raw, "error", err)
				b.mu.Lock()
				b.result.Failed = append(b.result.Failed, raw)
				b.mu.Unlock()
				return nil
			}
			return save(u, body)
		})
	}
	return g.Wait()
}

// copyAssets writes the manifest for paths and copies each asset to the same
// path below the output directory. It returns the manifest entries.
func (b *batch) copyAssets(ctx context.Context, paths []string, manifest string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	if err := writeManifest(b.writer, manifest, paths); err != nil {
		return nil, err
	}

	urls := make([]string, len(paths))
	for i, p := range paths {
		urls[i] = b.base.JoinPath(p).String()
	}
	err := b.run(ctx, urls, func(u *url.URL, body []byte) error {
		return b.writer.write(path.Clean("/"+u.Path), body)
	})
	return paths, err
}

// pageEntry maps a route path to its index.html below the output directory.
func pageEntry(routePath string) string {
	return path.Join(path.Clean("/"+routePath), "index.html")
}

func writeManifest(w *writer, name string, entries []string) error {
	if entries == nil {
		entries = []string{}
	}
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return w.write(name, data)
}

type assetSet struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func newAssetSet() *assetSet {
	return &assetSet{paths: make(map[string]struct{})}
}

func (s *assetSet) add(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		s.paths[p] = struct{}{}
	}
}

func (s *assetSet) sorted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.paths))
	for p := range s.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
