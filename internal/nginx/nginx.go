// Package nginx writes nginx site configuration and the hosts file.
package nginx

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/clean-dependency-project/sitectl/internal/shell"
)

//go:embed stubs
var embedded embed.FS

// builtinStubs is rooted at the embedded stubs directory. fs.Sub fails only
// for an invalid path and "stubs" is a constant, so the panic is unreachable.
var builtinStubs = func() fs.FS {
	sub, err := fs.Sub(embedded, "stubs")
	if err != nil {
		panic(err)
	}
	return sub
}()

// Sentinel errors
var (
	ErrUnknownKind  = errors.New("unknown site kind")
	ErrEmptyDomain  = errors.New("domain must not be empty")
	ErrSiteNotFound = errors.New("site configuration not found")
)

// Kind selects the server block template for a site.
type Kind string

const (
	KindStatic   Kind = "static"
	KindWPProxy  Kind = "wp-proxy"
	KindCatchAll Kind = "catch-all"
	KindWP       Kind = "wp"
)

// Config locates nginx and the hosts file.
type Config struct {
	ConfDir      string // /etc/nginx
	AvailableDir string // /etc/nginx/sites-available
	EnabledDir   string // /etc/nginx/sites-enabled
	HostsFile    string // /etc/hosts
	StubDir      string // optional directory overriding the built-in templates
	PHPVersion   string // substituted into container templates
}

// DefaultConfig returns the stock Ubuntu layout.
func DefaultConfig() Config {
	return Config{
		ConfDir:      "/etc/nginx",
		AvailableDir: "/etc/nginx/sites-available",
		EnabledDir:   "/etc/nginx/sites-enabled",
		HostsFile:    "/etc/hosts",
		PHPVersion:   "8.1",
	}
}

// ServiceRestarter restarts services on a target.
type ServiceRestarter interface {
	RestartService(ctx context.Context, target shell.Target, services ...string) error
}

// Configurator manages site files under sites-available and sites-enabled.
type Configurator struct {
	cfg      Config
	stubs    fs.FS
	services ServiceRestarter
	logger   *slog.Logger
}

// NewConfigurator creates a configurator, filling unset paths from DefaultConfig.
func NewConfigurator(cfg Config, services ServiceRestarter, logger *slog.Logger) *Configurator {
	def := DefaultConfig()
	if cfg.ConfDir == "" {
		cfg.ConfDir = def.ConfDir
	}
	if cfg.AvailableDir == "" {
		cfg.AvailableDir = filepath.Join(cfg.ConfDir, "sites-available")
	}
	if cfg.EnabledDir == "" {
		cfg.EnabledDir = filepath.Join(cfg.ConfDir, "sites-enabled")
	}
	if cfg.HostsFile == "" {
		cfg.HostsFile = def.HostsFile
	}
	if cfg.PHPVersion == "" {
		cfg.PHPVersion = def.PHPVersion
	}
	if logger == nil {
		logger = slog.Default()
	}

	stubs := builtinStubs
	if cfg.StubDir != "" {
		stubs = overlayFS{primary: os.DirFS(cfg.StubDir), fallback: builtinStubs}
	}
	return &Configurator{cfg: cfg, stubs: stubs, services: services, logger: logger}
}

// overlayFS reads from primary and falls back when a file is missing there.
type overlayFS struct {
	primary  fs.FS
	fallback fs.FS
}

func (o overlayFS) Open(name string) (fs.File, error) {
	f, err := o.primary.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return o.fallback.Open(name)
	}
	return f, err
}

func templatePath(kind Kind) (string, error) {
	switch kind {
	case KindStatic, KindWPProxy, KindCatchAll, KindWP:
		return "site/" + string(kind) + ".conf", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Template returns the raw contents of a stub file.
func (c *Configurator) Template(name string) (string, error) {
	data, err := fs.ReadFile(c.stubs, name)
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", name, err)
	}
	return string(data), nil
}

// Substitute replaces each {key} token in text with its value. Replacement is
// literal; unknown tokens are left as they are.
func Substitute(text string, subs map[string]string) string {
	keys := make([]string, 0, len(subs))
	for k := range subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", subs[k])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Render renders the server block for kind.
func (c *Configurator) Render(kind Kind, subs map[string]string) (string, error) {
	name, err := templatePath(kind)
	if err != nil {
		return "", err
	}
	text, err := c.Template(name)
	if err != nil {
		return "", err
	}
	return Substitute(text, subs), nil
}

func (c *Configurator) availablePath(domain string) string {
	return filepath.Join(c.cfg.AvailableDir, domain)
}

func (c *Configurator) enabledPath(domain string) string {
	return filepath.Join(c.cfg.EnabledDir, domain)
}

// SiteExists reports whether sites-available holds a config for domain.
func (c *Configurator) SiteExists(domain string) bool {
	_, err := os.Stat(c.availablePath(strings.ToLower(domain)))
	return err == nil
}

// InstallSite renders the template for kind into sites-available and links it
// from sites-enabled.
func (c *Configurator) InstallSite(domain string, kind Kind, subs map[string]string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return ErrEmptyDomain
	}
	vars := map[string]string{"domain": domain}
	for k, v := range subs {
		vars[k] = v
	}

	config, err := c.Render(kind, vars)
	if err != nil {
		return err
	}
	if err := c.writeSite(domain, config); err != nil {
		return err
	}
	c.logger.Info("nginx site installed", "domain", domain, "kind", string(kind))
	return nil
}

func (c *Configurator) writeSite(domain, config string) error {
	if err := os.MkdirAll(c.cfg.AvailableDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", c.cfg.AvailableDir, err)
	}
	if err := os.MkdirAll(c.cfg.EnabledDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", c.cfg.EnabledDir, err)
	}

	available := c.availablePath(domain)
	if err := os.WriteFile(available, []byte(config), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", available, err)
	}

	enabled := c.enabledPath(domain)
	if err := removeIfExists(enabled); err != nil {
		return err
	}
	if err := os.Symlink(available, enabled); err != nil {
		return fmt.Errorf("failed to enable %s: %w", domain, err)
	}
	return nil
}

// RemoveSite deletes the available config and the enabled link. Either may
// already be absent.
func (c *Configurator) RemoveSite(domain string) error {
	domain = strings.ToLower(domain)
	if err := removeIfExists(c.availablePath(domain)); err != nil {
		return err
	}
	if err := removeIfExists(c.enabledPath(domain)); err != nil {
		return err
	}
	c.logger.Info("nginx site removed", "domain", domain)
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// UpdateServerNames rewrites the site so server_name lists extra domains after
// the primary one.
func (c *Configurator) UpdateServerNames(domain string, kind Kind, extra []string, subs map[string]string) error {
	domain = strings.ToLower(domain)
	if !c.SiteExists(domain) {
		return fmt.Errorf("%w: %s", ErrSiteNotFound, domain)
	}
	name, err := templatePath(kind)
	if err != nil {
		return err
	}
	text, err := c.Template(name)
	if err != nil {
		return err
	}

	names := append([]string{domain}, extra...)
	text = strings.ReplaceAll(text, "server_name {domain}", "server_name "+strings.Join(names, " "))

	vars := map[string]string{"domain": domain}
	for k, v := range subs {
		vars[k] = v
	}
	if err := c.writeSite(domain, Substitute(text, vars)); err != nil {
		return err
	}
	c.logger.Info("nginx server names updated", "domain", domain, "extra", extra)
	return nil
}

// AddCatchAll installs a default server that drops requests for unknown hosts.
func (c *Configurator) AddCatchAll() error {
	if c.SiteExists("catch-all") {
		return nil
	}
	config, err := c.Render(KindCatchAll, nil)
	if err != nil {
		return err
	}
	return c.writeSite("catch-all", config)
}

// RemoveDefault removes the distribution's default site.
func (c *Configurator) RemoveDefault() error {
	if !c.SiteExists("default") {
		return nil
	}
	return c.RemoveSite("default")
}

// TweakConfig installs the tuned nginx.conf and shared snippets on the host.
func (c *Configurator) TweakConfig() error {
	files := map[string]string{
		"nginx.conf":          filepath.Join(c.cfg.ConfDir, "nginx.conf"),
		"common/general.conf": filepath.Join(c.cfg.ConfDir, "common", "general.conf"),
	}
	for src, dest := range files {
		text, err := c.Template(src)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
		}
		if err := os.WriteFile(dest, []byte(text), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", dest, err)
		}
	}
	c.logger.Info("nginx configuration tweaked")
	return nil
}

// Reload restarts nginx on the host. A failure is logged, never returned.
func (c *Configurator) Reload(ctx context.Context) {
	if c.services == nil {
		return
	}
	if err := c.services.RestartService(ctx, shell.Host(), "nginx"); err != nil {
		c.logger.Warn("failed to reload nginx", "error", err)
	}
}

const hostsLine = "127.0.0.1\t%s\n"

func hostPattern(domain string) *regexp.Regexp {
	return regexp.MustCompile(`\s+` + regexp.QuoteMeta(domain) + `$`)
}

// AddHostEntry maps domain to 127.0.0.1 unless a line already ends with it.
// It reports whether the file changed.
func (c *Configurator) AddHostEntry(domain string) (bool, error) {
	domain = strings.ToLower(domain)
	content, mode, err := readHosts(c.cfg.HostsFile)
	if err != nil {
		return false, err
	}

	re := hostPattern(domain)
	for _, line := range splitLines(content) {
		if re.MatchString(strings.TrimRight(line, "\r\n")) {
			return false, nil
		}
	}

	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += fmt.Sprintf(hostsLine, domain)
	if err := os.WriteFile(c.cfg.HostsFile, []byte(content), mode); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", c.cfg.HostsFile, err)
	}
	c.logger.Info("added hosts entry", "domain", domain)
	return true, nil
}

// RemoveHostEntry deletes every line ending with domain. It reports whether the
// file changed.
func (c *Configurator) RemoveHostEntry(domain string) (bool, error) {
	domain = strings.ToLower(domain)
	content, mode, err := readHosts(c.cfg.HostsFile)
	if err != nil {
		return false, err
	}

	re := hostPattern(domain)
	var b strings.Builder
	removed := false
	for _, line := range splitLines(content) {
		if re.MatchString(strings.TrimRight(line, "\r\n")) {
			removed = true
			continue
		}
		b.WriteString(line)
	}
	if !removed {
		c.logger.Debug("no hosts entry to remove", "domain", domain)
		return false, nil
	}

	if err := os.WriteFile(c.cfg.HostsFile, []byte(b.String()), mode); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", c.cfg.HostsFile, err)
	}
	c.logger.Info("removed hosts entry", "domain", domain)
	return true, nil
}

func readHosts(path string) (string, fs.FileMode, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", 0o644, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), info.Mode().Perm(), nil
}

// splitLines splits s after each newline, keeping terminators.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.SplitAfter(s, "\n")
}
