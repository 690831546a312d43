// Package site orchestrates the lifecycle of a site: creation, domain and
// certificate changes, backups, exports and deletion. Each operation drives
// the container, web server, CMS and registry components in a fixed order.
package site

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clean-dependency-project/sitectl/internal/apt"
	"github.com/clean-dependency-project/sitectl/internal/bundle"
	"github.com/clean-dependency-project/sitectl/internal/catalog"
	"github.com/clean-dependency-project/sitectl/internal/config"
	"github.com/clean-dependency-project/sitectl/internal/export"
	"github.com/clean-dependency-project/sitectl/internal/lxc"
	"github.com/clean-dependency-project/sitectl/internal/nginx"
	"github.com/clean-dependency-project/sitectl/internal/registry"
	"github.com/clean-dependency-project/sitectl/internal/shell"
	"github.com/clean-dependency-project/sitectl/internal/storage"
	"github.com/clean-dependency-project/sitectl/internal/wordpress"
)

// Sentinel errors
var (
	ErrEmptyDomain   = errors.New("domain must not be empty")
	ErrSiteExists    = errors.New("site already exists")
	ErrSiteNotFound  = errors.New("site is not registered")
	ErrNotWordPress  = errors.New("operation requires a WordPress site")
	ErrUnknownType   = errors.New("unknown site type")
	ErrEmailRequired = errors.New("email is required")
)

// Site types
const (
	TypeStatic    = "static"
	TypeWordPress = "wp"
)

// Journal records operations and backups. *storage.DB implements it.
type Journal interface {
	StartEvent(domain, operation, detail string) (*storage.Event, error)
	FinishEvent(id uint, opErr error) error
	RecordBackup(backup *storage.Backup) error
}

// ContainerProvisioner prepares a container for WordPress.
type ContainerProvisioner interface {
	Container(ctx context.Context, name, php string) error
}

// Bundles stages the extension bundle. *bundle.Fetcher implements it.
type Bundles interface {
	Enabled() bool
	Fetch(ctx context.Context, name string) (*bundle.Bundle, error)
}

// Exporter produces static exports. *export.Exporter implements it.
type Exporter interface {
	Export(ctx context.Context, opts export.Options) (*export.Result, error)
}

// Deps are the components a Manager drives. Catalog, Bundles, Exporter and
// Journal are optional.
type Deps struct {
	Exec        *shell.Executor
	Packages    *apt.Installer
	Containers  *lxc.Manager
	Web         *nginx.Configurator
	WordPress   *wordpress.Installer
	Registry    *registry.Registry
	Provisioner ContainerProvisioner
	Catalog     catalog.Client
	Bundles     Bundles
	Exporter    Exporter
	Journal     Journal
}

// Manager runs site operations. It keeps no state between calls; every
// operation re-reads the registry and re-resolves containers by name.
type Manager struct {
	Deps
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewManager creates a manager.
func NewManager(cfg *config.Config, deps Deps, logger *slog.Logger) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		Deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

func normalize(domain string) (string, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return "", ErrEmptyDomain
	}
	return domain, nil
}

// record journals one operation around fn. Journal failures are logged and
// never fail the operation.
func (m *Manager) record(domain, operation, detail string, fn func() error) error {
	if m.Journal == nil {
		return fn()
	}
	event, err := m.Journal.StartEvent(domain, operation, detail)
	if err != nil {
		m.logger.Warn("failed to journal operation", "domain", domain, "operation", operation, "error", err)
		return fn()
	}
	opErr := fn()
	if err := m.Journal.FinishEvent(event.ID, opErr); err != nil {
		m.logger.Warn("failed to finish journal event", "id", event.ID, "error", err)
	}
	return opErr
}

// lookup returns the registry entry for domain or ErrSiteNotFound.
func (m *Manager) lookup(domain string) (registry.Entry, error) {
	entry, ok, err := m.Registry.Get(domain)
	if err != nil {
		return entry, err
	}
	if !ok {
		return entry, fmt.Errorf("%w: %s", ErrSiteNotFound, domain)
	}
	return entry, nil
}

// Init writes an empty registry document unless one exists and records when
// the host was provisioned.
func (m *Manager) Init() error {
	if err := m.Registry.EnsureExists(); err != nil {
		return err
	}
	return m.Registry.UpdateKey("provisioned_at", m.now().UTC().Format(time.RFC3339))
}

// List returns the registered sites keyed by domain, with the sorted domains.
func (m *Manager) List() ([]string, map[string]registry.Entry, error) {
	doc, err := m.Registry.Read()
	if err != nil {
		return nil, nil, err
	}
	return doc.Domains(), doc.Sites, nil
}
