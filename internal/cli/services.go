package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/clean-dependency-project/sitectl/internal/apt"
	"github.com/clean-dependency-project/sitectl/internal/bundle"
	"github.com/clean-dependency-project/sitectl/internal/catalog"
	"github.com/clean-dependency-project/sitectl/internal/config"
	"github.com/clean-dependency-project/sitectl/internal/endoflife"
	"github.com/clean-dependency-project/sitectl/internal/export"
	"github.com/clean-dependency-project/sitectl/internal/lxc"
	"github.com/clean-dependency-project/sitectl/internal/nginx"
	"github.com/clean-dependency-project/sitectl/internal/provision"
	"github.com/clean-dependency-project/sitectl/internal/registry"
	"github.com/clean-dependency-project/sitectl/internal/shell"
	"github.com/clean-dependency-project/sitectl/internal/site"
	"github.com/clean-dependency-project/sitectl/internal/storage"
	"github.com/clean-dependency-project/sitectl/internal/wordpress"
)

// Services are the components a command runs against.
type Services struct {
	Sites       SiteService
	Provisioner Provisioner
	Journal     JournalStore
	Out         io.Writer
	Stdout      *slog.Logger
	Stderr      *slog.Logger

	closers []func() error
}

// Close releases the services.
func (s *Services) Close() error {
	var first error
	for _, fn := range s.closers {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Factory builds the services for a command invocation.
type Factory func(c *cli.Context, cfg *config.Config, stdout, stderr *slog.Logger) (*Services, error)

// initDB opens the operation journal, creating its directory when needed.
func initDB(cfg *config.Config) (*storage.DB, error) {
	path := cfg.Storage.DatabasePath
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return storage.InitDB(storage.Config{
		DatabasePath: path,
		LogLevel:     cfg.Storage.LogLevel,
	})
}

// NewServices wires the real components from configuration.
func NewServices(c *cli.Context, cfg *config.Config, stdout, stderr *slog.Logger) (*Services, error) {
	exec := shell.NewExecutor(shell.NewRealRunner(), c.App.ErrWriter, stdout)
	packages := apt.NewInstaller(exec, stdout)
	containers := lxc.NewManager(exec, lxc.Config{
		Binary:       cfg.Container.Binary,
		Image:        cfg.Container.Image,
		PollInterval: cfg.Container.GetPollInterval(),
		MaxAttempts:  cfg.Container.GetMaxAttempts(),
	}, stdout)
	web := nginx.NewConfigurator(nginx.Config{
		ConfDir:      cfg.Nginx.ConfDir,
		AvailableDir: cfg.Nginx.AvailableDir,
		EnabledDir:   cfg.Nginx.EnabledDir,
		HostsFile:    cfg.Nginx.HostsFile,
		StubDir:      cfg.Nginx.StubDir,
		PHPVersion:   cfg.PHP.Version,
	}, packages, stdout)

	provisioner := provision.New(exec, packages, containers, web, provision.Config{
		SwapSize:      cfg.Provision.SwapSize,
		FirewallPorts: cfg.Provision.FirewallPorts,
		PreseedFile:   cfg.Container.PreseedFile,
		ZFSPool:       cfg.Provision.ZFSPool,
		BaseContainer: cfg.Container.Base,
		PHPVersion:    cfg.PHP.Version,
		Directories:   []string{cfg.Paths.SitesRoot, cfg.Paths.Backups},
	}, stdout)
	if cfg.Provision.LifecycleCheck {
		provisioner.WithLifecycle(endoflife.NewClient(endoflife.Config{BaseURL: cfg.Provision.LifecycleURL}))
	}

	fetcher, err := bundle.New(cfg.Bundle, cfg.Paths.Staging, exec, stdout)
	if err != nil {
		return nil, err
	}

	db, err := initDB(cfg)
	if err != nil {
		return nil, err
	}

	manager := site.NewManager(cfg, site.Deps{
		Exec:       exec,
		Packages:   packages,
		Containers: containers,
		Web:        web,
		WordPress: wordpress.NewInstaller(containers, wordpress.Config{
			DocRoot: cfg.WordPress.DocRoot,
			WebUser: cfg.WordPress.WebUser,
			Scheme:  cfg.WordPress.Scheme,
		}, stdout),
		Registry:    registry.New(cfg.Paths.Registry, stdout),
		Provisioner: provisioner,
		Catalog: catalog.NewClient(catalog.Config{
			Endpoint: cfg.Catalog.Endpoint,
			Key:      cfg.Catalog.APIKey(),
			LocalDir: cfg.Catalog.LocalDir,
			Timeout:  cfg.Catalog.GetTimeout(),
		}),
		Bundles: fetcher,
		Exporter: export.NewExporter(export.Config{
			Concurrency: cfg.Export.Concurrency,
			PagesPath:   cfg.Export.PagesPath,
			Timeout:     cfg.Export.GetTimeout(),
		}, stdout),
		Journal: db,
	}, stdout)

	return &Services{
		Sites:       manager,
		Provisioner: provisioner,
		Journal:     db,
		Out:         c.App.Writer,
		Stdout:      stdout,
		Stderr:      stderr,
		closers:     []func() error{db.Close},
	}, nil
}
