// Package wordpress installs and maintains WordPress inside a site container
// using wp-cli.
package wordpress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/clean-dependency-project/sitectl/internal/lxc"
	"github.com/clean-dependency-project/sitectl/internal/shell"
)

// Sentinel errors
var (
	ErrMissingDomain    = errors.New("domain is required")
	ErrMissingContainer = errors.New("container is required")
)

// Pipeline steps, in execution order.
const (
	StepCreateDatabase = "create database"
	StepDownloadCore   = "download core"
	StepWriteConfig    = "write configuration"
	StepInstallCore    = "install core"
	StepPermalinks     = "set permalink structure"
	StepRemoveDefaults = "remove default plugins"
	StepInstallPlugins = "install plugins"
	StepInstallThemes  = "install themes"
	StepActivateTheme  = "activate theme"
	StepImportData     = "import data set"
	StepImportBundle   = "import extension bundle"
	StepFixOwnership   = "fix ownership"
)

// StepError reports the pipeline step that halted an installation. Steps
// before it have been applied; nothing is rolled back.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("wordpress install failed at %q: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Config controls where and how WordPress is installed.
type Config struct {
	DocRoot   string // install path inside the container
	WebUser   string // owner of the installed files
	Scheme    string // site URL scheme
	UploadDir string // container directory host files are pushed to
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		DocRoot:   "/var/www/html",
		WebUser:   "www-data",
		Scheme:    "http",
		UploadDir: "/tmp",
	}
}

// Site describes one installation.
type Site struct {
	Domain        string
	Container     string
	Title         string // DefaultTitle(Domain) when empty
	AdminUser     string
	AdminEmail    string
	AdminPassword string

	Credentials Credentials
	Identity    Identity

	Plugins []string // slugs, URLs or host paths to zip archives
	Themes  []string
	Theme   string // activated after Themes are installed
	DataSet string // host path to a WXR export
	Bundle  string // host path to the verified extension bundle archive
}

// Installer runs wp-cli inside containers.
type Installer struct {
	containers *lxc.Manager
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewInstaller creates an installer, filling unset config from DefaultConfig.
func NewInstaller(containers *lxc.Manager, cfg Config, logger *slog.Logger) *Installer {
	def := DefaultConfig()
	if cfg.DocRoot == "" {
		cfg.DocRoot = def.DocRoot
	}
	if cfg.WebUser == "" {
		cfg.WebUser = def.WebUser
	}
	if cfg.Scheme == "" {
		cfg.Scheme = def.Scheme
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = def.UploadDir
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{containers: containers, cfg: cfg, logger: logger, now: time.Now}
}

// wp builds a wp-cli command against the document root.
func (i *Installer) wp(args ...string) shell.Command {
	args = append(args, "--allow-root", "--path="+i.cfg.DocRoot)
	return shell.New("wp", args...)
}

type step struct {
	name string
	skip bool
	run  func(ctx context.Context) error
}

// Install runs the installation pipeline. It stops at the first failing step
// and returns a *StepError naming it.
func (i *Installer) Install(ctx context.Context, site Site) error {
	if site.Domain == "" {
		return ErrMissingDomain
	}
	if site.Container == "" {
		return ErrMissingContainer
	}
	if site.Title == "" {
		site.Title = DefaultTitle(site.Domain)
	}
	name := site.Container

	steps := []step{
		{name: StepCreateDatabase, run: func(ctx context.Context) error {
			_, err := i.containers.Exec(ctx, name, shell.New("mysql").WithStdin(CreateDatabaseSQL(site.Credentials)).Silent())
			return err
		}},
		{name: StepDownloadCore, run: func(ctx context.Context) error {
			_, err := i.containers.Exec(ctx, name, i.wp("core", "download", "--force"))
			return err
		}},
		{name: StepWriteConfig, run: func(ctx context.Context) error {
			rendered, err := RenderConfig(site.Credentials, site.Identity)
			if err != nil {
				return err
			}
			return i.containers.WriteFile(ctx, name, path.Join(i.cfg.DocRoot, "wp-config.php"), rendered, "0640")
		}},
		{name: StepInstallCore, run: func(ctx context.Context) error {
			cmd := i.wp("core", "install",
				"--url="+i.cfg.Scheme+"://"+site.Domain,
				"--title="+site.Title,
				"--admin_user="+site.AdminUser,
				"--admin_email="+site.AdminEmail,
				"--skip-email",
				"--prompt=admin_password",
			).WithStdin(site.AdminPassword)
			_, err := i.containers.Exec(ctx, name, cmd)
			return err
		}},
		{name: StepPermalinks, run: func(ctx context.Context) error {
			_, err := i.containers.Exec(ctx, name, i.wp("rewrite", "structure", "/%postname%/", "--hard"))
			return err
		}},
		{name: StepRemoveDefaults, run: func(ctx context.Context) error {
			_, err := i.containers.Exec(ctx, name, i.wp("plugin", "delete", "akismet", "hello"))
			return err
		}},
		{name: StepInstallPlugins, skip: len(site.Plugins) == 0, run: func(ctx context.Context) error {
			return i.installExtensions(ctx, name, "plugin", site.Plugins, "--activate")
		}},
		{name: StepInstallThemes, skip: len(site.Themes) == 0, run: func(ctx context.Context) error {
			return i.installExtensions(ctx, name, "theme", site.Themes)
		}},
		{name: StepActivateTheme, skip: site.Theme == "", run: func(ctx context.Context) error {
			_, err := i.containers.Exec(ctx, name, i.wp("theme", "activate", site.Theme))
			return err
		}},
		{name: StepImportData, skip: site.DataSet == "", run: func(ctx context.Context) error {
			return i.importData(ctx, name, site.DataSet)
		}},
		{name: StepImportBundle, skip: site.Bundle == "", run: func(ctx context.Context) error {
			return i.installExtensions(ctx, name, "plugin", []string{site.Bundle}, "--activate", "--force")
		}},
		{name: StepFixOwnership, run: func(ctx context.Context) error {
			owner := i.cfg.WebUser + ":" + i.cfg.WebUser
			_, err := i.containers.Exec(ctx, name, shell.New("chown", "-R", owner, i.cfg.DocRoot))
			return err
		}},
	}

	for _, s := range steps {
		if s.skip {
			i.logger.Debug("skipping step", "container", name, "step", s.name)
			continue
		}
		i.logger.Info("running step", "container", name, "step", s.name)
		if err := s.run(ctx); err != nil {
			return &StepError{Step: s.name, Err: err}
		}
	}

	i.logger.Info("wordpress installed", "domain", site.Domain, "container", name)
	return nil
}

// isHostPath reports whether an extension identifier names a local archive
// rather than a slug or URL.
func isHostPath(id string) bool {
	return filepath.IsAbs(id) || strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../")
}

// upload pushes host paths into the container and returns the identifiers
// wp-cli should see.
func (i *Installer) upload(ctx context.Context, container string, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !isHostPath(id) {
			out = append(out, id)
			continue
		}
		dest := path.Join(i.cfg.UploadDir, filepath.Base(id))
		if err := i.containers.PushFile(ctx, container, id, dest); err != nil {
			return nil, err
		}
		out = append(out, dest)
	}
	return out, nil
}

func (i *Installer) installExtensions(ctx context.Context, container, kind string, ids []string, flags ...string) error {
	resolved, err := i.upload(ctx, container, ids)
	if err != nil {
		return err
	}
	args := append([]string{kind, "install"}, resolved...)
	args = append(args, flags...)
	_, err = i.containers.Exec(ctx, container, i.wp(args...))
	return err
}

func (i *Installer) importData(ctx context.Context, container, dataSet string) error {
	files, err := i.upload(ctx, container, []string{dataSet})
	if err != nil {
		return err
	}
	if _, err := i.containers.Exec(ctx, container, i.wp("plugin", "install", "wordpress-importer", "--activate")); err != nil {
		return err
	}
	_, err = i.containers.Exec(ctx, container, i.wp("import", files[0], "--authors=create"))
	return err
}

// Backup exports the site database to a gzip file inside the container,
// pulls it into dir and deletes the container copy. It returns the host path.
// A failure after the export leaves the dump inside the container.
func (i *Installer) Backup(ctx context.Context, container, dir string) (string, error) {
	if container == "" {
		return "", ErrMissingContainer
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create backup directory %s: %w", dir, err)
	}

	file := fmt.Sprintf("%s-%s.sql.gz", container, i.now().Format("2006-01-02"))
	remote := path.Join("/root", file)
	dump := i.wp("db", "export", "-").String() + " | gzip > " + shell.Quote(remote)
	if _, err := i.containers.Exec(ctx, container, shell.Script(dump)); err != nil {
		return "", fmt.Errorf("failed to export database: %w", err)
	}

	hostPath := filepath.Join(dir, file)
	if err := i.containers.PullFile(ctx, container, remote, hostPath); err != nil {
		return "", err
	}
	if err := i.containers.DeleteFile(ctx, container, remote); err != nil {
		return hostPath, err
	}

	i.logger.Info("backup created", "container", container, "path", hostPath)
	return hostPath, nil
}

// SetSiteURL updates the home and siteurl options, e.g. after a certificate
// switches the site to https.
func (i *Installer) SetSiteURL(ctx context.Context, container, url string) error {
	for _, opt := range []string{"home", "siteurl"} {
		if _, err := i.containers.Exec(ctx, container, i.wp("option", "update", opt, url)); err != nil {
			return fmt.Errorf("failed to update %s: %w", opt, err)
		}
	}
	return nil
}
