// Package apt installs Debian packages on the host or inside containers.
package apt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/clean-dependency-project/sitectl/internal/shell"
)

// Sentinel errors
var (
	ErrInvalidPHPVersion = errors.New("invalid PHP version")
)

// minPHP is the oldest PHP release WordPress installs are provisioned with.
var minPHP = semver.MustParse("7.4")

// InstallError is returned when the package manager rejects an install.
type InstallError struct {
	Package string
	Stderr  string
}

func (e *InstallError) Error() string {
	msg := fmt.Sprintf("installation failed: %s", e.Package)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Installer ensures packages are present on a target.
type Installer struct {
	exec   *shell.Executor
	logger *slog.Logger
}

// NewInstaller creates a package installer.
func NewInstaller(exec *shell.Executor, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{exec: exec, logger: logger}
}

// Installed probes for the package's executable with which.
func (i *Installer) Installed(ctx context.Context, pkg string, target shell.Target) (bool, error) {
	res, err := i.exec.RunQuiet(ctx, target, shell.New("which", pkg))
	if err != nil {
		return false, err
	}
	return res.OK() && strings.TrimSpace(res.Stdout) != "", nil
}

// EnsureInstalled installs pkg unless the presence probe already finds it.
func (i *Installer) EnsureInstalled(ctx context.Context, pkg string, options []string, target shell.Target) error {
	installed, err := i.Installed(ctx, pkg, target)
	if err != nil {
		return err
	}
	if installed {
		i.logger.Info("package already installed", "package", pkg, "target", target.String())
		return nil
	}
	return i.InstallOrFail(ctx, pkg, options, target)
}

// InstallOrFail runs apt-get install and converts a nonzero exit into an InstallError.
func (i *Installer) InstallOrFail(ctx context.Context, pkg string, options []string, target shell.Target) error {
	return i.install(ctx, pkg, target, append([]string{pkg}, options...)...)
}

func (i *Installer) install(ctx context.Context, name string, target shell.Target, pkgs ...string) error {
	i.logger.Info("installing package", "package", name, "target", target.String())
	args := append([]string{"install", "-y"}, pkgs...)
	cmd := shell.New("apt-get", args...)
	_, err := i.exec.RunOrFail(ctx, target, cmd, func(_ shell.Command, res shell.Result) error {
		return &InstallError{Package: name, Stderr: res.Stderr}
	})
	return err
}

// Update refreshes the package index.
func (i *Installer) Update(ctx context.Context, target shell.Target) error {
	if _, err := i.exec.Must(ctx, target, shell.New("apt-get", "update")); err != nil {
		return fmt.Errorf("failed to update package index: %w", err)
	}
	return nil
}

// Upgrade upgrades all installed packages.
func (i *Installer) Upgrade(ctx context.Context, target shell.Target) error {
	if _, err := i.exec.Must(ctx, target, shell.New("apt-get", "upgrade", "-y")); err != nil {
		return fmt.Errorf("failed to upgrade packages: %w", err)
	}
	return nil
}

// addRepository adds a PPA unless a matching sources entry already exists.
func (i *Installer) addRepository(ctx context.Context, ppa string, target shell.Target) error {
	owner, _, _ := strings.Cut(strings.TrimPrefix(ppa, "ppa:"), "/")
	probe := shell.Script("grep -rqs " + shell.Quote(owner) + " /etc/apt/sources.list.d/")
	res, err := i.exec.RunQuiet(ctx, target, probe)
	if err != nil {
		return err
	}
	if res.OK() {
		i.logger.Info("repository already present", "repository", ppa, "target", target.String())
		return nil
	}
	if _, err := i.exec.Must(ctx, target, shell.New("add-apt-repository", "-y", ppa)); err != nil {
		return fmt.Errorf("failed to add repository %s: %w", ppa, err)
	}
	return nil
}

// EnsureNginx installs nginx from the nginx PPA.
func (i *Installer) EnsureNginx(ctx context.Context, target shell.Target) error {
	installed, err := i.Installed(ctx, "nginx", target)
	if err != nil {
		return err
	}
	if installed {
		i.logger.Warn("nginx already installed, skipping", "target", target.String())
		return nil
	}
	if err := i.addRepository(ctx, "ppa:nginx/stable", target); err != nil {
		return err
	}
	if err := i.Update(ctx, target); err != nil {
		return err
	}
	return i.install(ctx, "nginx", target, "nginx")
}

// PHPPackages lists the packages installed for a PHP version.
func PHPPackages(version string) []string {
	exts := []string{"fpm", "cli", "mysql", "curl", "gd", "mbstring", "xml", "zip", "intl"}
	pkgs := make([]string, len(exts))
	for n, ext := range exts {
		pkgs[n] = "php" + version + "-" + ext
	}
	return pkgs
}

// ValidatePHPVersion checks that version is a major.minor release we provision.
func ValidatePHPVersion(version string) error {
	v, err := semver.StrictNewVersion(version + ".0")
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPHPVersion, version)
	}
	if v.LessThan(minPHP) {
		return fmt.Errorf("%w: %s is older than %s", ErrInvalidPHPVersion, version, minPHP)
	}
	return nil
}

// EnsurePHP installs PHP-FPM and the extensions WordPress needs.
func (i *Installer) EnsurePHP(ctx context.Context, version string, target shell.Target) error {
	if err := ValidatePHPVersion(version); err != nil {
		return err
	}
	installed, err := i.Installed(ctx, "php"+version, target)
	if err != nil {
		return err
	}
	if installed {
		i.logger.Warn("php already installed, skipping", "version", version, "target", target.String())
		return nil
	}
	if err := i.addRepository(ctx, "ppa:ondrej/php", target); err != nil {
		return err
	}
	if err := i.Update(ctx, target); err != nil {
		return err
	}
	return i.install(ctx, "php"+version, target, PHPPackages(version)...)
}

// EnsureMySQL installs the MySQL server.
func (i *Installer) EnsureMySQL(ctx context.Context, target shell.Target) error {
	installed, err := i.Installed(ctx, "mysql", target)
	if err != nil {
		return err
	}
	if installed {
		i.logger.Warn("mysql already installed, skipping", "target", target.String())
		return nil
	}
	return i.install(ctx, "mysql", target, "mysql-server")
}

// WPCLIURL is where the WP-CLI phar is downloaded from.
const WPCLIURL = "https://raw.githubusercontent.com/wp-cli/builds/gh-pages/phar/wp-cli.phar"

// EnsureWPCLI installs the wp command.
func (i *Installer) EnsureWPCLI(ctx context.Context, target shell.Target) error {
	installed, err := i.Installed(ctx, "wp", target)
	if err != nil {
		return err
	}
	if installed {
		i.logger.Warn("wp-cli already installed, skipping", "target", target.String())
		return nil
	}
	if err := i.EnsureInstalled(ctx, "curl", nil, target); err != nil {
		return err
	}
	steps := []shell.Command{
		shell.New("curl", "-fsSL", "-o", "/usr/local/bin/wp", WPCLIURL),
		shell.New("chmod", "+x", "/usr/local/bin/wp"),
	}
	for _, cmd := range steps {
		if _, err := i.exec.RunOrFail(ctx, target, cmd, func(_ shell.Command, res shell.Result) error {
			return &InstallError{Package: "wp-cli", Stderr: res.Stderr}
		}); err != nil {
			return err
		}
	}
	return nil
}

// RestartService restarts each service whose executable is installed and
// warns about the rest.
func (i *Installer) RestartService(ctx context.Context, target shell.Target, services ...string) error {
	return i.serviceAction(ctx, target, "restart", services)
}

// StopService stops each installed service.
func (i *Installer) StopService(ctx context.Context, target shell.Target, services ...string) error {
	return i.serviceAction(ctx, target, "stop", services)
}

func (i *Installer) serviceAction(ctx context.Context, target shell.Target, action string, services []string) error {
	for _, svc := range services {
		installed, err := i.Installed(ctx, probeName(svc), target)
		if err != nil {
			return err
		}
		if !installed {
			i.logger.Warn("service not installed", "service", svc, "action", action, "target", target.String())
			continue
		}
		if _, err := i.exec.Must(ctx, target, shell.New("service", svc, action)); err != nil {
			return fmt.Errorf("failed to %s %s: %w", action, svc, err)
		}
	}
	return nil
}

// probeName maps a service name to the executable probed for it.
func probeName(service string) string {
	switch {
	case strings.HasPrefix(service, "php") && strings.HasSuffix(service, "-fpm"):
		return "php-fpm" + strings.TrimSuffix(strings.TrimPrefix(service, "php"), "-fpm")
	case service == "mysql":
		return "mysqld"
	}
	return service
}
