// Package provision prepares the host VM and site containers.
package provision

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/clean-dependency-project/sitectl/internal/apt"
	"github.com/clean-dependency-project/sitectl/internal/endoflife"
	"github.com/clean-dependency-project/sitectl/internal/lxc"
	"github.com/clean-dependency-project/sitectl/internal/nginx"
	"github.com/clean-dependency-project/sitectl/internal/platform"
	"github.com/clean-dependency-project/sitectl/internal/shell"
)

//go:embed stubs
var stubs embed.FS

// Config controls host provisioning.
type Config struct {
	OSRelease     string // os-release path; platform.DefaultOSReleasePath when empty
	MinUbuntu     string // oldest supported Ubuntu release
	SwapFile      string
	SwapSize      string
	FstabFile     string
	SysctlFile    string
	FirewallPorts []int
	SSHKey        string // private key generated when missing
	AptConfDir    string // unattended upgrade settings are written here
	PreseedFile   string // lxd init preseed; built-in when empty
	ZFSPool       string
	BaseContainer string // launched at the end of host provisioning; skipped when empty
	PHPVersion    string
	Directories   []string // created on the host, e.g. sites root and backups
}

// DefaultConfig returns the stock Ubuntu layout.
func DefaultConfig() Config {
	return Config{
		OSRelease:     platform.DefaultOSReleasePath,
		MinUbuntu:     "20.04",
		SwapFile:      "/swapfile",
		SwapSize:      "1G",
		FstabFile:     "/etc/fstab",
		SysctlFile:    "/etc/sysctl.conf",
		FirewallPorts: []int{22, 80, 443},
		SSHKey:        "/root/.ssh/id_rsa",
		AptConfDir:    "/etc/apt/apt.conf.d",
		ZFSPool:       "default",
		BaseContainer: "base",
		PHPVersion:    "8.1",
	}
}

// LifecycleChecker looks up the support status of a product release.
// *endoflife.Client implements it.
type LifecycleChecker interface {
	Cycle(ctx context.Context, product, cycle string) (*endoflife.Release, error)
}

// Provisioner runs the host and container setup sequences.
type Provisioner struct {
	exec       *shell.Executor
	packages   *apt.Installer
	containers *lxc.Manager
	web        *nginx.Configurator
	lifecycle  LifecycleChecker
	cfg        Config
	logger     *slog.Logger
}

// New creates a provisioner, filling unset config from DefaultConfig.
func New(exec *shell.Executor, packages *apt.Installer, containers *lxc.Manager, web *nginx.Configurator, cfg Config, logger *slog.Logger) *Provisioner {
	def := DefaultConfig()
	if cfg.OSRelease == "" {
		cfg.OSRelease = def.OSRelease
	}
	if cfg.SwapFile == "" {
		cfg.SwapFile = def.SwapFile
	}
	if cfg.SwapSize == "" {
		cfg.SwapSize = def.SwapSize
	}
	if cfg.FstabFile == "" {
		cfg.FstabFile = def.FstabFile
	}
	if cfg.SysctlFile == "" {
		cfg.SysctlFile = def.SysctlFile
	}
	if cfg.FirewallPorts == nil {
		cfg.FirewallPorts = def.FirewallPorts
	}
	if cfg.SSHKey == "" {
		cfg.SSHKey = def.SSHKey
	}
	if cfg.AptConfDir == "" {
		cfg.AptConfDir = def.AptConfDir
	}
	if cfg.ZFSPool == "" {
		cfg.ZFSPool = def.ZFSPool
	}
	if cfg.PHPVersion == "" {
		cfg.PHPVersion = def.PHPVersion
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		exec:       exec,
		packages:   packages,
		containers: containers,
		web:        web,
		cfg:        cfg,
		logger:     logger,
	}
}

// WithLifecycle enables the end-of-life warnings for the host OS and the
// configured PHP release.
func (p *Provisioner) WithLifecycle(checker LifecycleChecker) *Provisioner {
	p.lifecycle = checker
	return p
}

// CheckLifecycle warns when the Ubuntu or PHP release no longer receives
// updates. Lookup failures are logged and never fail provisioning.
func (p *Provisioner) CheckLifecycle(ctx context.Context, rel platform.Release) []endoflife.Release {
	if p.lifecycle == nil {
		return nil
	}
	var expired []endoflife.Release
	for _, c := range []struct{ product, cycle string }{
		{"ubuntu", rel.VersionID},
		{"php", p.cfg.PHPVersion},
	} {
		r, err := p.lifecycle.Cycle(ctx, c.product, c.cycle)
		if err != nil {
			p.logger.Warn("lifecycle lookup failed", "product", c.product, "cycle", c.cycle, "error", err)
			continue
		}
		if r.IsEOL {
			p.logger.Warn("release is end of life", "product", c.product, "cycle", c.cycle, "eol", r.EOL())
			expired = append(expired, *r)
			continue
		}
		p.logger.Debug("release lifecycle", "product", c.product, "cycle", c.cycle, "status", r.Status())
	}
	return expired
}

// CheckPlatform fails unless the host runs a supported Ubuntu release.
func (p *Provisioner) CheckPlatform() (platform.Release, error) {
	rel, err := platform.Detect(p.cfg.OSRelease)
	if err != nil {
		return rel, err
	}
	return rel, platform.RequireUbuntu(rel, p.cfg.MinUbuntu)
}

// Host provisions the VM: packages, firewall, ssh key, swap, unattended
// upgrades, host nginx, ZFS and LXD, then launches the base container.
// Every step is skipped when its probe says it is already done.
func (p *Provisioner) Host(ctx context.Context) error {
	rel, err := p.CheckPlatform()
	if err != nil {
		return err
	}
	p.logger.Info("provisioning host", "os", rel.String())
	p.CheckLifecycle(ctx, rel)

	host := shell.Host()
	steps := []struct {
		name string
		run  func() error
	}{
		{"update packages", func() error {
			if err := p.packages.Update(ctx, host); err != nil {
				return err
			}
			return p.packages.Upgrade(ctx, host)
		}},
		{"install base packages", func() error {
			if err := p.packages.InstallOrFail(ctx, "software-properties-common", nil, host); err != nil {
				return err
			}
			return p.packages.EnsureInstalled(ctx, "vim", nil, host)
		}},
		{"install nginx", func() error { return p.packages.EnsureNginx(ctx, host) }},
		{"enable firewall", func() error { return p.EnableFirewall(ctx) }},
		{"generate ssh key", func() error { return p.EnsureSSHKey(ctx) }},
		{"create swap file", func() error { return p.CreateSwapFile(ctx) }},
		{"configure unattended upgrades", p.UnattendedUpgrades},
		{"configure nginx", func() error {
			if err := p.web.TweakConfig(); err != nil {
				return err
			}
			if err := p.web.AddCatchAll(); err != nil {
				return err
			}
			return p.web.RemoveDefault()
		}},
		{"create directories", p.createDirectories},
		{"install zfs", func() error {
			installed, err := p.packages.Installed(ctx, "zpool", host)
			if err != nil || installed {
				return err
			}
			return p.packages.InstallOrFail(ctx, "zfsutils-linux", nil, host)
		}},
		{"initialize lxd", func() error { return p.InitLXD(ctx) }},
		{"launch base container", func() error { return p.launchBase(ctx) }},
	}

	for _, s := range steps {
		p.logger.Info("running step", "step", s.name)
		if err := s.run(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	p.web.Reload(ctx)
	p.logger.Info("host provisioned")
	return nil
}

// EnableFirewall allows the configured ports and enables ufw.
func (p *Provisioner) EnableFirewall(ctx context.Context) error {
	host := shell.Host()
	if err := p.packages.EnsureInstalled(ctx, "ufw", nil, host); err != nil {
		return err
	}
	for _, port := range p.cfg.FirewallPorts {
		if _, err := p.exec.Must(ctx, host, shell.New("ufw", "allow", strconv.Itoa(port)).Silent()); err != nil {
			return err
		}
	}
	_, err := p.exec.Must(ctx, host, shell.New("ufw", "--force", "enable").Silent())
	return err
}

// EnsureSSHKey generates an RSA key pair unless the private key exists.
func (p *Provisioner) EnsureSSHKey(ctx context.Context) error {
	if exists(p.cfg.SSHKey) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.cfg.SSHKey), 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(p.cfg.SSHKey), err)
	}
	_, err := p.exec.Must(ctx, shell.Host(), shell.New("ssh-keygen", "-q", "-t", "rsa", "-N", "", "-f", p.cfg.SSHKey).Silent())
	return err
}

// CreateSwapFile creates and enables a swap file unless one exists, then
// makes it permanent and tunes the swap sysctls.
func (p *Provisioner) CreateSwapFile(ctx context.Context) error {
	if exists(p.cfg.SwapFile) {
		p.logger.Info("swap file already present", "path", p.cfg.SwapFile)
		return nil
	}
	host := shell.Host()
	for _, cmd := range []shell.Command{
		shell.New("fallocate", "-l", p.cfg.SwapSize, p.cfg.SwapFile),
		shell.New("chmod", "600", p.cfg.SwapFile),
		shell.New("mkswap", p.cfg.SwapFile),
		shell.New("swapon", p.cfg.SwapFile),
	} {
		if _, err := p.exec.Must(ctx, host, cmd.Silent()); err != nil {
			return err
		}
	}
	if err := appendLine(p.cfg.FstabFile, p.cfg.SwapFile+" none swap sw 0 0"); err != nil {
		return err
	}
	for _, line := range []string{"vm.swappiness=30", "vm.vfs_cache_pressure=50"} {
		if err := appendLine(p.cfg.SysctlFile, line); err != nil {
			return err
		}
	}
	return nil
}

// UnattendedUpgrades installs the apt periodic and unattended upgrade settings.
func (p *Provisioner) UnattendedUpgrades() error {
	if err := os.MkdirAll(p.cfg.AptConfDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", p.cfg.AptConfDir, err)
	}
	for _, name := range []string{"50unattended-upgrades", "10periodic"} {
		data, err := fs.ReadFile(stubs, "stubs/apt/"+name)
		if err != nil {
			return err
		}
		dest := filepath.Join(p.cfg.AptConfDir, name)
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", dest, err)
		}
	}
	return nil
}

// Preseed returns the lxd init document with the storage pool substituted.
func (p *Provisioner) Preseed() (string, error) {
	var (
		data []byte
		err  error
	)
	if p.cfg.PreseedFile != "" {
		data, err = os.ReadFile(p.cfg.PreseedFile)
	} else {
		data, err = fs.ReadFile(stubs, "stubs/lxd.yaml")
	}
	if err != nil {
		return "", fmt.Errorf("failed to read lxd preseed: %w", err)
	}
	return strings.ReplaceAll(string(data), "{pool}", p.cfg.ZFSPool), nil
}

// InitLXD configures the LXD daemon from the preseed.
func (p *Provisioner) InitLXD(ctx context.Context) error {
	preseed, err := p.Preseed()
	if err != nil {
		return err
	}
	return p.containers.Init(ctx, preseed)
}

func (p *Provisioner) launchBase(ctx context.Context) error {
	name := p.cfg.BaseContainer
	if name == "" {
		return nil
	}
	ok, err := p.containers.Exists(ctx, name)
	if err != nil {
		return err
	}
	if ok {
		p.logger.Info("base container already exists", "container", name)
		return nil
	}
	ip, err := p.containers.Launch(ctx, name)
	if err != nil {
		return err
	}
	p.logger.Info("base container launched", "container", name, "ip", ip)
	return nil
}

func (p *Provisioner) createDirectories() error {
	for _, dir := range p.cfg.Directories {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Container makes a site container ready for WordPress: it must exist, is
// started when stopped, and gets nginx, PHP, MySQL and WP-CLI plus the
// container nginx configuration. An empty php selects the configured release.
func (p *Provisioner) Container(ctx context.Context, name, php string) error {
	if php == "" {
		php = p.cfg.PHPVersion
	}
	if err := apt.ValidatePHPVersion(php); err != nil {
		return err
	}
	state, err := p.containers.State(ctx, name)
	if err != nil {
		return err
	}
	switch state {
	case lxc.StateAbsent:
		return fmt.Errorf("%w: %s", lxc.ErrContainerNotFound, name)
	case lxc.StateStopped:
		p.logger.Info("container stopped, starting", "container", name)
		if err := p.containers.Start(ctx, name); err != nil {
			return err
		}
	}

	target := p.containers.Target(name)
	if err := p.packages.Update(ctx, target); err != nil {
		return err
	}
	if err := p.packages.EnsureNginx(ctx, target); err != nil {
		return err
	}
	if err := p.packages.EnsurePHP(ctx, php, target); err != nil {
		return err
	}
	if err := p.packages.EnsureMySQL(ctx, target); err != nil {
		return err
	}
	if err := p.packages.EnsureWPCLI(ctx, target); err != nil {
		return err
	}
	if err := p.web.ConfigureContainer(ctx, p.containers, name, php); err != nil {
		return err
	}
	p.logger.Info("container provisioned", "container", name, "php", php)
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// appendLine appends line to path unless an identical line is present.
func appendLine(path, line string) error {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) == line {
			return nil
		}
	}
	prefix := ""
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		prefix = "\n"
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	if _, err := f.WriteString(prefix + line + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
