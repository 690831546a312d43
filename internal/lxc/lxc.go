// Package lxc manages LXD system containers through the lxc command line.
package lxc

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/clean-dependency-project/sitectl/internal/shell"
)

// Sentinel errors
var (
	ErrContainerExists   = errors.New("container already exists")
	ErrContainerNotFound = errors.New("container does not exist")
	ErrNoAddressYet      = errors.New("container has no IPv4 address yet")
	ErrNoAddress         = errors.New("provisioning failed: no address assigned")
	ErrRelativePath      = errors.New("container path must be absolute")
)

// State is the lifecycle state of a container.
type State string

const (
	StateAbsent  State = "absent"
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Info describes one container as reported by lxc list.
type Info struct {
	Name  string
	State State
	IPv4  string
}

// Config controls how containers are created and polled.
type Config struct {
	Binary       string        // lxc client binary
	Image        string        // image used by Launch
	PollInterval time.Duration // delay between address lookups
	MaxAttempts  uint64        // address lookups before giving up
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Binary:       "lxc",
		Image:        "ubuntu:22.04",
		PollInterval: time.Second,
		MaxAttempts:  120,
	}
}

// Manager drives container lifecycle. It never caches container state;
// every call asks lxc again.
type Manager struct {
	exec   *shell.Executor
	cfg    Config
	logger *slog.Logger
}

// NewManager creates a container manager, filling unset config from DefaultConfig.
func NewManager(exec *shell.Executor, cfg Config, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.Image == "" {
		cfg.Image = def.Image
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{exec: exec, cfg: cfg, logger: logger}
}

// NameByDomain derives the container name for a site domain.
func NameByDomain(domain string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(strings.ToLower(domain))
}

// Target returns a shell target that runs commands inside the named container.
func (m *Manager) Target(name string) shell.Target {
	return containerTarget{binary: m.cfg.Binary, name: name}
}

type containerTarget struct {
	binary string
	name   string
}

func (c containerTarget) Wrap(cmd shell.Command) shell.Command {
	inner := cmd.Flatten()
	args := append([]string{"exec", c.name, "--"}, inner.Argv()...)
	return shell.Command{Tool: c.binary, Args: args, Stdin: inner.Stdin, Quiet: inner.Quiet}
}

func (c containerTarget) String() string {
	return "container:" + c.name
}

func (m *Manager) lxc(args ...string) shell.Command {
	return shell.New(m.cfg.Binary, args...)
}

// List returns all containers.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	return m.list(ctx)
}

func (m *Manager) list(ctx context.Context, filter ...string) ([]Info, error) {
	args := append([]string{"list", "--format", "csv", "-c", "ns4"}, filter...)
	res, err := m.exec.Must(ctx, shell.Host(), m.lxc(args...).Silent())
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	return parseList(res.Stdout)
}

// parseList parses `lxc list --format csv -c ns4` output.
func parseList(output string) ([]Info, error) {
	r := csv.NewReader(strings.NewReader(output))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse container list: %w", err)
	}

	infos := make([]Info, 0, len(records))
	for _, rec := range records {
		if len(rec) < 2 {
			continue
		}
		info := Info{Name: rec[0], State: StateStopped}
		if strings.EqualFold(rec[1], "RUNNING") {
			info.State = StateRunning
		}
		if len(rec) > 2 {
			info.IPv4 = firstIPv4(rec[2])
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// firstIPv4 returns the first valid IPv4 literal in an address column such as
// "10.0.3.15 (eth0)".
func firstIPv4(column string) string {
	for _, line := range strings.Split(column, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if ip := net.ParseIP(fields[0]); ip != nil && ip.To4() != nil {
			return ip.String()
		}
	}
	return ""
}

func (m *Manager) info(ctx context.Context, name string) (Info, error) {
	infos, err := m.list(ctx, "^"+name+"$")
	if err != nil {
		return Info{}, err
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return Info{Name: name, State: StateAbsent}, nil
}

// State returns the lifecycle state of the named container.
func (m *Manager) State(ctx context.Context, name string) (State, error) {
	info, err := m.info(ctx, name)
	return info.State, err
}

// Exists reports whether the named container exists.
func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	state, err := m.State(ctx, name)
	if err != nil {
		return false, err
	}
	return state != StateAbsent, nil
}

// IsRunning reports whether the named container is running.
func (m *Manager) IsRunning(ctx context.Context, name string) (bool, error) {
	state, err := m.State(ctx, name)
	if err != nil {
		return false, err
	}
	return state == StateRunning, nil
}

// GetIP returns the container's IPv4 address, or ErrNoAddressYet.
func (m *Manager) GetIP(ctx context.Context, name string) (string, error) {
	info, err := m.info(ctx, name)
	if err != nil {
		return "", err
	}
	if info.State == StateAbsent {
		return "", fmt.Errorf("%w: %s", ErrContainerNotFound, name)
	}
	if info.IPv4 == "" {
		return "", ErrNoAddressYet
	}
	return info.IPv4, nil
}

// WaitForIP polls for the container's address at a constant interval until one
// is assigned or the attempts run out.
func (m *Manager) WaitForIP(ctx context.Context, name string) (string, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.cfg.PollInterval), m.cfg.MaxAttempts-1),
		ctx,
	)

	lookup := func() (string, error) {
		ip, err := m.GetIP(ctx, name)
		if err != nil && !errors.Is(err, ErrNoAddressYet) {
			return "", backoff.Permanent(err)
		}
		return ip, err
	}
	notify := func(err error, next time.Duration) {
		m.logger.Debug("waiting for container address", "container", name, "retry_in", next)
	}

	ip, err := backoff.RetryNotifyWithData(lookup, policy, notify)
	if errors.Is(err, ErrNoAddressYet) {
		return "", fmt.Errorf("%w: %s after %d attempts", ErrNoAddress, name, m.cfg.MaxAttempts)
	}
	if err != nil {
		return "", err
	}
	m.logger.Info("container address assigned", "container", name, "ip", ip)
	return ip, nil
}

// Launch creates and starts a container from the configured image and waits
// for its address. It fails before any mutation when the name is taken.
func (m *Manager) Launch(ctx context.Context, name string) (string, error) {
	exists, err := m.Exists(ctx, name)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("%w: %s", ErrContainerExists, name)
	}

	m.logger.Info("launching container", "container", name, "image", m.cfg.Image)
	if _, err := m.exec.Must(ctx, shell.Host(), m.lxc("launch", m.cfg.Image, name)); err != nil {
		return "", fmt.Errorf("failed to launch container %s: %w", name, err)
	}
	return m.WaitForIP(ctx, name)
}

// Clone copies source into a new container, starts it and waits for its address.
func (m *Manager) Clone(ctx context.Context, source, name string) (string, error) {
	exists, err := m.Exists(ctx, name)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("%w: %s", ErrContainerExists, name)
	}
	srcExists, err := m.Exists(ctx, source)
	if err != nil {
		return "", err
	}
	if !srcExists {
		return "", fmt.Errorf("%w: %s", ErrContainerNotFound, source)
	}

	m.logger.Info("cloning container", "source", source, "container", name)
	if _, err := m.exec.Must(ctx, shell.Host(), m.lxc("copy", source, name)); err != nil {
		return "", fmt.Errorf("failed to copy container %s: %w", source, err)
	}
	if _, err := m.exec.Must(ctx, shell.Host(), m.lxc("start", name)); err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", name, err)
	}
	return m.WaitForIP(ctx, name)
}

// Start starts a stopped container. Starting a running container is a no-op.
func (m *Manager) Start(ctx context.Context, name string) error {
	state, err := m.State(ctx, name)
	if err != nil {
		return err
	}
	switch state {
	case StateAbsent:
		return fmt.Errorf("%w: %s", ErrContainerNotFound, name)
	case StateRunning:
		return nil
	}
	if _, err := m.exec.Must(ctx, shell.Host(), m.lxc("start", name)); err != nil {
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}
	return nil
}

// Stop stops a running container. Stopping a stopped container is a no-op.
func (m *Manager) Stop(ctx context.Context, name string) error {
	state, err := m.State(ctx, name)
	if err != nil {
		return err
	}
	switch state {
	case StateAbsent:
		return fmt.Errorf("%w: %s", ErrContainerNotFound, name)
	case StateStopped:
		return nil
	}
	if _, err := m.exec.Must(ctx, shell.Host(), m.lxc("stop", name)); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	return nil
}

// Remove stops and deletes the container. A missing container is not an error.
func (m *Manager) Remove(ctx context.Context, name string) error {
	state, err := m.State(ctx, name)
	if err != nil {
		return err
	}
	if state == StateAbsent {
		m.logger.Info("container already absent", "container", name)
		return nil
	}
	if state == StateRunning {
		if _, err := m.exec.Must(ctx, shell.Host(), m.lxc("stop", name)); err != nil {
			return fmt.Errorf("failed to stop container %s: %w", name, err)
		}
	}
	if _, err := m.exec.Must(ctx, shell.Host(), m.lxc("delete", name)); err != nil {
		return fmt.Errorf("failed to delete container %s: %w", name, err)
	}
	m.logger.Info("container removed", "container", name)
	return nil
}

// Exec runs cmd inside the container and fails on a nonzero exit.
func (m *Manager) Exec(ctx context.Context, name string, cmd shell.Command) (shell.Result, error) {
	return m.exec.Must(ctx, m.Target(name), cmd)
}

// Probe runs cmd inside the container and reports the exit status without failing.
func (m *Manager) Probe(ctx context.Context, name string, cmd shell.Command) (shell.Result, error) {
	return m.exec.RunQuiet(ctx, m.Target(name), cmd)
}

func containerPath(name, p string) (string, error) {
	if !path.IsAbs(p) {
		return "", fmt.Errorf("%w: %s", ErrRelativePath, p)
	}
	return name + p, nil
}

// PushFile copies a host file into the container.
func (m *Manager) PushFile(ctx context.Context, name, hostPath, dest string) error {
	remote, err := containerPath(name, dest)
	if err != nil {
		return err
	}
	if _, err := m.exec.Must(ctx, shell.Host(), m.lxc("file", "push", hostPath, remote)); err != nil {
		return fmt.Errorf("failed to push %s: %w", hostPath, err)
	}
	return nil
}

// WriteFile writes content to dest inside the container. The content travels
// on stdin, never on the command line.
func (m *Manager) WriteFile(ctx context.Context, name, dest, content, mode string) error {
	if !path.IsAbs(dest) {
		return fmt.Errorf("%w: %s", ErrRelativePath, dest)
	}
	script := "cat > " + shell.Quote(dest)
	if mode != "" {
		script += " && chmod " + shell.Quote(mode) + " " + shell.Quote(dest)
	}
	if _, err := m.Exec(ctx, name, shell.Script(script).WithStdin(content).Silent()); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return nil
}

// PullFile copies a file out of the container to hostPath.
func (m *Manager) PullFile(ctx context.Context, name, src, hostPath string) error {
	remote, err := containerPath(name, src)
	if err != nil {
		return err
	}
	if _, err := m.exec.Must(ctx, shell.Host(), m.lxc("file", "pull", remote, hostPath)); err != nil {
		return fmt.Errorf("failed to pull %s: %w", src, err)
	}
	return nil
}

// DeleteFile removes a file inside the container.
func (m *Manager) DeleteFile(ctx context.Context, name, p string) error {
	remote, err := containerPath(name, p)
	if err != nil {
		return err
	}
	if _, err := m.exec.Must(ctx, shell.Host(), m.lxc("file", "delete", remote)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", p, err)
	}
	return nil
}

// RestartService restarts a service inside the container.
func (m *Manager) RestartService(ctx context.Context, name, service string) error {
	if _, err := m.Exec(ctx, name, shell.New("service", service, "restart")); err != nil {
		return fmt.Errorf("failed to restart %s in %s: %w", service, name, err)
	}
	return nil
}

// Init configures the LXD daemon from a preseed document.
func (m *Manager) Init(ctx context.Context, preseed string) error {
	if _, err := m.exec.Must(ctx, shell.Host(), shell.New("lxd", "init", "--preseed").WithStdin(preseed)); err != nil {
		return fmt.Errorf("failed to initialize lxd: %w", err)
	}
	return nil
}
