// Package clamav scans staged downloads for malware using ClamAV in Docker.
package clamav

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

	"github.com/clean-dependency-project/sitectl/internal/shell"
)

// Sentinel errors
var (
	ErrDockerUnavailable = errors.New("docker command not available")
	ErrScanFailed        = errors.New("clamscan failed")
	ErrInfected          = errors.New("malware detected")
)

// mountPoint is where the scanned path appears inside the scanner container.
const mountPoint = "/scan"

// Scanner scans files or directories for malware.
type Scanner interface {
	Scan(ctx context.Context, path string) (Result, error)
}

// Result represents the outcome of a malware scan.
type Result struct {
	Clean    bool
	Findings []Finding
	Metadata Metadata
}

// Finding is one infected file.
type Finding struct {
	File      string // host path
	Signature string
}

// Threats returns the signature names of all findings.
func (r Result) Threats() []string {
	names := make([]string, len(r.Findings))
	for i, f := range r.Findings {
		names[i] = f.Signature
	}
	return names
}

// Err returns ErrInfected naming the findings, or nil for a clean result.
func (r Result) Err() error {
	if r.Clean {
		return nil
	}
	parts := make([]string, len(r.Findings))
	for i, f := range r.Findings {
		parts[i] = fmt.Sprintf("%s (%s)", filepath.Base(f.File), f.Signature)
	}
	return fmt.Errorf("%w: %s", ErrInfected, strings.Join(parts, ", "))
}

// Metadata contains information about the scan environment.
type Metadata struct {
	EngineVersion string
	DatabaseDate  string
	ScanDuration  time.Duration
}

// DockerScanner implements Scanner using ClamAV in a Docker container.
type DockerScanner struct {
	exec   *shell.Executor
	image  string
	logger *slog.Logger
}

// NewDockerScanner creates a scanner that runs the ClamAV image through exec.
func NewDockerScanner(exec *shell.Executor, image string, logger *slog.Logger) *DockerScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerScanner{exec: exec, image: image, logger: logger}
}

// Scan scans a file, or a directory recursively. Archives are unpacked by
// clamscan itself.
func (s *DockerScanner) Scan(ctx context.Context, target string) (Result, error) {
	start := time.Now()

	if !s.dockerAvailable(ctx) {
		return Result{}, ErrDockerUnavailable
	}
	if err := s.ensureImage(ctx); err != nil {
		return Result{}, fmt.Errorf("failed to ensure image: %w", err)
	}

	version, err := s.version(ctx)
	if err != nil {
		s.logger.Warn("failed to get ClamAV version", "error", err)
		version = "unknown"
	}

	absPath, err := filepath.Abs(target)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to stat %s: %w", absPath, err)
	}

	s.logger.Info("scanning for malware", "path", absPath, "image", s.image)
	res, err := s.exec.RunQuiet(ctx, shell.Host(), shell.New("docker", buildDockerArgs(s.image, absPath, info.IsDir())...))
	if err != nil {
		return Result{}, fmt.Errorf("failed to run clamscan: %w", err)
	}
	if res.ExitCode > 1 {
		return Result{}, fmt.Errorf("%w: exit code %d: %s", ErrScanFailed, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	result, err := parseResult([]byte(res.Stdout), res.ExitCode, version)
	if err != nil {
		return Result{}, err
	}
	for i := range result.Findings {
		result.Findings[i].File = hostPath(result.Findings[i].File, absPath, info.IsDir())
	}
	result.Metadata.ScanDuration = time.Since(start)

	s.logger.Info("scan finished", "path", absPath, "clean", result.Clean, "duration", result.Metadata.ScanDuration)
	return result, nil
}

func (s *DockerScanner) dockerAvailable(ctx context.Context) bool {
	res, err := s.exec.RunQuiet(ctx, shell.Host(), shell.New("docker", "--version"))
	return err == nil && res.OK()
}

// ensureImage pulls the ClamAV image unless it is present locally.
func (s *DockerScanner) ensureImage(ctx context.Context) error {
	res, err := s.exec.RunQuiet(ctx, shell.Host(), shell.New("docker", "image", "inspect", s.image))
	if err == nil && res.OK() {
		return nil
	}
	if _, err := s.exec.Must(ctx, shell.Host(), shell.New("docker", "pull", s.image).Silent()); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", s.image, err)
	}
	return nil
}

func (s *DockerScanner) version(ctx context.Context) (string, error) {
	res, err := s.exec.Must(ctx, shell.Host(), shell.New("docker", "run", "--rm", s.image, "clamscan", "--version").Silent())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// buildDockerArgs constructs arguments for docker run command.
func buildDockerArgs(image, hostPath string, recursive bool) []string {
	args := []string{
		"run",
		"--rm",
		"--network", "none",
		"-v", fmt.Sprintf("%s:%s:ro", hostPath, mountPoint),
		image,
		"clamscan",
		"--stdout",
		"--infected",
	}
	if recursive {
		args = append(args, "--recursive")
	}
	return append(args, mountPoint)
}

// hostPath maps a path reported by clamscan back to the host.
func hostPath(reported, scanned string, dir bool) string {
	if !dir {
		return scanned
	}
	rel := strings.TrimPrefix(path.Clean(reported), mountPoint)
	return filepath.Join(scanned, filepath.FromSlash(rel))
}
