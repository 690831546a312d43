// Package platform identifies the host operating system from os-release.
package platform

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// DefaultOSReleasePath is where systemd distributions describe themselves.
const DefaultOSReleasePath = "/etc/os-release"

// Sentinel errors
var (
	ErrUnsupportedOS      = errors.New("unsupported operating system")
	ErrUnsupportedRelease = errors.New("unsupported operating system release")
	ErrNoVersion          = errors.New("os-release has no VERSION_ID")
)

// Release describes the running distribution.
type Release struct {
	ID         string // ubuntu, debian
	VersionID  string // 22.04
	Codename   string // jammy
	PrettyName string
}

func (r Release) String() string {
	if r.PrettyName != "" {
		return r.PrettyName
	}
	return strings.TrimSpace(r.ID + " " + r.VersionID)
}

// IsUbuntu reports whether the release is Ubuntu.
func (r Release) IsUbuntu() bool {
	return r.ID == "ubuntu"
}

// Version parses VersionID. Ubuntu's zero padded minor ("22.04") is read as 22.4.
func (r Release) Version() (*semver.Version, error) {
	if r.VersionID == "" {
		return nil, ErrNoVersion
	}
	return parseVersion(r.VersionID)
}

func parseVersion(s string) (*semver.Version, error) {
	parts := strings.Split(s, ".")
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: %w", s, err)
		}
		parts[i] = strconv.FormatUint(n, 10)
	}
	v, err := semver.NewVersion(strings.Join(parts, "."))
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return v, nil
}

// ParseOSRelease reads KEY=value lines in os-release(5) format.
func ParseOSRelease(r io.Reader) (Release, error) {
	var rel Release
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = unquote(value)
		switch key {
		case "ID":
			rel.ID = strings.ToLower(value)
		case "VERSION_ID":
			rel.VersionID = value
		case "VERSION_CODENAME":
			rel.Codename = value
		case "PRETTY_NAME":
			rel.PrettyName = value
		}
	}
	if err := scanner.Err(); err != nil {
		return Release{}, fmt.Errorf("failed to read os-release: %w", err)
	}
	return rel, nil
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// Detect reads the os-release file at path, or DefaultOSReleasePath when
// path is empty.
func Detect(path string) (Release, error) {
	if path == "" {
		path = DefaultOSReleasePath
	}
	f, err := os.Open(path)
	if err != nil {
		return Release{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return ParseOSRelease(f)
}

// RequireUbuntu fails unless rel is Ubuntu at or above minimum, e.g. "20.04".
// An empty minimum accepts any release.
func RequireUbuntu(rel Release, minimum string) error {
	if !rel.IsUbuntu() {
		return fmt.Errorf("%w: %s (Ubuntu required)", ErrUnsupportedOS, rel)
	}
	if minimum == "" {
		return nil
	}
	have, err := rel.Version()
	if err != nil {
		return err
	}
	want, err := parseVersion(minimum)
	if err != nil {
		return err
	}
	if have.LessThan(want) {
		return fmt.Errorf("%w: %s, need %s or newer", ErrUnsupportedRelease, rel, minimum)
	}
	return nil
}
