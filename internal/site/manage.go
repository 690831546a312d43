package site

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/clean-dependency-project/sitectl/internal/config"
	"github.com/clean-dependency-project/sitectl/internal/export"
	"github.com/clean-dependency-project/sitectl/internal/lxc"
	"github.com/clean-dependency-project/sitectl/internal/nginx"
	"github.com/clean-dependency-project/sitectl/internal/registry"
	"github.com/clean-dependency-project/sitectl/internal/shell"
	"github.com/clean-dependency-project/sitectl/internal/storage"
)

// Delete tears a site down: hosts entry, nginx config, backing container or
// static directory, registry entry. Each piece may already be gone, so a
// repeated delete succeeds.
func (m *Manager) Delete(ctx context.Context, domain string) error {
	domain, err := normalize(domain)
	if err != nil {
		return err
	}
	return m.record(domain, "delete", "", func() error {
		entry, registered, err := m.Registry.Get(domain)
		if err != nil {
			return err
		}

		if _, err := m.Web.RemoveHostEntry(domain); err != nil {
			return err
		}
		for _, extra := range entry.ExtraDomains {
			if _, err := m.Web.RemoveHostEntry(extra); err != nil {
				return err
			}
		}
		if err := m.Web.RemoveSite(domain); err != nil {
			return err
		}

		if entry.Type != TypeStatic {
			if err := m.Containers.Remove(ctx, lxc.NameByDomain(domain)); err != nil {
				return err
			}
		}
		root := entry.Root
		if root == "" {
			root = m.cfg.Paths.SitePath(domain)
		}
		if err := removeDir(root); err != nil {
			return err
		}

		if registered {
			if _, err := m.Registry.RemoveSite(domain); err != nil {
				return err
			}
		}
		m.Web.Reload(ctx)
		m.logger.Info("site deleted", "domain", domain)
		return nil
	})
}

func removeDir(dir string) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return nil
}

// siteKind returns the nginx template and substitutions that render the
// current config of a registered site.
func (m *Manager) siteKind(ctx context.Context, domain string, entry registry.Entry) (nginx.Kind, map[string]string, error) {
	switch entry.Type {
	case TypeStatic:
		root := entry.Root
		if root == "" {
			root = m.cfg.Paths.SitePath(domain)
		}
		return nginx.KindStatic, map[string]string{"root": root}, nil
	case TypeWordPress:
		ip, err := m.Containers.GetIP(ctx, lxc.NameByDomain(domain))
		if err != nil {
			return "", nil, err
		}
		return nginx.KindWPProxy, map[string]string{"ip": ip}, nil
	}
	return "", nil, fmt.Errorf("%w: %q", ErrUnknownType, entry.Type)
}

// UpdateDomain serves the site under additional domains. The new list
// replaces any previous extra domains.
func (m *Manager) UpdateDomain(ctx context.Context, domain string, extra ...string) error {
	domain, err := normalize(domain)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(extra))
	for _, e := range extra {
		if e, err := normalize(e); err == nil && e != domain {
			names = append(names, e)
		}
	}
	return m.record(domain, "update-domain", strings.Join(names, " "), func() error {
		entry, err := m.lookup(domain)
		if err != nil {
			return err
		}
		kind, subs, err := m.siteKind(ctx, domain, entry)
		if err != nil {
			return err
		}
		if err := m.Web.UpdateServerNames(domain, kind, names, subs); err != nil {
			return err
		}
		for _, old := range entry.ExtraDomains {
			if !contains(names, old) {
				if _, err := m.Web.RemoveHostEntry(old); err != nil {
					return err
				}
			}
		}
		for _, name := range names {
			if _, err := m.Web.AddHostEntry(name); err != nil {
				return err
			}
		}
		m.Web.Reload(ctx)
		return m.Registry.UpdateSite(domain, func(e *registry.Entry) {
			e.ExtraDomains = names
		})
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ApplyCertificate obtains a Let's Encrypt certificate with certbot for the
// site and its extra domains. WordPress sites are switched to https.
func (m *Manager) ApplyCertificate(ctx context.Context, domain, email string) error {
	domain, err := normalize(domain)
	if err != nil {
		return err
	}
	if email == "" {
		email = m.cfg.WordPress.AdminEmail
	}
	if email == "" {
		return ErrEmailRequired
	}
	return m.record(domain, "certificate", email, func() error {
		entry, err := m.lookup(domain)
		if err != nil {
			return err
		}

		host := shell.Host()
		if err := m.Packages.EnsureInstalled(ctx, "certbot", []string{"python3-certbot-nginx"}, host); err != nil {
			return err
		}
		args := []string{"--nginx", "--non-interactive", "--agree-tos", "--redirect", "-m", email, "-d", domain}
		for _, extra := range entry.ExtraDomains {
			args = append(args, "-d", extra)
		}
		if _, err := m.Exec.Must(ctx, host, shell.New("certbot", args...)); err != nil {
			return fmt.Errorf("failed to obtain certificate for %s: %w", domain, err)
		}

		if entry.Type == TypeWordPress {
			if err := m.WordPress.SetSiteURL(ctx, lxc.NameByDomain(domain), "https://"+domain); err != nil {
				return err
			}
		}
		m.Web.Reload(ctx)
		return m.Registry.UpdateSite(domain, func(e *registry.Entry) {
			e.Certificate = true
		})
	})
}

// Backup dumps the database of a WordPress site into the backups directory
// and records it in the journal.
func (m *Manager) Backup(ctx context.Context, domain string) (*storage.Backup, error) {
	domain, err := normalize(domain)
	if err != nil {
		return nil, err
	}
	var backup *storage.Backup
	err = m.record(domain, "backup", "", func() error {
		entry, err := m.lookup(domain)
		if err != nil {
			return err
		}
		if entry.Type != TypeWordPress {
			return fmt.Errorf("%w: %s is %s", ErrNotWordPress, domain, entry.Type)
		}

		container := lxc.NameByDomain(domain)
		path, err := m.WordPress.Backup(ctx, container, m.cfg.Paths.Backups)
		if err != nil {
			return err
		}
		backup = &storage.Backup{Domain: domain, Container: container, Path: path, TakenAt: m.now().UTC()}
		if info, err := os.Stat(path); err == nil {
			backup.SizeBytes = info.Size()
		}
		if m.Journal != nil {
			if err := m.Journal.RecordBackup(backup); err != nil {
				m.logger.Warn("failed to record backup", "path", path, "error", err)
			}
		}
		return nil
	})
	return backup, err
}

// Export writes the static rendition of a WordPress site. outputDir defaults
// to {exports}/{domain}.
func (m *Manager) Export(ctx context.Context, domain, outputDir string) (*export.Result, error) {
	domain, err := normalize(domain)
	if err != nil {
		return nil, err
	}
	if outputDir == "" {
		outputDir = filepath.Join(m.cfg.Paths.Exports, domain)
	}
	var result *export.Result
	err = m.record(domain, "export", outputDir, func() error {
		entry, err := m.lookup(domain)
		if err != nil {
			return err
		}
		if entry.Type != TypeWordPress {
			return fmt.Errorf("%w: %s is %s", ErrNotWordPress, domain, entry.Type)
		}

		var exclude config.ExcludeConfig
		if file := m.cfg.Export.ExcludeFile; file != "" {
			if exclude, err = config.LoadExcludeConfig(file); err != nil {
				return err
			}
		}
		scheme := m.cfg.WordPress.Scheme
		if entry.Certificate {
			scheme = "https"
		}
		if scheme == "" {
			scheme = "http"
		}

		result, err = m.Exporter.Export(ctx, export.Options{
			URL:       scheme + "://" + domain,
			Domain:    domain,
			SiteKey:   entry.SiteKey,
			OutputDir: outputDir,
			Exclude:   exclude,
		})
		return err
	})
	return result, err
}
