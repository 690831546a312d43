package site

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clean-dependency-project/sitectl/internal/apt"
	"github.com/clean-dependency-project/sitectl/internal/catalog"
	"github.com/clean-dependency-project/sitectl/internal/lxc"
	"github.com/clean-dependency-project/sitectl/internal/nginx"
	"github.com/clean-dependency-project/sitectl/internal/registry"
	"github.com/clean-dependency-project/sitectl/internal/wordpress"
)

// Options tune WordPress site creation. Zero values fall back to configuration.
type Options struct {
	PHPVersion string // PHP release installed in the container
	Title      string
	AdminUser  string
	AdminEmail string
	Plugins    []string // replace the catalog listing when set
	Themes     []string
	Theme      string
	DataSet    string
	SkipBundle bool
}

// Created describes a new WordPress site. The admin password is only ever
// reported here.
type Created struct {
	Domain        string
	ID            string
	Container     string
	IP            string
	AdminUser     string
	AdminPassword string
	Bundle        string // release tag or path of the imported bundle
}

// Create dispatches on the site type.
func (m *Manager) Create(ctx context.Context, domain, siteType string, opts Options) (*Created, error) {
	switch siteType {
	case TypeStatic:
		return nil, m.CreateStatic(ctx, domain)
	case TypeWordPress:
		return m.CreateWordPress(ctx, domain, opts)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, siteType)
}

func (m *Manager) precondition(domain string) error {
	if m.Web.SiteExists(domain) {
		return fmt.Errorf("%w: %s", ErrSiteExists, domain)
	}
	return nil
}

// CreateStatic creates the site directory with a placeholder index.html,
// enables the static nginx config, maps the domain in the hosts file and
// registers the site.
func (m *Manager) CreateStatic(ctx context.Context, domain string) error {
	domain, err := normalize(domain)
	if err != nil {
		return err
	}
	return m.record(domain, "create", TypeStatic, func() error {
		if err := m.precondition(domain); err != nil {
			return err
		}

		root := m.cfg.Paths.SitePath(domain)
		if err := os.MkdirAll(root, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", root, err)
		}
		index, err := m.Web.Template("static/index.html")
		if err != nil {
			return err
		}
		page := nginx.Substitute(index, map[string]string{"domain": domain})
		if err := os.WriteFile(filepath.Join(root, "index.html"), []byte(page), 0o644); err != nil {
			return fmt.Errorf("failed to write index.html: %w", err)
		}

		if err := m.Web.InstallSite(domain, nginx.KindStatic, map[string]string{"root": root}); err != nil {
			return err
		}
		if _, err := m.Web.AddHostEntry(domain); err != nil {
			return err
		}
		m.Web.Reload(ctx)

		entry := registry.Entry{
			ID:        m.newID(),
			Type:      TypeStatic,
			Root:      root,
			CreatedAt: m.now().UTC(),
		}
		if err := m.Registry.AddSite(domain, entry); err != nil {
			return err
		}
		m.logger.Info("static site created", "domain", domain, "root", root)
		return nil
	})
}

// CreateWordPress obtains a ready container, proxies the domain to it,
// installs WordPress and registers the site. The container is always named
// after the domain; it is an existing one, a clone of the base container, or
// a fresh launch.
func (m *Manager) CreateWordPress(ctx context.Context, domain string, opts Options) (*Created, error) {
	domain, err := normalize(domain)
	if err != nil {
		return nil, err
	}
	var created *Created
	err = m.record(domain, "create", TypeWordPress, func() error {
		var err error
		created, err = m.createWordPress(ctx, domain, opts)
		return err
	})
	return created, err
}

func (m *Manager) createWordPress(ctx context.Context, domain string, opts Options) (*Created, error) {
	if err := m.precondition(domain); err != nil {
		return nil, err
	}
	php := firstNonEmpty(opts.PHPVersion, m.cfg.PHP.Version)
	if err := apt.ValidatePHPVersion(php); err != nil {
		return nil, err
	}
	name := lxc.NameByDomain(domain)

	ip, err := m.obtainContainer(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := m.Provisioner.Container(ctx, name, php); err != nil {
		return nil, err
	}

	if err := m.Web.InstallSite(domain, nginx.KindWPProxy, map[string]string{"ip": ip}); err != nil {
		return nil, err
	}
	if _, err := m.Web.AddHostEntry(domain); err != nil {
		return nil, err
	}
	m.Web.Reload(ctx)

	site, err := m.siteFor(ctx, domain, name, opts)
	if err != nil {
		return nil, err
	}

	created := &Created{
		Domain:        domain,
		ID:            site.Identity.SiteID,
		Container:     name,
		IP:            ip,
		AdminUser:     site.AdminUser,
		AdminPassword: site.AdminPassword,
	}

	if m.Bundles != nil && m.Bundles.Enabled() && !opts.SkipBundle {
		b, err := m.Bundles.Fetch(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch extension bundle: %w", err)
		}
		defer func() {
			if err := b.Cleanup(); err != nil {
				m.logger.Warn("failed to clean up bundle", "error", err)
			}
		}()
		site.Bundle = b.Path
		created.Bundle = b.Path
		if b.Release != "" {
			created.Bundle = b.Release
		}
	}

	if err := m.WordPress.Install(ctx, site); err != nil {
		return nil, err
	}

	entry := registry.Entry{
		ID:         site.Identity.SiteID,
		Type:       TypeWordPress,
		PHPVersion: php,
		Plugins:    site.Plugins,
		Themes:     site.Themes,
		SiteKey:    site.Identity.SiteKey,
		CreatedAt:  m.now().UTC(),
	}
	if err := m.Registry.AddSite(domain, entry); err != nil {
		return nil, err
	}
	m.logger.Info("wordpress site created", "domain", domain, "container", name, "ip", ip)
	return created, nil
}

// obtainContainer returns the address of a running container called name,
// reusing, cloning or launching it.
func (m *Manager) obtainContainer(ctx context.Context, name string) (string, error) {
	exists, err := m.Containers.Exists(ctx, name)
	if err != nil {
		return "", err
	}
	if exists {
		m.logger.Info("using existing container", "container", name)
		if err := m.Containers.Start(ctx, name); err != nil {
			return "", err
		}
		return m.Containers.WaitForIP(ctx, name)
	}

	if base := m.cfg.Container.Base; base != "" && base != name {
		ip, err := m.Containers.Clone(ctx, base, name)
		if err == nil {
			return ip, nil
		}
		if !errors.Is(err, lxc.ErrContainerNotFound) {
			return "", err
		}
		m.logger.Warn("base container missing, launching a fresh one", "base", base)
	}
	return m.Containers.Launch(ctx, name)
}

// siteFor assembles the installation request: identity, secrets and the
// extensions to install.
func (m *Manager) siteFor(ctx context.Context, domain, container string, opts Options) (wordpress.Site, error) {
	wp := m.cfg.WordPress
	site := wordpress.Site{
		Domain:     domain,
		Container:  container,
		Title:      firstNonEmpty(opts.Title, wp.Title),
		AdminUser:  firstNonEmpty(opts.AdminUser, wp.AdminUser),
		AdminEmail: firstNonEmpty(opts.AdminEmail, wp.AdminEmail),
		Plugins:    opts.Plugins,
		Themes:     opts.Themes,
		Theme:      firstNonEmpty(opts.Theme, wp.Theme),
		DataSet:    firstNonEmpty(opts.DataSet, wp.DataSet),
	}

	creds, err := wordpress.CredentialsFor(container)
	if err != nil {
		return site, err
	}
	site.Credentials = creds
	if site.AdminPassword, err = wordpress.GeneratePassword(20); err != nil {
		return site, err
	}
	key, err := wordpress.GeneratePassword(40)
	if err != nil {
		return site, err
	}
	site.Identity = wordpress.Identity{
		SiteID:    m.newID(),
		SiteKey:   key,
		Debug:     wp.Debug,
		Constants: wp.Constants,
	}

	if site.Plugins == nil {
		if site.Plugins, err = m.listCatalog(ctx, catalog.Plugins); err != nil {
			return site, err
		}
	}
	if site.Themes == nil {
		if site.Themes, err = m.listCatalog(ctx, catalog.Themes); err != nil {
			return site, err
		}
	}
	return site, nil
}

// listCatalog returns catalog identifiers. An unconfigured catalog yields none.
func (m *Manager) listCatalog(ctx context.Context, kind catalog.Kind) ([]string, error) {
	if m.Catalog == nil {
		return nil, nil
	}
	ids, err := m.Catalog.List(ctx, kind)
	if errors.Is(err, catalog.ErrNoEndpoint) {
		m.logger.Warn("catalog not configured, skipping", "kind", string(kind))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	return ids, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
