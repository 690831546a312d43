package cli

import (
	"context"

	"github.com/clean-dependency-project/sitectl/internal/export"
	"github.com/clean-dependency-project/sitectl/internal/registry"
	"github.com/clean-dependency-project/sitectl/internal/site"
	"github.com/clean-dependency-project/sitectl/internal/storage"
)

// SiteService abstracts site operations for testing. *site.Manager implements it.
type SiteService interface {
	// Init prepares the site registry.
	Init() error

	// Create creates a static or WordPress site.
	Create(ctx context.Context, domain, siteType string, opts site.Options) (*site.Created, error)

	// Delete tears a site down; deleting a missing site succeeds.
	Delete(ctx context.Context, domain string) error

	// UpdateDomain serves a site under extra domains.
	UpdateDomain(ctx context.Context, domain string, extra ...string) error

	// ApplyCertificate obtains a TLS certificate for a site.
	ApplyCertificate(ctx context.Context, domain, email string) error

	// Backup dumps a WordPress database into the backups directory.
	Backup(ctx context.Context, domain string) (*storage.Backup, error)

	// Export writes a static rendition of a WordPress site.
	Export(ctx context.Context, domain, outputDir string) (*export.Result, error)

	// List returns the sorted domains and their registry entries.
	List() ([]string, map[string]registry.Entry, error)
}

// Provisioner abstracts host and container provisioning. *provision.Provisioner implements it.
type Provisioner interface {
	Host(ctx context.Context) error
	Container(ctx context.Context, name, php string) error
}

// JournalStore abstracts the operation journal. *storage.DB implements it.
type JournalStore interface {
	ListBackups(domain string) ([]*storage.Backup, error)
	ListEvents(domain string, limit int) ([]*storage.Event, error)
	GetStats() (map[string]interface{}, error)
}
