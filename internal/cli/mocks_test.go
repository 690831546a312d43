package cli

import (
	"context"

	"github.com/clean-dependency-project/sitectl/internal/export"
	"github.com/clean-dependency-project/sitectl/internal/registry"
	"github.com/clean-dependency-project/sitectl/internal/site"
	"github.com/clean-dependency-project/sitectl/internal/storage"
)

// mockSiteService implements SiteService for testing.
type mockSiteService struct {
	initFn         func() error
	createFn       func(domain, siteType string, opts site.Options) (*site.Created, error)
	deleteFn       func(domain string) error
	updateDomainFn func(domain string, extra ...string) error
	certificateFn  func(domain, email string) error
	backupFn       func(domain string) (*storage.Backup, error)
	exportFn       func(domain, outputDir string) (*export.Result, error)
	listFn         func() ([]string, map[string]registry.Entry, error)

	initCalls int
}

// Init implements SiteService.
func (m *mockSiteService) Init() error {
	m.initCalls++
	if m.initFn != nil {
		return m.initFn()
	}
	return nil
}

// Create implements SiteService.
func (m *mockSiteService) Create(_ context.Context, domain, siteType string, opts site.Options) (*site.Created, error) {
	if m.createFn != nil {
		return m.createFn(domain, siteType, opts)
	}
	return nil, nil
}

// Delete implements SiteService.
func (m *mockSiteService) Delete(_ context.Context, domain string) error {
	if m.deleteFn != nil {
		return m.deleteFn(domain)
	}
	return nil
}

// UpdateDomain implements SiteService.
func (m *mockSiteService) UpdateDomain(_ context.Context, domain string, extra ...string) error {
	if m.updateDomainFn != nil {
		return m.updateDomainFn(domain, extra...)
	}
	return nil
}

// ApplyCertificate implements SiteService.
func (m *mockSiteService) ApplyCertificate(_ context.Context, domain, email string) error {
	if m.certificateFn != nil {
		return m.certificateFn(domain, email)
	}
	return nil
}

// Backup implements SiteService.
func (m *mockSiteService) Backup(_ context.Context, domain string) (*storage.Backup, error) {
	if m.backupFn != nil {
		return m.backupFn(domain)
	}
	return &storage.Backup{Domain: domain}, nil
}

// Export implements SiteService.
func (m *mockSiteService) Export(_ context.Context, domain, outputDir string) (*export.Result, error) {
	if m.exportFn != nil {
		return m.exportFn(domain, outputDir)
	}
	return &export.Result{}, nil
}

// List implements SiteService.
func (m *mockSiteService) List() ([]string, map[string]registry.Entry, error) {
	if m.listFn != nil {
		return m.listFn()
	}
	return nil, map[string]registry.Entry{}, nil
}

// mockProvisioner implements Provisioner for testing.
type mockProvisioner struct {
	hostFn      func() error
	containerFn func(name, php string) error
}

// Host implements Provisioner.
func (m *mockProvisioner) Host(context.Context) error {
	if m.hostFn != nil {
		return m.hostFn()
	}
	return nil
}

// Container implements Provisioner.
func (m *mockProvisioner) Container(_ context.Context, name, php string) error {
	if m.containerFn != nil {
		return m.containerFn(name, php)
	}
	return nil
}

// mockJournal implements JournalStore for testing.
type mockJournal struct {
	listBackupsFn func(domain string) ([]*storage.Backup, error)
	listEventsFn  func(domain string, limit int) ([]*storage.Event, error)
	statsFn       func() (map[string]interface{}, error)
}

// ListBackups implements JournalStore.
func (m *mockJournal) ListBackups(domain string) ([]*storage.Backup, error) {
	if m.listBackupsFn != nil {
		return m.listBackupsFn(domain)
	}
	return nil, nil
}

// ListEvents implements JournalStore.
func (m *mockJournal) ListEvents(domain string, limit int) ([]*storage.Event, error) {
	if m.listEventsFn != nil {
		return m.listEventsFn(domain, limit)
	}
	return nil, nil
}

// GetStats implements JournalStore.
func (m *mockJournal) GetStats() (map[string]interface{}, error) {
	if m.statsFn != nil {
		return m.statsFn()
	}
	return map[string]interface{}{}, nil
}
