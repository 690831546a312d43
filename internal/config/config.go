// Package config provides configuration management for sitectl.
// It handles the YAML file describing host paths, container defaults and
// the WordPress, catalog, bundle and export settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sentinel errors for configuration validation
var (
	ErrVersionRequired          = errors.New("version is required")
	ErrRegistryPathRequired     = errors.New("paths.registry is required")
	ErrSitesRootRequired        = errors.New("paths.sites_root is required")
	ErrImageRequired            = errors.New("container.image is required")
	ErrPHPVersionRequired       = errors.New("php.version is required")
	ErrAdminEmailRequired       = errors.New("wordpress.admin_email is required")
	ErrBundleSourceInvalid      = errors.New("bundle.source must be \"local\" or \"github\"")
	ErrBundlePathRequired       = errors.New("bundle.path is required for a local bundle")
	ErrBundleRepositoryRequired = errors.New("bundle.repository is required for a github bundle")
	ErrClamAVImageRequired      = errors.New("clamav image is required when clamav is enabled")
	ErrConcurrencyInvalid       = errors.New("export.concurrency must be positive")
)

// Config represents the top-level configuration structure.
type Config struct {
	Version   string          `yaml:"version"`
	Metadata  Metadata        `yaml:"metadata"`
	Paths     PathsConfig     `yaml:"paths"`
	Nginx     NginxConfig     `yaml:"nginx"`
	Container ContainerConfig `yaml:"container"`
	PHP       PHPConfig       `yaml:"php"`
	WordPress WordPressConfig `yaml:"wordpress"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Bundle    BundleConfig    `yaml:"bundle"`
	Export    ExportConfig    `yaml:"export"`
	Provision ProvisionConfig `yaml:"provision"`
	Storage   StorageConfig   `yaml:"storage"`
}

// Metadata represents metadata about the configuration.
type Metadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// PathsConfig locates host state.
type PathsConfig struct {
	Registry  string `yaml:"registry"`   // sites JSON document
	SitesRoot string `yaml:"sites_root"` // static sites live in {sites_root}/{domain}
	Backups   string `yaml:"backups"`
	Exports   string `yaml:"exports"`
	Staging   string `yaml:"staging"` // scratch space for bundles; system temp dir when empty
}

// SitePath returns the document root of a static site.
func (p PathsConfig) SitePath(domain string) string {
	return filepath.Join(p.SitesRoot, strings.ToLower(domain))
}

// NginxConfig locates the web server configuration.
type NginxConfig struct {
	ConfDir      string `yaml:"conf_dir"`
	AvailableDir string `yaml:"available_dir"`
	EnabledDir   string `yaml:"enabled_dir"`
	HostsFile    string `yaml:"hosts_file"`
	StubDir      string `yaml:"stub_dir"` // optional template overrides
}

// ContainerConfig controls container creation.
type ContainerConfig struct {
	Binary       string `yaml:"binary"`
	Image        string `yaml:"image"`
	Base         string `yaml:"base"` // provisioned container cloned for new sites; empty disables cloning
	PollInterval string `yaml:"poll_interval"`
	MaxAttempts  uint64 `yaml:"max_attempts"`
	PreseedFile  string `yaml:"preseed_file"` // lxd init preseed; built-in when empty
}

// GetPollInterval parses and returns the address polling interval
func (c *ContainerConfig) GetPollInterval() time.Duration {
	return parseDurationOr(c.PollInterval, time.Second)
}

// GetMaxAttempts returns the address polling attempts
func (c *ContainerConfig) GetMaxAttempts() uint64 {
	if c.MaxAttempts == 0 {
		return 120
	}
	return c.MaxAttempts
}

// PHPConfig selects the PHP release installed in containers.
type PHPConfig struct {
	Version string `yaml:"version"`
}

// WordPressConfig holds installation defaults.
type WordPressConfig struct {
	AdminUser  string `yaml:"admin_user"`
	AdminEmail string `yaml:"admin_email"`
	Title      string `yaml:"title"` // derived from the domain when empty
	Scheme     string `yaml:"scheme"`
	WebUser    string `yaml:"web_user"`
	DocRoot    string `yaml:"doc_root"`
	Theme      string `yaml:"theme"`    // activated after install when set
	DataSet    string `yaml:"data_set"` // WXR file imported after install
	Debug      bool   `yaml:"debug"`

	// Constants added to wp-config.php, e.g. AS3CF_SETTINGS for media offload.
	Constants map[string]string `yaml:"constants"`
}

// CatalogConfig locates the plugin and theme catalog.
type CatalogConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKeyEnv string `yaml:"api_key_env"` // environment variable holding the CLI key
	LocalDir  string `yaml:"local_dir"`   // {local_dir}/plugins and {local_dir}/themes override the API
	Timeout   string `yaml:"timeout"`
}

// GetTimeout parses and returns the catalog request timeout
func (c *CatalogConfig) GetTimeout() time.Duration {
	return parseDurationOr(c.Timeout, 30*time.Second)
}

// APIKey reads the catalog key from the configured environment variable.
func (c *CatalogConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// BundleConfig describes the extension bundle imported into new WordPress sites.
type BundleConfig struct {
	Enabled      bool         `yaml:"enabled"`
	Source       string       `yaml:"source"` // local or github
	Path         string       `yaml:"path"`
	Repository   string       `yaml:"repository"` // owner/repo
	AssetPattern string       `yaml:"asset_pattern"`
	Tag          string       `yaml:"tag"` // pinned release; latest when empty
	TokenEnv     string       `yaml:"token_env"`
	SigningKey   string       `yaml:"signing_key"` // armored public key file or directory of .asc keys; signatures are not checked when empty
	ClamAV       ClamAVConfig `yaml:"clamav"`
}

// Token reads the GitHub token from the configured environment variable.
func (b *BundleConfig) Token() string {
	if b.TokenEnv == "" {
		return ""
	}
	return os.Getenv(b.TokenEnv)
}

// ClamAVConfig represents ClamAV malware scanning configuration.
type ClamAVConfig struct {
	Enabled bool   `yaml:"enabled"`
	Image   string `yaml:"image"` // Docker image, e.g., "clamav/clamav-debian:latest"
}

// ExportConfig controls static exports.
type ExportConfig struct {
	Concurrency int    `yaml:"concurrency"`
	Timeout     string `yaml:"timeout"`
	PagesPath   string `yaml:"pages_path"`
	ExcludeFile string `yaml:"exclude_file"` // JSON or YAML list of routes to skip
}

// GetTimeout parses and returns the per-request export timeout
func (e *ExportConfig) GetTimeout() time.Duration {
	return parseDurationOr(e.Timeout, 30*time.Second)
}

// ProvisionConfig controls host provisioning.
type ProvisionConfig struct {
	SwapSize      string `yaml:"swap_size"`
	FirewallPorts []int  `yaml:"firewall_ports"`
	ZFSPool       string `yaml:"zfs_pool"`

	// LifecycleCheck warns during provision:vm when the Ubuntu or PHP
	// release is end of life according to LifecycleURL (endoflife.date).
	LifecycleCheck bool   `yaml:"lifecycle_check"`
	LifecycleURL   string `yaml:"lifecycle_url"`
}

// StorageConfig represents storage configuration for the operation journal.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	LogLevel     string `yaml:"log_level"`
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// LoadConfig loads and parses the configuration from a YAML file. Unset
// fields keep their defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// LoadOrDefault loads filePath, or returns DefaultConfig when the file does not exist.
func LoadOrDefault(filePath string) (*Config, error) {
	if filePath == "" {
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(filePath); errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return LoadConfig(filePath)
}

// Validate validates the configuration structure and required fields.
func (c *Config) Validate() error {
	if c.Version == "" {
		return ErrVersionRequired
	}
	if c.Paths.Registry == "" {
		return ErrRegistryPathRequired
	}
	if c.Paths.SitesRoot == "" {
		return ErrSitesRootRequired
	}
	if c.Container.Image == "" {
		return ErrImageRequired
	}
	if c.PHP.Version == "" {
		return ErrPHPVersionRequired
	}
	if c.WordPress.AdminEmail == "" {
		return ErrAdminEmailRequired
	}
	if err := c.Bundle.Validate(); err != nil {
		return fmt.Errorf("bundle: %w", err)
	}
	if c.Export.Concurrency <= 0 {
		return ErrConcurrencyInvalid
	}
	return nil
}

// Validate validates bundle configuration.
func (b *BundleConfig) Validate() error {
	if !b.Enabled {
		return nil
	}
	switch b.Source {
	case "local":
		if b.Path == "" {
			return ErrBundlePathRequired
		}
	case "github":
		if b.Repository == "" {
			return ErrBundleRepositoryRequired
		}
	default:
		return ErrBundleSourceInvalid
	}
	if b.ClamAV.Enabled && b.ClamAV.Image == "" {
		return ErrClamAVImageRequired
	}
	return nil
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Version: "1.0",
		Paths: PathsConfig{
			Registry:  "/root/.sitectl/sites.json",
			SitesRoot: "/var/www",
			Backups:   "/root/backups",
			Exports:   "/root/exports",
		},
		Nginx: NginxConfig{
			ConfDir:      "/etc/nginx",
			AvailableDir: "/etc/nginx/sites-available",
			EnabledDir:   "/etc/nginx/sites-enabled",
			HostsFile:    "/etc/hosts",
		},
		Container: ContainerConfig{
			Binary:       "lxc",
			Image:        "ubuntu:22.04",
			Base:         "base",
			PollInterval: "1s",
			MaxAttempts:  120,
		},
		PHP: PHPConfig{Version: "8.1"},
		WordPress: WordPressConfig{
			AdminUser:  "admin",
			AdminEmail: "admin@example.com",
			Scheme:     "http",
			WebUser:    "www-data",
			DocRoot:    "/var/www/html",
		},
		Catalog: CatalogConfig{
			APIKeyEnv: "SITECTL_CLI_KEY",
			LocalDir:  "/root/base_extracted_files",
			Timeout:   "30s",
		},
		Bundle: BundleConfig{
			Source:       "github",
			AssetPattern: "*.zip",
			TokenEnv:     "GITHUB_TOKEN",
			ClamAV:       ClamAVConfig{Image: "clamav/clamav-debian:latest"},
		},
		Export: ExportConfig{
			Concurrency: 5,
			Timeout:     "30s",
			PagesPath:   "/wp-json/static/v1/pages",
		},
		Provision: ProvisionConfig{
			SwapSize:       "1G",
			FirewallPorts:  []int{22, 80, 443},
			LifecycleCheck: true,
			LifecycleURL:   "https://endoflife.date/api/v1",
		},
		Storage: StorageConfig{
			DatabasePath: "/root/.sitectl/sitectl.db",
			LogLevel:     "silent",
		},
	}
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(config *Config, filePath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filePath, err)
	}
	return nil
}
