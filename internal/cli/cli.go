// Package cli provides the sitectl command-line interface.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/clean-dependency-project/sitectl/internal/config"
	"github.com/clean-dependency-project/sitectl/internal/site"
)

// Sentinel errors
var (
	ErrMissingArgument = errors.New("missing argument")
	ErrInvalidOutput   = errors.New("output must be text or json")
)

// DefaultConfigPath is read when --config is not given. A missing file means
// built-in defaults.
const DefaultConfigPath = "/etc/sitectl/sitectl.yaml"

// NewApp creates and configures the main CLI application.
func NewApp() *cli.App {
	return NewAppWithFactory(NewServices)
}

// NewAppWithFactory creates the application with a custom service factory.
func NewAppWithFactory(factory Factory) *cli.App {
	r := &runner{factory: factory}
	outputFlag := &cli.StringFlag{
		Name:  "output",
		Value: "text",
		Usage: "output format (text, json)",
	}

	return &cli.App{
		Name:     "sitectl",
		Usage:    "Provision LXD hosts and manage nginx, static and WordPress sites",
		Version:  "1.0.0",
		Compiled: time.Now(),
		Authors: []*cli.Author{
			{
				Name:  "Clean Dependency Project",
				Email: "info@example.com",
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   DefaultConfigPath,
				Usage:   "path to configuration file",
				EnvVars: []string{"SITECTL_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "log level (debug, info, warn, error)",
				EnvVars: []string{"SITECTL_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "json",
				Usage:   "log format (json, text)",
				EnvVars: []string{"SITECTL_LOG_FORMAT"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "provision:vm",
				Usage:  "Provision the host: packages, firewall, swap, nginx, ZFS and LXD",
				Action: r.with(provisionHost),
			},
			{
				Name:      "provision:container",
				Usage:     "Install nginx, PHP, MySQL and WP-CLI inside a container",
				ArgsUsage: "<container>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "php", Usage: "PHP version to install (default from config)"},
				},
				Action: r.with(provisionContainer),
			},
			{
				Name:      "create",
				Usage:     "Create a new site",
				ArgsUsage: "<domain>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Value: site.TypeWordPress, Usage: "site type (static, wp)"},
					&cli.StringFlag{Name: "php", Usage: "PHP version installed in the site container (default from config)"},
					&cli.StringFlag{Name: "title", Usage: "site title"},
					&cli.StringFlag{Name: "admin-user", Usage: "WordPress admin user"},
					&cli.StringFlag{Name: "admin-email", Usage: "WordPress admin email"},
					&cli.StringSliceFlag{Name: "plugin", Usage: "plugin to install instead of the catalog listing (repeatable)"},
					&cli.StringSliceFlag{Name: "theme", Usage: "theme to install instead of the catalog listing (repeatable)"},
					&cli.StringFlag{Name: "activate-theme", Usage: "theme activated after install"},
					&cli.StringFlag{Name: "data-set", Usage: "WXR file imported after install"},
					&cli.BoolFlag{Name: "no-bundle", Usage: "skip the extension bundle"},
					outputFlag,
				},
				Action: r.with(createSite),
			},
			{
				Name:      "delete",
				Usage:     "Delete a site",
				ArgsUsage: "<domain>",
				Action:    r.with(deleteSite),
			},
			{
				Name:      "update-domain",
				Usage:     "Serve a site under additional domains",
				ArgsUsage: "<domain> <extra-domain>...",
				Action:    r.with(updateDomain),
			},
			{
				Name:      "certificate",
				Usage:     "Obtain a Let's Encrypt certificate for a site",
				ArgsUsage: "<domain>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "registration email; wordpress.admin_email when empty"},
				},
				Action: r.with(applyCertificate),
			},
			{
				Name:      "backup",
				Usage:     "Back up the database of a WordPress site",
				ArgsUsage: "<domain>",
				Flags:     []cli.Flag{outputFlag},
				Action:    r.with(backupSite),
			},
			{
				Name:      "backups",
				Usage:     "List recorded backups",
				ArgsUsage: "[domain]",
				Flags:     []cli.Flag{outputFlag},
				Action:    r.with(listBackups),
			},
			{
				Name:      "history",
				Usage:     "List journaled operations, newest first",
				ArgsUsage: "[domain]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum number of events; 0 lists all"},
					outputFlag,
				},
				Action: r.with(listHistory),
			},
			{
				Name:   "stats",
				Usage:  "Show journal statistics as JSON",
				Action: r.with(showStats),
			},
			{
				Name:      "export",
				Usage:     "Export a WordPress site as static files",
				ArgsUsage: "<domain>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Usage: "output directory; {exports}/{domain} when empty"},
					outputFlag,
				},
				Action: r.with(exportSite),
			},
			{
				Name:   "sites",
				Usage:  "List registered sites",
				Flags:  []cli.Flag{outputFlag},
				Action: r.with(listSites),
			},
		},
	}
}

type runner struct {
	factory Factory
}

// with loads configuration and loggers, builds the services and runs action.
func (r *runner) with(action func(c *cli.Context, s *Services) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		stdout, stderr := NewLoggers(c.String("log-level"), c.String("log-format"))

		if f := c.String("output"); f != "" && f != "text" && f != "json" {
			return fmt.Errorf("%w: %q", ErrInvalidOutput, f)
		}

		cfg, err := config.LoadOrDefault(c.String("config"))
		if err != nil {
			stderr.Error("failed to load config", "error", err)
			return fmt.Errorf("failed to load config: %w", err)
		}

		services, err := r.factory(c, cfg, stdout, stderr)
		if err != nil {
			stderr.Error("failed to initialize", "error", err)
			return fmt.Errorf("failed to initialize: %w", err)
		}
		defer func() {
			if closeErr := services.Close(); closeErr != nil {
				stderr.Warn("failed to close services", "error", closeErr)
			}
		}()
		if services.Out == nil {
			services.Out = c.App.Writer
		}

		if err := action(c, services); err != nil {
			stderr.Error("command failed", "command", c.Command.Name, "error", err)
			return err
		}
		return nil
	}
}

func requireArg(c *cli.Context, name string) (string, error) {
	arg := strings.TrimSpace(c.Args().First())
	if arg == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, name)
	}
	return arg, nil
}

func printJSON(w io.Writer, v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(output))
	return err
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}
