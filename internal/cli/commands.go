package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/clean-dependency-project/sitectl/internal/site"
)

// SiteSummary is one row of the sites listing.
type SiteSummary struct {
	Domain       string   `json:"domain"`
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	ExtraDomains []string `json:"extra_domains,omitempty"`
	Certificate  bool     `json:"certificate"`
	CreatedAt    string   `json:"created_at"`
}

// EventSummary is one row of the history listing.
type EventSummary struct {
	ID        uint   `json:"id"`
	Domain    string `json:"domain"`
	Operation string `json:"operation"`
	Detail    string `json:"detail,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	StartedAt string `json:"started_at"`
	Duration  string `json:"duration,omitempty"`
}

// BackupSummary is one row of the backups listing.
type BackupSummary struct {
	Domain    string `json:"domain"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	TakenAt   string `json:"taken_at"`
}

func provisionHost(c *cli.Context, s *Services) error {
	if err := s.Provisioner.Host(c.Context); err != nil {
		return err
	}
	if err := s.Sites.Init(); err != nil {
		return err
	}
	fmt.Fprintln(s.Out, "Host provisioned")
	return nil
}

func provisionContainer(c *cli.Context, s *Services) error {
	name, err := requireArg(c, "container")
	if err != nil {
		return err
	}
	if err := s.Provisioner.Container(c.Context, name, c.String("php")); err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "Container %s provisioned\n", name)
	return nil
}

func createSite(c *cli.Context, s *Services) error {
	domain, err := requireArg(c, "domain")
	if err != nil {
		return err
	}
	siteType := c.String("type")
	opts := site.Options{
		PHPVersion: c.String("php"),
		Title:      c.String("title"),
		AdminUser:  c.String("admin-user"),
		AdminEmail: c.String("admin-email"),
		Theme:      c.String("activate-theme"),
		DataSet:    c.String("data-set"),
		SkipBundle: c.Bool("no-bundle"),
	}
	if c.IsSet("plugin") {
		opts.Plugins = c.StringSlice("plugin")
	}
	if c.IsSet("theme") {
		opts.Themes = c.StringSlice("theme")
	}

	s.Stdout.Info("creating site", "domain", domain, "type", siteType)
	created, err := s.Sites.Create(c.Context, domain, siteType, opts)
	if err != nil {
		return err
	}

	if c.String("output") == "json" {
		if created == nil {
			return printJSON(s.Out, map[string]string{"domain": strings.ToLower(domain), "type": siteType})
		}
		return printJSON(s.Out, created)
	}
	fmt.Fprintf(s.Out, "Site %s created\n", strings.ToLower(domain))
	if created != nil {
		fmt.Fprintf(s.Out, "Container:      %s (%s)\n", created.Container, created.IP)
		fmt.Fprintf(s.Out, "Admin user:     %s\n", created.AdminUser)
		fmt.Fprintf(s.Out, "Admin password: %s\n", created.AdminPassword)
		if created.Bundle != "" {
			fmt.Fprintf(s.Out, "Bundle:         %s\n", created.Bundle)
		}
	}
	return nil
}

func deleteSite(c *cli.Context, s *Services) error {
	domain, err := requireArg(c, "domain")
	if err != nil {
		return err
	}
	if err := s.Sites.Delete(c.Context, domain); err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "Site %s deleted\n", domain)
	return nil
}

func updateDomain(c *cli.Context, s *Services) error {
	domain, err := requireArg(c, "domain")
	if err != nil {
		return err
	}
	extra := c.Args().Tail()
	if len(extra) == 0 {
		return fmt.Errorf("%w: extra domain", ErrMissingArgument)
	}
	if err := s.Sites.UpdateDomain(c.Context, domain, extra...); err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "Site %s now also serves %s\n", domain, strings.Join(extra, ", "))
	return nil
}

func applyCertificate(c *cli.Context, s *Services) error {
	domain, err := requireArg(c, "domain")
	if err != nil {
		return err
	}
	if err := s.Sites.ApplyCertificate(c.Context, domain, c.String("email")); err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "Certificate installed for %s\n", domain)
	return nil
}

func backupSite(c *cli.Context, s *Services) error {
	domain, err := requireArg(c, "domain")
	if err != nil {
		return err
	}
	backup, err := s.Sites.Backup(c.Context, domain)
	if err != nil {
		return err
	}
	summary := BackupSummary{
		Domain:    backup.Domain,
		Path:      backup.Path,
		SizeBytes: backup.SizeBytes,
		TakenAt:   backup.TakenAt.Format(time.RFC3339),
	}
	if c.String("output") == "json" {
		return printJSON(s.Out, summary)
	}
	fmt.Fprintf(s.Out, "Backup written to %s\n", backup.Path)
	return nil
}

func listBackups(c *cli.Context, s *Services) error {
	backups, err := s.Journal.ListBackups(strings.ToLower(c.Args().First()))
	if err != nil {
		return err
	}
	rows := make([]BackupSummary, 0, len(backups))
	for _, b := range backups {
		rows = append(rows, BackupSummary{
			Domain:    b.Domain,
			Path:      b.Path,
			SizeBytes: b.SizeBytes,
			TakenAt:   b.TakenAt.Format(time.RFC3339),
		})
	}
	if c.String("output") == "json" {
		return printJSON(s.Out, rows)
	}

	tw := newTable(s.Out)
	fmt.Fprintln(tw, "DOMAIN\tTAKEN\tSIZE\tPATH")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Domain, r.TakenAt, r.SizeBytes, r.Path)
	}
	return tw.Flush()
}

func exportSite(c *cli.Context, s *Services) error {
	domain, err := requireArg(c, "domain")
	if err != nil {
		return err
	}
	result, err := s.Sites.Export(c.Context, domain, c.String("out"))
	if err != nil {
		return err
	}
	s.Stdout.Info("export finished",
		"domain", domain,
		"pages", len(result.Pages),
		"scripts", len(result.Scripts),
		"styles", len(result.Styles),
		"failed", len(result.Failed),
		"written", result.Written,
		"removed", len(result.Removed))

	if c.String("output") == "json" {
		return printJSON(s.Out, result)
	}
	fmt.Fprintf(s.Out, "Exported %d pages, %d scripts and %d styles (%d files written, %d removed)\n",
		len(result.Pages), len(result.Scripts), len(result.Styles), result.Written, len(result.Removed))
	for _, u := range result.Failed {
		fmt.Fprintf(s.Out, "failed: %s\n", u)
	}
	return nil
}

func listSites(c *cli.Context, s *Services) error {
	domains, entries, err := s.Sites.List()
	if err != nil {
		return err
	}
	rows := make([]SiteSummary, 0, len(domains))
	for _, d := range domains {
		e := entries[d]
		rows = append(rows, SiteSummary{
			Domain:       d,
			ID:           e.ID,
			Type:         e.Type,
			ExtraDomains: e.ExtraDomains,
			Certificate:  e.Certificate,
			CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		})
	}
	if c.String("output") == "json" {
		return printJSON(s.Out, rows)
	}

	tw := newTable(s.Out)
	fmt.Fprintln(tw, "DOMAIN\tTYPE\tTLS\tEXTRA\tCREATED")
	for _, r := range rows {
		tls := "no"
		if r.Certificate {
			tls = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Domain, r.Type, tls, strings.Join(r.ExtraDomains, ","), r.CreatedAt)
	}
	return tw.Flush()
}

func listHistory(c *cli.Context, s *Services) error {
	events, err := s.Journal.ListEvents(strings.ToLower(c.Args().First()), c.Int("limit"))
	if err != nil {
		return err
	}
	rows := make([]EventSummary, 0, len(events))
	for _, e := range events {
		row := EventSummary{
			ID:        e.ID,
			Domain:    e.Domain,
			Operation: e.Operation,
			Detail:    e.Detail,
			Status:    e.Status,
			Error:     e.ErrorMessage,
			StartedAt: e.StartedAt.Format(time.RFC3339),
		}
		if d := e.Duration(); d > 0 {
			row.Duration = d.Round(time.Millisecond).String()
		}
		rows = append(rows, row)
	}
	if c.String("output") == "json" {
		return printJSON(s.Out, rows)
	}

	tw := newTable(s.Out)
	fmt.Fprintln(tw, "ID\tSTARTED\tDOMAIN\tOPERATION\tSTATUS\tDURATION\tERROR")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.StartedAt, r.Domain, r.Operation, r.Status, r.Duration, r.Error)
	}
	return tw.Flush()
}

func showStats(_ *cli.Context, s *Services) error {
	stats, err := s.Journal.GetStats()
	if err != nil {
		return err
	}
	return printJSON(s.Out, stats)
}
