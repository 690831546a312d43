package nginx

import (
	"context"
	"fmt"
	"path"

	"github.com/clean-dependency-project/sitectl/internal/shell"
)

// ContainerFiles is the subset of the container manager used to configure
// nginx inside a container.
type ContainerFiles interface {
	Exec(ctx context.Context, name string, cmd shell.Command) (shell.Result, error)
	WriteFile(ctx context.Context, name, dest, content, mode string) error
	RestartService(ctx context.Context, name, service string) error
}

// containerSnippets are installed under /etc/nginx inside WordPress containers.
var containerSnippets = []string{
	"nginx.conf",
	"common/general.conf",
	"common/php_fastcgi.conf",
	"common/wordpress.conf",
}

// ConfigureContainer installs the tuned nginx.conf, the shared snippets and the
// WordPress default server inside a container, then restarts nginx there.
// php names the PHP-FPM release the snippets pass requests to; empty selects
// the configured one.
func (c *Configurator) ConfigureContainer(ctx context.Context, files ContainerFiles, name, php string) error {
	if php == "" {
		php = c.cfg.PHPVersion
	}
	if _, err := files.Exec(ctx, name, shell.New("mkdir", "-p", "/etc/nginx/common")); err != nil {
		return fmt.Errorf("failed to create nginx snippet dir in %s: %w", name, err)
	}

	vars := map[string]string{"php": php}
	for _, src := range containerSnippets {
		text, err := c.Template(src)
		if err != nil {
			return err
		}
		dest := path.Join("/etc/nginx", src)
		if err := files.WriteFile(ctx, name, dest, Substitute(text, vars), "0644"); err != nil {
			return err
		}
	}

	server, err := c.Render(KindWP, vars)
	if err != nil {
		return err
	}
	if err := files.WriteFile(ctx, name, "/etc/nginx/sites-available/default", server, "0644"); err != nil {
		return err
	}
	if err := files.RestartService(ctx, name, "nginx"); err != nil {
		return err
	}
	c.logger.Info("nginx configured in container", "container", name)
	return nil
}
