package nginx

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clean-dependency-project/sitectl/internal/shell"
)

const sampleHosts = "127.0.0.1\tlocalhost\n127.0.1.1\tvm\n\n# The following lines are desirable for IPv6 capable hosts\n::1     ip6-localhost ip6-loopback\n"

func newTestConfigurator(t *testing.T) (*Configurator, Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		ConfDir:      filepath.Join(dir, "nginx"),
		AvailableDir: filepath.Join(dir, "nginx", "sites-available"),
		EnabledDir:   filepath.Join(dir, "nginx", "sites-enabled"),
		HostsFile:    filepath.Join(dir, "hosts"),
	}
	if err := os.WriteFile(cfg.HostsFile, []byte(sampleHosts), 0o644); err != nil {
		t.Fatal(err)
	}
	return NewConfigurator(cfg, nil, nil), cfg
}

func TestBuiltinStubs(t *testing.T) {
	for _, name := range append([]string{"static/index.html"}, containerSnippets...) {
		if _, err := fs.Stat(builtinStubs, name); err != nil {
			t.Errorf("embedded stub %s: %v", name, err)
		}
	}
}

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name string
		text string
		subs map[string]string
		want string
	}{
		{
			name: "all tokens",
			text: "server_name {domain}; proxy_pass http://{ip};",
			subs: map[string]string{"domain": "example.com", "ip": "10.0.3.2"},
			want: "server_name example.com; proxy_pass http://10.0.3.2;",
		},
		{
			name: "repeated token",
			text: "{domain} {domain}",
			subs: map[string]string{"domain": "a.b"},
			want: "a.b a.b",
		},
		{
			name: "unknown token kept",
			text: "{domain} {other}",
			subs: map[string]string{"domain": "a.b"},
			want: "a.b {other}",
		},
		{
			name: "values are literal",
			text: "{domain}",
			subs: map[string]string{"domain": "$1 {ip}"},
			want: "$1 {ip}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Substitute(tt.text, tt.subs); got != tt.want {
				t.Errorf("Substitute() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigurator_InstallSite(t *testing.T) {
	c, cfg := newTestConfigurator(t)

	err := c.InstallSite("Shop.Example.com", KindWPProxy, map[string]string{"ip": "10.0.3.7"})
	if err != nil {
		t.Fatalf("InstallSite() error = %v", err)
	}

	available := filepath.Join(cfg.AvailableDir, "shop.example.com")
	data, err := os.ReadFile(available)
	if err != nil {
		t.Fatalf("available config missing: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "server_name shop.example.com;") {
		t.Errorf("config lacks server_name:\n%s", text)
	}
	if !strings.Contains(text, "proxy_pass http://10.0.3.7;") {
		t.Errorf("config lacks upstream:\n%s", text)
	}
	if strings.Contains(text, "{domain}") || strings.Contains(text, "{ip}") {
		t.Errorf("unrendered token left:\n%s", text)
	}

	target, err := os.Readlink(filepath.Join(cfg.EnabledDir, "shop.example.com"))
	if err != nil {
		t.Fatalf("enabled link missing: %v", err)
	}
	if target != available {
		t.Errorf("link target = %q, want %q", target, available)
	}
	if !c.SiteExists("shop.example.com") {
		t.Error("SiteExists() = false after install")
	}

	// Reinstalling replaces the link rather than failing.
	if err := c.InstallSite("shop.example.com", KindWPProxy, map[string]string{"ip": "10.0.3.8"}); err != nil {
		t.Fatalf("second InstallSite() error = %v", err)
	}
}

func TestConfigurator_InstallSiteUnknownKind(t *testing.T) {
	c, _ := newTestConfigurator(t)
	if err := c.InstallSite("example.com", Kind("apache"), nil); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("InstallSite() error = %v, want ErrUnknownKind", err)
	}
	if c.SiteExists("example.com") {
		t.Error("failed install must not leave a config")
	}
}

func TestConfigurator_RemoveSite(t *testing.T) {
	c, cfg := newTestConfigurator(t)

	if err := c.RemoveSite("never-created.com"); err != nil {
		t.Fatalf("RemoveSite() on missing site error = %v", err)
	}

	if err := c.InstallSite("example.com", KindStatic, map[string]string{"root": "/var/www/example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(cfg.AvailableDir, "example.com")); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveSite("example.com"); err != nil {
		t.Fatalf("RemoveSite() with dangling link error = %v", err)
	}
	if _, err := os.Lstat(filepath.Join(cfg.EnabledDir, "example.com")); !os.IsNotExist(err) {
		t.Errorf("enabled link still present: %v", err)
	}
}

func TestConfigurator_HostEntryRoundTrip(t *testing.T) {
	c, cfg := newTestConfigurator(t)

	added, err := c.AddHostEntry("example.com")
	if err != nil || !added {
		t.Fatalf("AddHostEntry() = %v, %v", added, err)
	}
	data, _ := os.ReadFile(cfg.HostsFile)
	if !strings.HasSuffix(string(data), "127.0.0.1\texample.com\n") {
		t.Errorf("hosts file = %q", data)
	}

	added, err = c.AddHostEntry("example.com")
	if err != nil || added {
		t.Fatalf("second AddHostEntry() = %v, %v", added, err)
	}
	data, _ = os.ReadFile(cfg.HostsFile)
	if n := strings.Count(string(data), "example.com"); n != 1 {
		t.Errorf("domain appears %d times, want 1", n)
	}

	removed, err := c.RemoveHostEntry("example.com")
	if err != nil || !removed {
		t.Fatalf("RemoveHostEntry() = %v, %v", removed, err)
	}
	data, _ = os.ReadFile(cfg.HostsFile)
	if string(data) != sampleHosts {
		t.Errorf("round trip changed hosts file:\ngot  %q\nwant %q", data, sampleHosts)
	}

	removed, err = c.RemoveHostEntry("example.com")
	if err != nil || removed {
		t.Errorf("RemoveHostEntry() on absent entry = %v, %v", removed, err)
	}
}

func TestConfigurator_HostEntryMatchesWholeName(t *testing.T) {
	c, cfg := newTestConfigurator(t)
	if err := os.WriteFile(cfg.HostsFile, []byte("127.0.0.1\twww.example.com\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	added, err := c.AddHostEntry("example.com")
	if err != nil || !added {
		t.Fatalf("AddHostEntry() = %v, %v; a subdomain must not count as present", added, err)
	}
	if _, err := c.RemoveHostEntry("example.com"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(cfg.HostsFile)
	if string(data) != "127.0.0.1\twww.example.com\n" {
		t.Errorf("unrelated entry touched: %q", data)
	}
}

func TestConfigurator_UpdateServerNames(t *testing.T) {
	c, cfg := newTestConfigurator(t)
	subs := map[string]string{"root": "/var/www/example.com"}

	if err := c.UpdateServerNames("example.com", KindStatic, []string{"www.example.com"}, subs); !errors.Is(err, ErrSiteNotFound) {
		t.Errorf("UpdateServerNames() on missing site error = %v", err)
	}

	if err := c.InstallSite("example.com", KindStatic, subs); err != nil {
		t.Fatal(err)
	}
	if err := c.UpdateServerNames("example.com", KindStatic, []string{"www.example.com", "example.org"}, subs); err != nil {
		t.Fatalf("UpdateServerNames() error = %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(cfg.AvailableDir, "example.com"))
	if !strings.Contains(string(data), "server_name example.com www.example.com example.org;") {
		t.Errorf("server_name not updated:\n%s", data)
	}
	if !strings.Contains(string(data), "root /var/www/example.com;") {
		t.Errorf("root lost:\n%s", data)
	}
}

func TestConfigurator_CatchAllAndDefault(t *testing.T) {
	c, cfg := newTestConfigurator(t)

	if err := c.InstallSite("default", KindStatic, nil); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveDefault(); err != nil {
		t.Fatalf("RemoveDefault() error = %v", err)
	}
	if c.SiteExists("default") {
		t.Error("default site still present")
	}
	if err := c.RemoveDefault(); err != nil {
		t.Errorf("second RemoveDefault() error = %v", err)
	}

	if err := c.AddCatchAll(); err != nil {
		t.Fatalf("AddCatchAll() error = %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(cfg.AvailableDir, "catch-all"))
	if !strings.Contains(string(data), "return 444;") {
		t.Errorf("catch-all config = %s", data)
	}
}

func TestConfigurator_TweakConfig(t *testing.T) {
	c, cfg := newTestConfigurator(t)
	if err := c.TweakConfig(); err != nil {
		t.Fatalf("TweakConfig() error = %v", err)
	}
	for _, p := range []string{"nginx.conf", "common/general.conf"} {
		if _, err := os.Stat(filepath.Join(cfg.ConfDir, p)); err != nil {
			t.Errorf("%s not installed: %v", p, err)
		}
	}
}

func TestConfigurator_StubOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "site"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "site", "static.conf"), []byte("custom {domain}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewConfigurator(Config{ConfDir: t.TempDir(), StubDir: dir}, nil, nil)

	got, err := c.Render(KindStatic, map[string]string{"domain": "example.com"})
	if err != nil || got != "custom example.com\n" {
		t.Errorf("Render() = %q, %v", got, err)
	}
	if _, err := c.Render(KindCatchAll, nil); err != nil {
		t.Errorf("missing override must fall back to built-in template: %v", err)
	}
}

type restarterFunc func(ctx context.Context, target shell.Target, services ...string) error

func (f restarterFunc) RestartService(ctx context.Context, target shell.Target, services ...string) error {
	return f(ctx, target, services...)
}

func TestConfigurator_ReloadFailureIsWarning(t *testing.T) {
	called := false
	svc := restarterFunc(func(_ context.Context, _ shell.Target, services ...string) error {
		called = true
		if len(services) != 1 || services[0] != "nginx" {
			t.Errorf("services = %v", services)
		}
		return errors.New("nginx: configuration file test failed")
	})
	c := NewConfigurator(Config{ConfDir: t.TempDir()}, svc, nil)

	c.Reload(context.Background())
	if !called {
		t.Error("Reload() did not restart nginx")
	}
}

type fakeContainer struct {
	files    map[string]string
	execs    []string
	restarts []string
}

func (f *fakeContainer) Exec(_ context.Context, name string, cmd shell.Command) (shell.Result, error) {
	f.execs = append(f.execs, name+": "+cmd.String())
	return shell.Result{}, nil
}

func (f *fakeContainer) WriteFile(_ context.Context, _ string, dest, content, _ string) error {
	f.files[dest] = content
	return nil
}

func (f *fakeContainer) RestartService(_ context.Context, name, service string) error {
	f.restarts = append(f.restarts, name+":"+service)
	return nil
}

func TestConfigurator_ConfigureContainer(t *testing.T) {
	tests := []struct {
		name string
		php  string
		want string
	}{
		{name: "configured release", want: "php8.2-fpm.sock"},
		{name: "explicit release", php: "8.3", want: "php8.3-fpm.sock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConfigurator(Config{ConfDir: t.TempDir(), PHPVersion: "8.2"}, nil, nil)
			fc := &fakeContainer{files: map[string]string{}}

			if err := c.ConfigureContainer(context.Background(), fc, "shop-example-com", tt.php); err != nil {
				t.Fatalf("ConfigureContainer() error = %v", err)
			}
			if !strings.Contains(fc.files["/etc/nginx/common/php_fastcgi.conf"], tt.want) {
				t.Errorf("php version not substituted: %s", fc.files["/etc/nginx/common/php_fastcgi.conf"])
			}
			if !strings.Contains(fc.files["/etc/nginx/sites-available/default"], "root /var/www/html;") {
				t.Error("default WordPress server not installed")
			}
			if len(fc.restarts) != 1 || fc.restarts[0] != "shop-example-com:nginx" {
				t.Errorf("restarts = %v", fc.restarts)
			}
		})
	}
}
