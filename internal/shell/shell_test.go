package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain word", in: "nginx", want: "nginx"},
		{name: "empty", in: "", want: "''"},
		{name: "space", in: "a b", want: "'a b'"},
		{name: "single quote", in: "it's", want: `"it's"`},
		{name: "pipeline", in: "a | b", want: "'a | b'"},
		{name: "null byte", in: "a\x00", want: `"a\x00"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Quote(tt.in); got != tt.want {
				t.Errorf("Quote(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestCommand_String(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{
			name: "simple",
			cmd:  New("apt-get", "install", "-y", "nginx"),
			want: "apt-get install -y nginx",
		},
		{
			name: "as user",
			cmd:  New("wp", "core", "download").AsUser("www-data"),
			want: "sudo -u www-data -H wp core download",
		},
		{
			name: "script",
			cmd:  Script("wp db export - | gzip > /tmp/db.sql.gz"),
			want: "sh -c 'wp db export - | gzip > /tmp/db.sql.gz'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cmd.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommand_CopiesDoNotAlias(t *testing.T) {
	base := New("which", "nginx")
	quiet := base.Silent().WithStdin("x")
	if base.Quiet || base.Stdin != "" {
		t.Error("modifiers must not change the original command")
	}
	if !quiet.Quiet || quiet.Stdin != "x" {
		t.Errorf("modified command = %+v", quiet)
	}
}

func TestExecutor_Run(t *testing.T) {
	runner := &FakeRunner{}
	runner.On("which nginx", Response{Stdout: "/usr/sbin/nginx\n"})
	runner.On("which php", Response{ExitCode: 1})

	var out bytes.Buffer
	exec := NewExecutor(runner, &out, nil)

	res, err := exec.Run(context.Background(), Host(), New("which", "nginx"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.OK() || res.Stdout != "/usr/sbin/nginx\n" {
		t.Errorf("Run() = %+v", res)
	}
	if out.String() != "/usr/sbin/nginx\n" {
		t.Errorf("echoed output = %q", out.String())
	}

	res, err = exec.Run(context.Background(), Host(), New("which", "php"))
	if err != nil {
		t.Fatalf("nonzero exit must not be an error, got %v", err)
	}
	if res.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", res.ExitCode)
	}
}

func TestExecutor_RunQuietDoesNotEcho(t *testing.T) {
	runner := (&FakeRunner{}).On("lxc list", Response{Stdout: "web,RUNNING,10.0.0.2 (eth0)\n"})
	var out bytes.Buffer
	exec := NewExecutor(runner, &out, nil)

	res, err := exec.RunQuiet(context.Background(), Host(), New("lxc", "list"))
	if err != nil {
		t.Fatalf("RunQuiet() error = %v", err)
	}
	if res.Stdout == "" {
		t.Error("RunQuiet() must still capture stdout")
	}
	if out.Len() != 0 {
		t.Errorf("RunQuiet() echoed %q", out.String())
	}
}

func TestExecutor_RunOrFail(t *testing.T) {
	runner := (&FakeRunner{}).On("apt-get install", Response{ExitCode: 100, Stderr: "E: Unable to locate package nope"})
	exec := NewExecutor(runner, nil, nil)

	t.Run("default handler is fatal", func(t *testing.T) {
		_, err := exec.RunOrFail(context.Background(), Host(), New("apt-get", "install", "-y", "nope"), nil)
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) {
			t.Fatalf("error = %v, want *CommandError", err)
		}
		if cmdErr.ExitCode != 100 {
			t.Errorf("ExitCode = %d, want 100", cmdErr.ExitCode)
		}
		if !strings.Contains(cmdErr.Error(), "Unable to locate package") {
			t.Errorf("error %q must carry stderr", cmdErr.Error())
		}
	})

	t.Run("custom handler", func(t *testing.T) {
		called := false
		_, err := exec.RunOrFail(context.Background(), Host(), New("apt-get", "install", "-y", "nope"),
			func(cmd Command, res Result) error {
				called = true
				if res.ExitCode != 100 {
					t.Errorf("handler ExitCode = %d", res.ExitCode)
				}
				return nil
			})
		if err != nil {
			t.Errorf("handled failure returned %v", err)
		}
		if !called {
			t.Error("handler was not invoked")
		}
	})

	t.Run("success skips handler", func(t *testing.T) {
		_, err := exec.RunOrFail(context.Background(), Host(), New("true"), func(Command, Result) error {
			t.Error("handler invoked on success")
			return nil
		})
		if err != nil {
			t.Errorf("RunOrFail() error = %v", err)
		}
	})
}

func TestExecutor_NotStarted(t *testing.T) {
	runner := (&FakeRunner{}).On("missing", Response{Err: fmt.Errorf("executable file not found")})
	exec := NewExecutor(runner, nil, nil)

	_, err := exec.Run(context.Background(), Host(), New("missing"))
	if !errors.Is(err, ErrNotStarted) {
		t.Errorf("error = %v, want ErrNotStarted", err)
	}
}

func TestExecutor_StdinAndUser(t *testing.T) {
	runner := &FakeRunner{}
	exec := NewExecutor(runner, nil, nil)

	_, err := exec.Run(context.Background(), Host(), New("mysql").AsUser("root").WithStdin("SELECT 1;"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(runner.Calls) != 1 {
		t.Fatalf("got %d calls", len(runner.Calls))
	}
	call := runner.Calls[0]
	if call.Line() != "sudo -u root -H mysql" {
		t.Errorf("Line() = %q", call.Line())
	}
	if call.Stdin != "SELECT 1;" {
		t.Errorf("Stdin = %q", call.Stdin)
	}
}

func TestFakeRunner_LatestRuleWins(t *testing.T) {
	runner := &FakeRunner{}
	runner.On("lxc", Response{Stdout: "old"})
	runner.On("lxc list", Response{Stdout: "new"})

	out, _, _ := runner.Run(context.Background(), nil, "lxc", "list")
	if string(out) != "new" {
		t.Errorf("got %q, want new", out)
	}
	out, _, _ = runner.Run(context.Background(), nil, "lxc", "info")
	if string(out) != "old" {
		t.Errorf("got %q, want old", out)
	}
	if runner.Count("lxc") != 2 {
		t.Errorf("Count() = %d", runner.Count("lxc"))
	}
}
