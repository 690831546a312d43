// Package shell runs external commands on the host or inside containers.
package shell

import (
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Command is a single external invocation. Arguments are never joined into a
// shell string unless the command is built with Script.
type Command struct {
	Tool  string
	Args  []string
	User  string // run as this user (sudo -u) when set
	Stdin string
	Quiet bool // do not echo output
}

// New creates a command for tool with the given arguments.
func New(tool string, args ...string) Command {
	return Command{Tool: tool, Args: args}
}

// Script creates a command that runs script through sh -c. Use it only for
// pipelines and redirections; plain invocations should use New.
func Script(script string) Command {
	return Command{Tool: "sh", Args: []string{"-c", script}}
}

// AsUser returns a copy of c that runs as user.
func (c Command) AsUser(user string) Command {
	c.User = user
	return c
}

// WithStdin returns a copy of c that receives input on stdin.
func (c Command) WithStdin(input string) Command {
	c.Stdin = input
	return c
}

// Silent returns a copy of c whose output is captured but not echoed.
func (c Command) Silent() Command {
	c.Quiet = true
	return c
}

// Argv returns the tool followed by its arguments.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Tool)
	return append(argv, c.Args...)
}

// Flatten resolves User into an explicit sudo invocation.
func (c Command) Flatten() Command {
	if c.User == "" {
		return c
	}
	args := append([]string{"-u", c.User, "-H", c.Tool}, c.Args...)
	return Command{Tool: "sudo", Args: args, Stdin: c.Stdin, Quiet: c.Quiet}
}

// String renders the command as a bash-quoted line, for logs and errors.
func (c Command) String() string {
	argv := c.Flatten().Argv()
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// Quote quotes s for bash. Strings bash cannot represent fall back to Go quoting.
func Quote(s string) string {
	q, err := syntax.Quote(s, syntax.LangBash)
	if err != nil {
		return strconv.Quote(s)
	}
	return q
}

// QuoteAll quotes each argument and joins them with spaces.
func QuoteAll(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}
