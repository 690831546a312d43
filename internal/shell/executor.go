package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Sentinel errors
var (
	ErrNotStarted = errors.New("command could not be started")
)

// CommandError is a fatal nonzero exit.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command failed with exit code %d: %s", e.ExitCode, e.Command)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Target is where a command runs.
type Target interface {
	// Wrap turns a command into the host invocation that runs it on the target.
	Wrap(cmd Command) Command
	String() string
}

type hostTarget struct{}

// Host returns the local machine as a target.
func Host() Target {
	return hostTarget{}
}

func (hostTarget) Wrap(cmd Command) Command {
	return cmd.Flatten()
}

func (hostTarget) String() string {
	return "host"
}

// Result holds the outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// OK reports whether the command exited zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// FailureHandler decides what a nonzero exit means. Returning nil treats the
// failure as handled.
type FailureHandler func(cmd Command, res Result) error

// Fatal is the default FailureHandler.
func Fatal(cmd Command, res Result) error {
	return &CommandError{Command: cmd.String(), ExitCode: res.ExitCode, Stderr: res.Stderr}
}

// Executor runs commands one at a time and blocks until each finishes.
type Executor struct {
	runner Runner
	out    io.Writer
	logger *slog.Logger
}

// NewExecutor creates an executor. Output of non-quiet commands is echoed to out.
func NewExecutor(runner Runner, out io.Writer, logger *slog.Logger) *Executor {
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{runner: runner, out: out, logger: logger}
}

// Run executes cmd on target. A nonzero exit is reported in the result, not as
// an error; the error is non-nil only when the process could not be run.
func (e *Executor) Run(ctx context.Context, target Target, cmd Command) (Result, error) {
	wrapped := target.Wrap(cmd)
	e.logger.Debug("running command", "target", target.String(), "command", wrapped.String())

	var stdin io.Reader
	if wrapped.Stdin != "" {
		stdin = strings.NewReader(wrapped.Stdin)
	}
	stdout, stderr, err := e.runner.Run(ctx, stdin, wrapped.Tool, wrapped.Args...)

	res := Result{Stdout: string(stdout), Stderr: string(stderr), ExitCode: exitCode(err)}
	if res.ExitCode < 0 {
		return res, fmt.Errorf("%w: %s: %w", ErrNotStarted, wrapped.String(), err)
	}

	if !cmd.Quiet {
		if _, werr := io.WriteString(e.out, res.Stdout); werr != nil {
			e.logger.Warn("failed to echo command output", "error", werr)
		}
	}
	if !res.OK() {
		e.logger.Debug("command exited nonzero", "command", wrapped.String(), "exit_code", res.ExitCode)
	}
	return res, nil
}

// RunQuiet is Run with output echo suppressed.
func (e *Executor) RunQuiet(ctx context.Context, target Target, cmd Command) (Result, error) {
	return e.Run(ctx, target, cmd.Silent())
}

// RunOrFail runs cmd and passes a nonzero exit to onFailure. A nil onFailure
// means Fatal.
func (e *Executor) RunOrFail(ctx context.Context, target Target, cmd Command, onFailure FailureHandler) (Result, error) {
	res, err := e.Run(ctx, target, cmd)
	if err != nil {
		return res, err
	}
	if res.OK() {
		return res, nil
	}
	if onFailure == nil {
		onFailure = Fatal
	}
	return res, onFailure(target.Wrap(cmd), res)
}

// Must runs cmd and fails on any nonzero exit.
func (e *Executor) Must(ctx context.Context, target Target, cmd Command) (Result, error) {
	return e.RunOrFail(ctx, target, cmd, nil)
}
