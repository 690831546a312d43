package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Runner starts processes. This interface enables testing without actual
// command execution.
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) (stdout, stderr []byte, err error)
}

// RealRunner executes actual system commands.
type RealRunner struct{}

// NewRealRunner creates a runner that executes real commands.
func NewRealRunner() *RealRunner {
	return &RealRunner{}
}

// Run executes a command and returns its stdout and stderr separately.
func (r *RealRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// ExitError is returned by FakeRunner for a nonzero exit.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode returns the process exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// exitCode extracts an exit code from err, or -1 when the process never ran.
func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	type exitCoder interface {
		ExitCode() int
	}
	var coder exitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}

	return -1
}

// Call is one invocation recorded by FakeRunner.
type Call struct {
	Name  string
	Args  []string
	Stdin string
}

// Line returns the call as a space separated command line, unquoted.
func (c Call) Line() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Response is the canned outcome of a fake invocation.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error // returned as-is; simulates a process that could not start
}

type rule struct {
	prefix string
	resp   Response
}

// FakeRunner is a test double for Runner. Calls are matched against
// registered prefixes, most recently registered first; unmatched calls
// succeed with no output.
type FakeRunner struct {
	mu    sync.Mutex
	rules []rule
	Calls []Call

	// Func, when set, is consulted before the prefix rules.
	Func func(call Call) (Response, bool)
}

// On registers resp for every call whose Line starts with prefix.
func (f *FakeRunner) On(prefix string, resp Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{prefix: prefix, resp: resp})
	return f
}

// Run records the call and returns the matching response.
func (f *FakeRunner) Run(_ context.Context, stdin io.Reader, name string, args ...string) ([]byte, []byte, error) {
	call := Call{Name: name, Args: append([]string(nil), args...)}
	if stdin != nil {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, nil, err
		}
		call.Stdin = string(data)
	}

	f.mu.Lock()
	f.Calls = append(f.Calls, call)
	fn := f.Func
	rules := append([]rule(nil), f.rules...)
	f.mu.Unlock()

	resp, ok := Response{}, false
	if fn != nil {
		resp, ok = fn(call)
	}
	if !ok {
		line := call.Line()
		for i := len(rules) - 1; i >= 0; i-- {
			if strings.HasPrefix(line, rules[i].prefix) {
				resp = rules[i].resp
				break
			}
		}
	}

	if resp.Err != nil {
		return nil, nil, resp.Err
	}
	var err error
	if resp.ExitCode != 0 {
		err = &ExitError{Code: resp.ExitCode}
	}
	return []byte(resp.Stdout), []byte(resp.Stderr), err
}

// Lines returns every recorded call as a command line.
func (f *FakeRunner) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		lines[i] = c.Line()
	}
	return lines
}

// Count returns how many recorded calls start with prefix.
func (f *FakeRunner) Count(prefix string) int {
	n := 0
	for _, line := range f.Lines() {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

// Find returns the first recorded call starting with prefix.
func (f *FakeRunner) Find(prefix string) (Call, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Calls {
		if strings.HasPrefix(c.Line(), prefix) {
			return c, true
		}
	}
	return Call{}, false
}
