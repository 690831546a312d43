package lxc

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/clean-dependency-project/sitectl/internal/shell"
)

// Simulator emulates the lxc client for tests. Plug Handle into
// shell.FakeRunner.Func; calls it does not model (exec, file) fall through to
// the runner's prefix rules.
type Simulator struct {
	mu         sync.Mutex
	containers map[string]*Info
	pending    map[string]int
	nextHost   int

	// AddressDelay is how many lookups a started container answers without an address.
	AddressDelay int
	// NeverAddress keeps started containers without an address forever.
	NeverAddress bool
}

// NewSimulator creates an empty simulated LXD host.
func NewSimulator() *Simulator {
	return &Simulator{
		containers: make(map[string]*Info),
		pending:    make(map[string]int),
		nextHost:   10,
	}
}

// Add registers an existing container.
func (s *Simulator) Add(name string, state State, ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containers[name] = &Info{Name: name, State: state, IPv4: ip}
}

// Get returns the simulated container, if present.
func (s *Simulator) Get(name string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[name]
	if !ok {
		return Info{}, false
	}
	return *c, true
}

// Handle answers lxc list/launch/copy/start/stop/delete.
func (s *Simulator) Handle(call shell.Call) (shell.Response, bool) {
	if call.Name != "lxc" || len(call.Args) == 0 {
		return shell.Response{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	args := call.Args
	switch args[0] {
	case "list":
		filter := ""
		if len(args) > 5 {
			filter = strings.TrimSuffix(strings.TrimPrefix(args[5], "^"), "$")
		}
		return shell.Response{Stdout: s.listLocked(filter)}, true
	case "launch":
		name := args[2]
		if _, ok := s.containers[name]; ok {
			return failure("Error: Failed creating instance record: Instance %q already exists", name), true
		}
		s.containers[name] = &Info{Name: name}
		s.startLocked(name)
		return shell.Response{}, true
	case "copy":
		src, dst := args[1], args[2]
		if _, ok := s.containers[src]; !ok {
			return failure("Error: Instance %q not found", src), true
		}
		s.containers[dst] = &Info{Name: dst, State: StateStopped}
		return shell.Response{}, true
	case "start":
		if _, ok := s.containers[args[1]]; !ok {
			return failure("Error: Instance %q not found", args[1]), true
		}
		s.startLocked(args[1])
		return shell.Response{}, true
	case "stop":
		c, ok := s.containers[args[1]]
		if !ok {
			return failure("Error: Instance %q not found", args[1]), true
		}
		if c.State != StateRunning {
			return failure("Error: The instance is already stopped"), true
		}
		c.State, c.IPv4 = StateStopped, ""
		return shell.Response{}, true
	case "delete":
		c, ok := s.containers[args[1]]
		if !ok {
			return failure("Error: Instance %q not found", args[1]), true
		}
		if c.State == StateRunning {
			return failure("Error: The instance is currently running, stop it first"), true
		}
		delete(s.containers, args[1])
		return shell.Response{}, true
	}
	return shell.Response{}, false
}

func (s *Simulator) startLocked(name string) {
	c := s.containers[name]
	c.State = StateRunning
	c.IPv4 = ""
	s.pending[name] = s.AddressDelay
}

func (s *Simulator) listLocked(filter string) string {
	names := make([]string, 0, len(s.containers))
	for name := range s.containers {
		if filter == "" || name == filter {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		c := s.containers[name]
		if c.State == StateRunning && c.IPv4 == "" && !s.NeverAddress {
			if s.pending[name] > 0 {
				s.pending[name]--
			} else {
				c.IPv4 = fmt.Sprintf("10.0.3.%d", s.nextHost)
				s.nextHost++
			}
		}
		state := "STOPPED"
		if c.State == StateRunning {
			state = "RUNNING"
		}
		addr := ""
		if c.IPv4 != "" {
			addr = `"` + c.IPv4 + ` (eth0)"`
		}
		fmt.Fprintf(&b, "%s,%s,%s\n", c.Name, state, addr)
	}
	return b.String()
}

func failure(format string, args ...any) shell.Response {
	return shell.Response{ExitCode: 1, Stderr: fmt.Sprintf(format, args...)}
}
