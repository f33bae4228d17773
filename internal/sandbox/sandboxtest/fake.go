// Package sandboxtest provides in-memory sandboxes for tests.
package sandboxtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"gatewayplane/internal/sandbox"
)

// Process is a controllable sandbox.Process.
type Process struct {
	mu sync.Mutex

	PID     string
	Cmd     string
	State   sandbox.ProcessStatus
	Started time.Time
	Output  sandbox.Logs

	// WaitForPortFunc overrides WaitForPort when set.
	WaitForPortFunc func(ctx context.Context, port int, timeout time.Duration) error
	// WaitErr is returned by WaitForPort when WaitForPortFunc is nil.
	WaitErr error

	Killed bool
}

func (p *Process) ID() string           { return p.PID }
func (p *Process) Command() string      { return p.Cmd }
func (p *Process) StartedAt() time.Time { return p.Started }

func (p *Process) Status() sandbox.ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.State
}

func (p *Process) WaitForPort(ctx context.Context, port int, timeout time.Duration) error {
	if p.WaitForPortFunc != nil {
		return p.WaitForPortFunc(ctx, port, timeout)
	}
	return p.WaitErr
}

func (p *Process) Logs(ctx context.Context) (sandbox.Logs, error) {
	return p.Output, nil
}

func (p *Process) Kill(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Killed = true
	p.State = sandbox.StatusTerminated
	return nil
}

// ExecCall records one Exec invocation.
type ExecCall struct {
	Command string
	Opts    sandbox.ExecOptions
	Stdin   []byte
}

// Sandbox is a controllable sandbox.Sandbox.
type Sandbox struct {
	mu sync.Mutex

	SandboxName string
	Procs       []sandbox.Process
	ListErr     error

	// StartProcessFunc overrides StartProcess when set.
	StartProcessFunc func(ctx context.Context, command string, opts sandbox.StartOptions) (sandbox.Process, error)
	// ExecFunc overrides Exec when set. The default returns exit code 0.
	ExecFunc func(ctx context.Context, command string, opts sandbox.ExecOptions) (sandbox.ExecResult, error)

	StartCalls []string
	StartEnvs  []map[string]string
	ExecCalls  []ExecCall
}

// New returns an empty fake sandbox.
func New(name string) *Sandbox {
	return &Sandbox{SandboxName: name}
}

func (s *Sandbox) Name() string { return s.SandboxName }

func (s *Sandbox) ListProcesses(ctx context.Context) ([]sandbox.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := make([]sandbox.Process, len(s.Procs))
	copy(out, s.Procs)
	return out, nil
}

func (s *Sandbox) StartProcess(ctx context.Context, command string, opts sandbox.StartOptions) (sandbox.Process, error) {
	s.mu.Lock()
	s.StartCalls = append(s.StartCalls, command)
	s.StartEnvs = append(s.StartEnvs, opts.Env)
	fn := s.StartProcessFunc
	n := len(s.StartCalls)
	s.mu.Unlock()

	var (
		p   sandbox.Process
		err error
	)
	if fn != nil {
		p, err = fn(ctx, command, opts)
	} else {
		p = &Process{PID: fmt.Sprintf("%d", 100+n), Cmd: command, State: sandbox.StatusRunning, Started: time.Now()}
	}
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.Procs = append(s.Procs, p)
	s.mu.Unlock()
	return p, nil
}

func (s *Sandbox) Exec(ctx context.Context, command string, opts sandbox.ExecOptions) (sandbox.ExecResult, error) {
	call := ExecCall{Command: command, Opts: opts}
	if opts.Stdin != nil {
		call.Stdin, _ = io.ReadAll(opts.Stdin)
	}
	s.mu.Lock()
	s.ExecCalls = append(s.ExecCalls, call)
	fn := s.ExecFunc
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, command, opts)
	}
	return sandbox.ExecResult{}, nil
}

// Starts returns the number of StartProcess calls.
func (s *Sandbox) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.StartCalls)
}

// Execs returns a snapshot of recorded Exec calls.
func (s *Sandbox) Execs() []ExecCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ExecCall, len(s.ExecCalls))
	copy(out, s.ExecCalls)
	return out
}

// Provider hands out fake sandboxes by name.
type Provider struct {
	mu        sync.Mutex
	sandboxes map[string]*Sandbox
	Err       error
}

func NewProvider() *Provider {
	return &Provider{sandboxes: make(map[string]*Sandbox)}
}

func (p *Provider) Get(ctx context.Context, name string) (sandbox.Sandbox, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Sandbox(name), nil
}

// Sandbox returns the fake for name, creating it if needed.
func (p *Provider) Sandbox(name string) *Sandbox {
	p.mu.Lock()
	defer p.mu.Unlock()
	sb, ok := p.sandboxes[name]
	if !ok {
		sb = New(name)
		p.sandboxes[name] = sb
	}
	return sb
}

// ErrPortTimeout is a convenience error for readiness failures.
var ErrPortTimeout = errors.New("sandboxtest: port not ready")
