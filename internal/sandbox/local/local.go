// Package local implements sandboxes as directories on the host, with
// processes run through os/exec. It is meant for development and tests.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"gatewayplane/internal/sandbox"
)

// Provider hands out host-directory sandboxes under a root directory.
type Provider struct {
	root   string
	logger *slog.Logger

	mu        sync.Mutex
	sandboxes map[string]*Sandbox
}

// NewProvider creates a provider rooted at root. An empty root uses the
// system temp directory.
func NewProvider(root string, logger *slog.Logger) *Provider {
	if root == "" {
		root = filepath.Join(os.TempDir(), "gatewayplane", "sandboxes")
	}
	return &Provider{
		root:      root,
		logger:    logger,
		sandboxes: make(map[string]*Sandbox),
	}
}

// Get implements sandbox.Provider.
func (p *Provider) Get(ctx context.Context, name string) (sandbox.Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sb, ok := p.sandboxes[name]; ok {
		return sb, nil
	}
	dir := filepath.Join(p.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox dir: %w", err)
	}
	sb := &Sandbox{name: name, dir: dir, logger: p.logger.With("sandbox", name)}
	p.sandboxes[name] = sb
	return sb, nil
}

// Sandbox is a working directory plus the processes started in it.
type Sandbox struct {
	name   string
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	procs  []*process
	nextID int
}

func (s *Sandbox) Name() string { return s.name }

// Dir returns the sandbox working directory.
func (s *Sandbox) Dir() string { return s.dir }

// ListProcesses reports every tracked process. A process that has exited
// is reported once more and then forgotten.
func (s *Sandbox) ListProcesses(ctx context.Context) ([]sandbox.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sandbox.Process, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, p)
	}
	s.pruneLocked()
	return out, nil
}

func (s *Sandbox) pruneLocked() {
	s.procs = slices.DeleteFunc(s.procs, func(p *process) bool {
		return !p.Status().Alive()
	})
}

func (s *Sandbox) StartProcess(ctx context.Context, command string, opts sandbox.StartOptions) (sandbox.Process, error) {
	// Not CommandContext: the process must outlive the request that started it.
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = s.workDir(opts.WorkDir)
	cmd.Env = append(os.Environ(), sandbox.EnvList(opts.Env)...)

	p := &process{
		cmd:     cmd,
		command: command,
		status:  sandbox.StatusStarting,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	s.mu.Lock()
	s.nextID++
	p.id = strconv.Itoa(s.nextID)
	s.pruneLocked()
	s.procs = append(s.procs, p)
	s.mu.Unlock()

	p.setStatus(sandbox.StatusRunning)
	go p.wait(s.logger)

	return p, nil
}

func (s *Sandbox) Exec(ctx context.Context, command string, opts sandbox.ExecOptions) (sandbox.ExecResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.dir
	cmd.Env = append(os.Environ(), sandbox.EnvList(opts.Env)...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	res := sandbox.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return res, fmt.Errorf("exec %q: %w", command, ctx.Err())
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("exec %q: %w", command, err)
	}
	return res, nil
}

func (s *Sandbox) workDir(dir string) string {
	if dir == "" {
		return s.dir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(s.dir, dir)
}

type process struct {
	id      string
	cmd     *exec.Cmd
	command string
	started time.Time
	done    chan struct{}

	stdout syncBuffer
	stderr syncBuffer

	mu     sync.Mutex
	status sandbox.ProcessStatus
}

func (p *process) ID() string           { return p.id }
func (p *process) Command() string      { return p.command }
func (p *process) StartedAt() time.Time { return p.started }

func (p *process) Status() sandbox.ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *process) setStatus(s sandbox.ProcessStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Never move out of a terminal state.
	if p.status == sandbox.StatusTerminated || p.status == sandbox.StatusError {
		return
	}
	p.status = s
}

func (p *process) wait(logger *slog.Logger) {
	err := p.cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.setStatus(sandbox.StatusTerminated)
		} else {
			p.setStatus(sandbox.StatusError)
		}
		logger.Debug("process exited", "pid", p.id, "error", err)
	} else {
		p.setStatus(sandbox.StatusTerminated)
	}
	close(p.done)
}

func (p *process) WaitForPort(ctx context.Context, port int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-p.done:
			return fmt.Errorf("process %s exited before port %d was ready", p.id, port)
		case <-ctx.Done():
			return fmt.Errorf("port %d not ready after %s: %w", port, timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *process) Logs(ctx context.Context) (sandbox.Logs, error) {
	return sandbox.Logs{Stdout: p.stdout.String(), Stderr: p.stderr.String()}, nil
}

func (p *process) Kill(ctx context.Context) error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process %s: %w", p.id, err)
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
