// Package docker implements sandboxes as long-lived Docker containers.
// Gateway processes are started with docker exec and tracked by PID.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"

	"gatewayplane/internal/sandbox"
)

const (
	labelSandbox = "gatewayplane.sandbox"
	stateDir     = "/tmp/gatewayplane"
)

// Provider creates and resolves sandbox containers.
type Provider struct {
	client  *client.Client
	image   string
	network string
	logger  *slog.Logger
}

// NewProvider creates a Docker-backed provider. The client is configured
// from the standard environment variables (DOCKER_HOST, etc.).
func NewProvider(image, network string, logger *slog.Logger) (*Provider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &Provider{client: cli, image: image, network: network, logger: logger}, nil
}

// Close releases the Docker client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Get implements sandbox.Provider. Missing containers are created from the
// configured image and kept alive with an idle command.
func (p *Provider) Get(ctx context.Context, name string) (sandbox.Sandbox, error) {
	info, err := p.client.ContainerInspect(ctx, name)
	if err != nil {
		if !cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("failed to inspect sandbox %s: %w", name, err)
		}
		if err := p.create(ctx, name); err != nil {
			return nil, err
		}
		info, err = p.client.ContainerInspect(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect sandbox %s: %w", name, err)
		}
	}

	if info.State == nil || !info.State.Running {
		if err := p.client.ContainerStart(ctx, info.ID, container.StartOptions{}); err != nil {
			return nil, fmt.Errorf("failed to start sandbox %s: %w", name, err)
		}
	}

	return &Sandbox{
		client: p.client,
		id:     info.ID,
		name:   name,
		logger: p.logger.With("sandbox", name),
	}, nil
}

func (p *Provider) create(ctx context.Context, name string) error {
	if _, err := p.client.ImageInspect(ctx, p.image); err != nil {
		reader, err := p.client.ImagePull(ctx, p.image, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("failed to pull image %s: %w", p.image, err)
		}
		defer reader.Close()
		io.Copy(io.Discard, reader)
	}

	cfg := &container.Config{
		Image:  p.image,
		Cmd:    []string{"sleep", "infinity"},
		Labels: map[string]string{labelSandbox: name},
	}
	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}
	if p.network != "" {
		hostCfg.NetworkMode = container.NetworkMode(p.network)
	}

	if _, err := p.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name); err != nil {
		return fmt.Errorf("failed to create sandbox %s: %w", name, err)
	}
	p.logger.Info("sandbox container created", "sandbox", name, "image", p.image)
	return nil
}

// Sandbox is a running container.
type Sandbox struct {
	client *client.Client
	id     string
	name   string
	logger *slog.Logger
}

func (s *Sandbox) Name() string { return s.name }

// ListProcesses parses ps output from inside the container.
func (s *Sandbox) ListProcesses(ctx context.Context) ([]sandbox.Process, error) {
	res, err := s.run(ctx, psCommand, nil, nil)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("ps exited with %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	entries := parsePS(res.Stdout, time.Now())
	procs := make([]sandbox.Process, 0, len(entries))
	for _, e := range entries {
		if e.infrastructure() {
			continue
		}
		procs = append(procs, &process{sb: s, pid: e.pid, command: e.args, status: e.status, started: e.started})
	}
	return procs, nil
}

// StartProcess runs command detached. A wrapper records the PID under a
// unique tag and redirects output to per-PID log files.
func (s *Sandbox) StartProcess(ctx context.Context, command string, opts sandbox.StartOptions) (sandbox.Process, error) {
	tag := uuid.NewString()
	wrapper := fmt.Sprintf(
		`mkdir -p %[1]s; echo $$ > %[1]s/%[2]s.pid; exec sh -c "$0" >%[1]s/$$.out 2>%[1]s/$$.err`,
		stateDir, tag)

	resp, err := s.client.ContainerExecCreate(ctx, s.id, container.ExecOptions{
		Cmd:        []string{"sh", "-c", wrapper, command},
		Env:        sandbox.EnvList(opts.Env),
		WorkingDir: opts.WorkDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}
	if err := s.client.ContainerExecStart(ctx, resp.ID, container.ExecStartOptions{Detach: true}); err != nil {
		return nil, fmt.Errorf("failed to start exec: %w", err)
	}

	pid, err := s.readPID(ctx, tag)
	if err != nil {
		return nil, err
	}
	s.logger.Info("process started", "pid", pid)

	return &process{
		sb:      s,
		pid:     pid,
		command: "sh -c " + command,
		status:  sandbox.StatusStarting,
		started: time.Now(),
	}, nil
}

func (s *Sandbox) readPID(ctx context.Context, tag string) (string, error) {
	path := stateDir + "/" + tag + ".pid"
	for i := 0; i < 20; i++ {
		res, err := s.run(ctx, []string{"cat", path}, nil, nil)
		if err != nil {
			return "", err
		}
		if pid := strings.TrimSpace(res.Stdout); res.ExitCode == 0 && pid != "" {
			return pid, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return "", fmt.Errorf("process did not report a pid (tag %s)", tag)
}

func (s *Sandbox) Exec(ctx context.Context, command string, opts sandbox.ExecOptions) (sandbox.ExecResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	return s.run(ctx, []string{"sh", "-c", command}, sandbox.EnvList(opts.Env), opts.Stdin)
}

func (s *Sandbox) run(ctx context.Context, cmd, env []string, stdin io.Reader) (sandbox.ExecResult, error) {
	resp, err := s.client.ContainerExecCreate(ctx, s.id, container.ExecOptions{
		Cmd:          cmd,
		Env:          env,
		AttachStdin:  stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return sandbox.ExecResult{}, fmt.Errorf("failed to create exec: %w", err)
	}

	att, err := s.client.ContainerExecAttach(ctx, resp.ID, container.ExecAttachOptions{})
	if err != nil {
		return sandbox.ExecResult{}, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer att.Close()

	if stdin != nil {
		go func() {
			io.Copy(att.Conn, stdin)
			att.CloseWrite()
		}()
	}

	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, att.Reader)
		copied <- err
	}()

	select {
	case err := <-copied:
		if err != nil {
			return sandbox.ExecResult{}, fmt.Errorf("failed to read exec output: %w", err)
		}
	case <-ctx.Done():
		return sandbox.ExecResult{}, fmt.Errorf("exec %s: %w", shellquote.Join(cmd...), ctx.Err())
	}

	insp, err := s.client.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return sandbox.ExecResult{}, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return sandbox.ExecResult{
		ExitCode: insp.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

func (s *Sandbox) address(ctx context.Context) (string, error) {
	info, err := s.client.ContainerInspect(ctx, s.id)
	if err != nil {
		return "", fmt.Errorf("failed to inspect sandbox: %w", err)
	}
	if info.NetworkSettings != nil {
		for _, ep := range info.NetworkSettings.Networks {
			if ep != nil && ep.IPAddress != "" {
				return ep.IPAddress, nil
			}
		}
	}
	return "", fmt.Errorf("sandbox %s has no IP address", s.name)
}

type process struct {
	sb      *Sandbox
	pid     string
	command string
	status  sandbox.ProcessStatus
	started time.Time
}

func (p *process) ID() string                    { return p.pid }
func (p *process) Command() string               { return p.command }
func (p *process) Status() sandbox.ProcessStatus { return p.status }
func (p *process) StartedAt() time.Time          { return p.started }

func (p *process) alive(ctx context.Context) bool {
	res, err := p.sb.run(ctx, []string{"kill", "-0", p.pid}, nil, nil)
	return err == nil && res.ExitCode == 0
}

func (p *process) WaitForPort(ctx context.Context, port int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	host, err := p.sb.address(ctx)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			p.status = sandbox.StatusRunning
			return nil
		}
		if ctx.Err() == nil && !p.alive(ctx) {
			p.status = sandbox.StatusTerminated
			return fmt.Errorf("process %s exited before port %d was ready", p.pid, port)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("port %d not ready after %s: %w", port, timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *process) Logs(ctx context.Context) (sandbox.Logs, error) {
	var logs sandbox.Logs
	out, err := p.sb.run(ctx, []string{"cat", stateDir + "/" + p.pid + ".out"}, nil, nil)
	if err != nil {
		return logs, err
	}
	errOut, err := p.sb.run(ctx, []string{"cat", stateDir + "/" + p.pid + ".err"}, nil, nil)
	if err != nil {
		return logs, err
	}
	if out.ExitCode == 0 {
		logs.Stdout = out.Stdout
	}
	if errOut.ExitCode == 0 {
		logs.Stderr = errOut.Stdout
	}
	return logs, nil
}

func (p *process) Kill(ctx context.Context) error {
	res, err := p.sb.run(ctx, []string{"kill", "-9", p.pid}, nil, nil)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "No such process") {
		return fmt.Errorf("kill %s exited with %d: %s", p.pid, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	p.status = sandbox.StatusTerminated
	return nil
}

type psEntry struct {
	pid     string
	status  sandbox.ProcessStatus
	started time.Time
	args    string
}

var psCommand = []string{"ps", "-eo", "pid=,stat=,etimes=,args="}

// infrastructure reports processes the backend itself owns: the container's
// keepalive init and the listing command.
func (e psEntry) infrastructure() bool {
	return e.pid == "1" || e.args == strings.Join(psCommand, " ")
}

// parsePS parses `ps -eo pid=,stat=,etimes=,args=` output.
func parsePS(out string, now time.Time) []psEntry {
	var entries []psEntry
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		secs, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		status := sandbox.StatusRunning
		switch fields[1][0] {
		case 'Z', 'X':
			status = sandbox.StatusTerminated
		}
		entries = append(entries, psEntry{
			pid:     fields[0],
			status:  status,
			started: now.Add(-time.Duration(secs) * time.Second),
			args:    strings.Join(fields[3:], " "),
		})
	}
	return entries
}
