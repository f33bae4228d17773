package local

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"gatewayplane/internal/sandbox"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	p := NewProvider(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	sb, err := p.Get(context.Background(), "tenant-test")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return sb.(*Sandbox)
}

func TestExec(t *testing.T) {
	sb := newTestSandbox(t)
	ctx := context.Background()

	res, err := sb.Exec(ctx, `echo "$GREETING"; echo oops >&2; exit 3`, sandbox.ExecOptions{
		Env: map[string]string{"GREETING": "hello"},
	})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("unexpected stdout %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("unexpected stderr %q", res.Stderr)
	}
}

func TestExec_Stdin(t *testing.T) {
	sb := newTestSandbox(t)

	res, err := sb.Exec(context.Background(), "cat", sandbox.ExecOptions{Stdin: strings.NewReader("payload")})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if res.Stdout != "payload" {
		t.Errorf("expected payload, got %q", res.Stdout)
	}
}

func TestExec_Timeout(t *testing.T) {
	sb := newTestSandbox(t)

	_, err := sb.Exec(context.Background(), "sleep 5", sandbox.ExecOptions{Timeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestStartProcess_ListAndKill(t *testing.T) {
	sb := newTestSandbox(t)
	ctx := context.Background()

	p, err := sb.StartProcess(ctx, "sleep 30", sandbox.StartOptions{})
	if err != nil {
		t.Fatalf("StartProcess failed: %v", err)
	}
	if p.Status() != sandbox.StatusRunning {
		t.Errorf("expected running, got %s", p.Status())
	}

	procs, _ := sb.ListProcesses(ctx)
	if len(procs) != 1 || procs[0].Command() != "sleep 30" {
		t.Fatalf("unexpected process list: %v", procs)
	}

	if err := p.Kill(ctx); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	if p.Status() != sandbox.StatusTerminated {
		t.Errorf("expected terminated after kill, got %s", p.Status())
	}
	if err := p.Kill(ctx); err != nil {
		t.Errorf("second Kill should be a no-op, got %v", err)
	}
}

func TestListProcesses_ForgetsExitedProcesses(t *testing.T) {
	sb := newTestSandbox(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := sb.StartProcess(ctx, "true", sandbox.StartOptions{})
		if err != nil {
			t.Fatalf("StartProcess failed: %v", err)
		}
		deadline := time.Now().Add(5 * time.Second)
		for p.Status().Alive() {
			if time.Now().After(deadline) {
				t.Fatal("process did not exit")
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	live, err := sb.StartProcess(ctx, "sleep 30", sandbox.StartOptions{})
	if err != nil {
		t.Fatalf("StartProcess failed: %v", err)
	}
	defer live.Kill(ctx)

	procs, _ := sb.ListProcesses(ctx)
	if len(procs) != 1 || procs[0].ID() != live.ID() {
		t.Fatalf("expected only the live process after a start, got %d entries", len(procs))
	}

	if err := live.Kill(ctx); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	procs, _ = sb.ListProcesses(ctx)
	if len(procs) != 1 || procs[0].Status() != sandbox.StatusTerminated {
		t.Fatalf("expected the killed process to be reported once, got %v", procs)
	}
	if procs, _ = sb.ListProcesses(ctx); len(procs) != 0 {
		t.Errorf("expected exited processes to be forgotten, got %d", len(procs))
	}
}

func TestWaitForPort(t *testing.T) {
	sb := newTestSandbox(t)
	ctx := context.Background()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	p, err := sb.StartProcess(ctx, "sleep 30", sandbox.StartOptions{})
	if err != nil {
		t.Fatalf("StartProcess failed: %v", err)
	}
	defer p.Kill(ctx)

	if err := p.WaitForPort(ctx, port, 2*time.Second); err != nil {
		t.Errorf("expected port ready, got %v", err)
	}
}

func TestWaitForPort_ProcessExits(t *testing.T) {
	sb := newTestSandbox(t)
	ctx := context.Background()

	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	p, err := sb.StartProcess(ctx, "echo boom >&2; exit 1", sandbox.StartOptions{})
	if err != nil {
		t.Fatalf("StartProcess failed: %v", err)
	}
	if err := p.WaitForPort(ctx, port, 5*time.Second); err == nil {
		t.Fatal("expected error when process exits")
	}
	logs, _ := p.Logs(ctx)
	if strings.TrimSpace(logs.Stderr) != "boom" {
		t.Errorf("unexpected stderr %q", logs.Stderr)
	}
}
