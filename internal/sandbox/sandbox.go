// Package sandbox defines the contract between the engine and the compute
// sandboxes that host tenant gateways.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"regexp"
	"strings"
	"time"
)

// ProcessStatus is the lifecycle state reported for a sandbox process.
type ProcessStatus string

const (
	StatusStarting   ProcessStatus = "starting"
	StatusRunning    ProcessStatus = "running"
	StatusTerminated ProcessStatus = "terminated"
	StatusError      ProcessStatus = "error"
)

// Alive reports whether the process is starting or running.
func (s ProcessStatus) Alive() bool {
	return s == StatusStarting || s == StatusRunning
}

// Logs holds the captured output of a process.
type Logs struct {
	Stdout string
	Stderr string
}

// Process is a handle to a process inside a sandbox.
type Process interface {
	ID() string
	Command() string
	Status() ProcessStatus
	StartedAt() time.Time

	// WaitForPort blocks until the process accepts TCP connections on port,
	// the timeout elapses or ctx is cancelled.
	WaitForPort(ctx context.Context, port int, timeout time.Duration) error

	// Logs returns everything the process has written so far.
	Logs(ctx context.Context) (Logs, error)

	// Kill terminates the process. Killing an exited process is not an error.
	Kill(ctx context.Context) error
}

// StartOptions contains the parameters for starting a long-lived process.
type StartOptions struct {
	Env     map[string]string
	WorkDir string
}

// ExecOptions contains the parameters for running a command to completion.
type ExecOptions struct {
	Env     map[string]string
	Stdin   io.Reader
	Timeout time.Duration
}

// ExecResult is the outcome of a completed command.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Sandbox is an isolated compute environment owned by one tenant.
type Sandbox interface {
	Name() string

	ListProcesses(ctx context.Context) ([]Process, error)

	StartProcess(ctx context.Context, command string, opts StartOptions) (Process, error)

	// Exec runs a short command to completion. A non-zero exit code is
	// reported in the result, not as an error.
	Exec(ctx context.Context, command string, opts ExecOptions) (ExecResult, error)
}

// Provider resolves sandboxes by name, creating them on first use.
type Provider interface {
	Get(ctx context.Context, name string) (Sandbox, error)
}

var (
	tenantIDPattern  = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	invalidNameChars = regexp.MustCompile(`[^a-z0-9]+`)
)

// MaxTenantIDLength bounds tenant IDs so sandbox names stay valid hostnames.
const MaxTenantIDLength = 63

// ValidTenantID reports whether id is a canonical tenant ID: lowercase
// alphanumerics separated by single hyphens.
func ValidTenantID(id string) bool {
	return len(id) <= MaxTenantIDLength && tenantIDPattern.MatchString(id)
}

// NameFor returns the sandbox name used for a tenant. Canonical IDs map to
// "tenant-<id>". Anything else gets a digest suffix after a double hyphen,
// which no canonical ID contains, so distinct IDs never share a sandbox.
func NameFor(tenantID string) string {
	if ValidTenantID(tenantID) {
		return "tenant-" + tenantID
	}
	name := invalidNameChars.ReplaceAllString(strings.ToLower(tenantID), "-")
	name = strings.Trim(name, "-")
	if len(name) > 32 {
		name = strings.TrimRight(name[:32], "-")
	}
	if name == "" {
		name = "x"
	}
	sum := sha256.Sum256([]byte(tenantID))
	return "tenant-" + name + "--" + hex.EncodeToString(sum[:6])
}

// EnvList flattens an env map into KEY=VALUE pairs.
func EnvList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	return list
}
