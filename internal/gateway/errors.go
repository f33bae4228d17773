package gateway

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrStartupFailed = errors.New("gateway: startup failed")
	ErrClosed        = errors.New("gateway: coordinator closed")
)

const stderrTailLines = 20

// StartupError reports a gateway that did not become ready.
type StartupError struct {
	TenantID string
	Sandbox  string
	// Stderr is the tail of the process's stderr, if it was captured.
	Stderr string
	Err    error
}

func (e *StartupError) Error() string {
	msg := fmt.Sprintf("gateway startup failed for tenant %s (sandbox %s): %v", e.TenantID, e.Sandbox, e.Err)
	if e.Stderr != "" {
		msg += "\nstderr:\n" + e.Stderr
	}
	return msg
}

func (e *StartupError) Unwrap() error { return e.Err }

func (e *StartupError) Is(target error) bool { return target == ErrStartupFailed }

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
