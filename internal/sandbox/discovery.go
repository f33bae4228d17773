package sandbox

import (
	"context"
	"log/slog"
	"strings"
)

// Signature describes which command lines identify a gateway process.
type Signature struct {
	// Launch lists substrings of which at least one must appear.
	Launch []string
	// Exclude lists substrings that mark one-shot CLI invocations of the
	// gateway binary, which share the launch prefix.
	Exclude []string
}

// DefaultSignature matches the stock gateway launcher.
var DefaultSignature = Signature{
	Launch: []string{"start-gateway.sh", "gateway run", "gateway serve"},
	Exclude: []string{
		"gateway call",
		"gateway status",
		"gateway devices",
		"gateway config",
		"gateway --version",
		"gateway help",
	},
}

// Matches reports whether command is a gateway launch.
func (s Signature) Matches(command string) bool {
	for _, ex := range s.Exclude {
		if strings.Contains(command, ex) {
			return false
		}
	}
	for _, l := range s.Launch {
		if strings.Contains(command, l) {
			return true
		}
	}
	return false
}

// FindGateway returns the live gateway process in sb, or nil if none is
// found. Listing failures are logged and treated as absence.
func FindGateway(ctx context.Context, sb Sandbox, sig Signature, log *slog.Logger) Process {
	procs, err := sb.ListProcesses(ctx)
	if err != nil {
		log.Warn("process discovery failed", "sandbox", sb.Name(), "error", err)
		return nil
	}
	for _, p := range procs {
		if !p.Status().Alive() {
			continue
		}
		if sig.Matches(p.Command()) {
			return p
		}
	}
	return nil
}
