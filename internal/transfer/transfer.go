// Package transfer moves bytes between a sandbox and object storage. It
// prefers presigned grants so data flows from the sandbox straight to the
// bucket, and proxies through the engine when no grant can be issued.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gatewayplane/internal/objectstore"
	"gatewayplane/internal/presign"
	"gatewayplane/internal/sandbox"
)

// Mode reports how a transfer was carried out.
type Mode string

const (
	ModeGrant Mode = "grant"
	ModeProxy Mode = "proxy"
)

const (
	grantEnv        = "GATEWAYPLANE_GRANT_URL"
	exitNotFound    = 127
	stderrTailBytes = 512
)

// Transfer performs uploads and downloads for sandboxes.
type Transfer struct {
	store   objectstore.Store
	issuer  *presign.Issuer
	creds   presign.Credentials
	expiry  time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Transfer. A nil issuer disables the grant path.
func New(store objectstore.Store, issuer *presign.Issuer, creds presign.Credentials, timeout time.Duration, logger *slog.Logger) *Transfer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Transfer{
		store:   store,
		issuer:  issuer,
		creds:   creds,
		expiry:  presign.DefaultExpiry,
		timeout: timeout,
		logger:  logger,
	}
}

// Upload stores the stdout of producer, run inside sb, at key.
func (t *Transfer) Upload(ctx context.Context, sb sandbox.Sandbox, key, producer string) (Mode, error) {
	if url, ok := t.grant(ctx, key, "PUT"); ok {
		script := fmt.Sprintf(
			`tmp=$(mktemp) && { %s; } > "$tmp" && curl -fsS -X PUT -T "$tmp" "$%s"; rc=$?; rm -f "$tmp"; exit $rc`,
			producer, grantEnv)
		err := t.exec(ctx, sb, script, url, nil)
		if !errors.Is(err, errNoCurl) {
			return ModeGrant, err
		}
		t.logger.Warn("curl unavailable in sandbox, proxying upload", "sandbox", sb.Name(), "key", key)
	}

	res, err := sb.Exec(ctx, producer, sandbox.ExecOptions{Timeout: t.timeout})
	if err != nil {
		return ModeProxy, fmt.Errorf("upload %s: %w", key, err)
	}
	if res.ExitCode != 0 {
		return ModeProxy, fmt.Errorf("upload %s: producer exited with %d: %s", key, res.ExitCode, tail(res.Stderr))
	}
	if err := t.store.Put(ctx, key, []byte(res.Stdout), ""); err != nil {
		return ModeProxy, fmt.Errorf("upload %s: %w", key, err)
	}
	return ModeProxy, nil
}

// Download feeds the object at key to consumer's stdin inside sb.
func (t *Transfer) Download(ctx context.Context, sb sandbox.Sandbox, key, consumer string) (Mode, error) {
	if url, ok := t.grant(ctx, key, "GET"); ok {
		script := fmt.Sprintf(
			`tmp=$(mktemp) && curl -fsSL -o "$tmp" "$%s" && { %s; } < "$tmp"; rc=$?; rm -f "$tmp"; exit $rc`,
			grantEnv, consumer)
		err := t.exec(ctx, sb, script, url, nil)
		if !errors.Is(err, errNoCurl) {
			return ModeGrant, err
		}
		t.logger.Warn("curl unavailable in sandbox, proxying download", "sandbox", sb.Name(), "key", key)
	}

	data, err := t.store.Get(ctx, key)
	if err != nil {
		return ModeProxy, fmt.Errorf("download %s: %w", key, err)
	}
	return ModeProxy, t.exec(ctx, sb, consumer, "", data)
}

var errNoCurl = errors.New("transfer: curl not found")

func (t *Transfer) exec(ctx context.Context, sb sandbox.Sandbox, script, url string, stdin []byte) error {
	opts := sandbox.ExecOptions{Timeout: t.timeout}
	if url != "" {
		opts.Env = map[string]string{grantEnv: url}
	}
	if stdin != nil {
		opts.Stdin = bytes.NewReader(stdin)
	}
	res, err := sb.Exec(ctx, script, opts)
	if err != nil {
		return err
	}
	switch {
	case res.ExitCode == 0:
		return nil
	case res.ExitCode == exitNotFound && strings.Contains(res.Stderr, "curl"):
		return errNoCurl
	default:
		return fmt.Errorf("exited with %d: %s", res.ExitCode, tail(res.Stderr))
	}
}

func (t *Transfer) grant(ctx context.Context, key, method string) (string, bool) {
	if t.issuer == nil {
		return "", false
	}
	url, err := t.issuer.Issue(ctx, t.creds, key, method, t.expiry)
	if err != nil {
		if !errors.Is(err, presign.ErrGrantUnavailable) {
			t.logger.Warn("grant issue failed, proxying", "key", key, "error", err)
		}
		return "", false
	}
	return url, true
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTailBytes {
		return s[len(s)-stderrTailBytes:]
	}
	return s
}
