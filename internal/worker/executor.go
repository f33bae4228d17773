package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/kballard/go-shellquote"

	"gatewayplane/internal/objectstore"
	"gatewayplane/internal/sandbox"
	"gatewayplane/internal/syncqueue"
	"gatewayplane/internal/transfer"
)

// Uploader stores the output of a command run inside a sandbox.
type Uploader interface {
	Upload(ctx context.Context, sb sandbox.Sandbox, key, producer string) (transfer.Mode, error)
}

// SandboxExecutor syncs a file from a tenant's sandbox to object storage.
// Relative job paths are resolved against the gateway data dir.
type SandboxExecutor struct {
	provider sandbox.Provider
	uploader Uploader
	dataDir  string
	logger   *slog.Logger
}

func NewSandboxExecutor(provider sandbox.Provider, uploader Uploader, dataDir string, logger *slog.Logger) *SandboxExecutor {
	return &SandboxExecutor{provider: provider, uploader: uploader, dataDir: dataDir, logger: logger}
}

func (e *SandboxExecutor) Execute(ctx context.Context, job syncqueue.Job) error {
	sb, err := e.provider.Get(ctx, sandbox.NameFor(job.TenantID))
	if err != nil {
		return fmt.Errorf("failed to resolve sandbox: %w", err)
	}

	src := job.Path
	if !path.IsAbs(src) && e.dataDir != "" {
		src = path.Join(e.dataDir, src)
	}
	key := objectstore.FileKey(job.TenantID, job.Path)

	mode, err := e.uploader.Upload(ctx, sb, key, "cat -- "+shellquote.Join(src))
	if err != nil {
		return err
	}
	e.logger.Debug("file synced", "tenant_id", job.TenantID, "path", job.Path, "key", key, "mode", mode)
	return nil
}
