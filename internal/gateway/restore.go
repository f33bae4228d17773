package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kballard/go-shellquote"

	"gatewayplane/internal/objectstore"
	"gatewayplane/internal/sandbox"
	"gatewayplane/internal/transfer"
)

// Restorer unpacks a tenant's last backup into an empty data dir.
type Restorer struct {
	objects  objectstore.Store
	transfer *transfer.Transfer
	dataDir  string
	logger   *slog.Logger
}

func NewRestorer(objects objectstore.Store, tr *transfer.Transfer, dataDir string, logger *slog.Logger) *Restorer {
	return &Restorer{objects: objects, transfer: tr, dataDir: dataDir, logger: logger}
}

// Restore is a no-op when there is no backup or the data dir already has
// content.
func (r *Restorer) Restore(ctx context.Context, sb sandbox.Sandbox, tenantID string) error {
	key := objectstore.BackupKey(tenantID)
	if _, err := r.objects.Head(ctx, key); err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to check backup: %w", err)
	}

	dir := shellquote.Join(r.dataDir)
	res, err := sb.Exec(ctx, fmt.Sprintf(`mkdir -p %s && [ -z "$(ls -A %s)" ]`, dir, dir), sandbox.ExecOptions{})
	if err != nil {
		return fmt.Errorf("failed to inspect data dir: %w", err)
	}
	if res.ExitCode != 0 {
		r.logger.Debug("data dir not empty, skipping restore", "tenant_id", tenantID)
		return nil
	}

	mode, err := r.transfer.Download(ctx, sb, key, "tar xzf - -C "+dir)
	if err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}
	r.logger.Info("restored data dir from backup", "tenant_id", tenantID, "mode", mode)
	return nil
}
