package restart

import (
	"context"

	"github.com/kballard/go-shellquote"

	"gatewayplane/internal/objectstore"
	"gatewayplane/internal/sandbox"
	"gatewayplane/internal/transfer"
)

// SandboxFlusher archives the gateway data dir to the tenant's backup key.
type SandboxFlusher struct {
	transfer *transfer.Transfer
	dataDir  string
}

func NewSandboxFlusher(tr *transfer.Transfer, dataDir string) *SandboxFlusher {
	return &SandboxFlusher{transfer: tr, dataDir: dataDir}
}

func (f *SandboxFlusher) Flush(ctx context.Context, sb sandbox.Sandbox, tenantID string) (FlushResult, error) {
	producer := "tar czf - -C " + shellquote.Join(f.dataDir) + " ."
	mode, err := f.transfer.Upload(ctx, sb, objectstore.BackupKey(tenantID), producer)
	return FlushResult{Mode: string(mode)}, err
}
