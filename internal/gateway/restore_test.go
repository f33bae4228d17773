package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewayplane/internal/objectstore"
	"gatewayplane/internal/presign"
	"gatewayplane/internal/sandbox"
	"gatewayplane/internal/sandbox/sandboxtest"
	"gatewayplane/internal/transfer"
)

func newTestRestorer(objects objectstore.Store) *Restorer {
	tr := transfer.New(objects, nil, presign.Credentials{}, time.Minute, discardLogger())
	return NewRestorer(objects, tr, "/data", discardLogger())
}

func TestRestore_NoBackup(t *testing.T) {
	sb := sandboxtest.New("tenant-a")
	err := newTestRestorer(objectstore.NewMemory()).Restore(context.Background(), sb, "a")
	require.NoError(t, err)
	assert.Empty(t, sb.Execs())
}

func TestRestore_SkipsNonEmptyDataDir(t *testing.T) {
	ctx := context.Background()
	objects := objectstore.NewMemory()
	objects.Put(ctx, objectstore.BackupKey("a"), []byte("tgz"), "")

	sb := sandboxtest.New("tenant-a")
	sb.ExecFunc = func(ctx context.Context, cmd string, opts sandbox.ExecOptions) (sandbox.ExecResult, error) {
		return sandbox.ExecResult{ExitCode: 1}, nil
	}

	require.NoError(t, newTestRestorer(objects).Restore(ctx, sb, "a"))
	assert.Len(t, sb.Execs(), 1)
}

func TestRestore_EmptyDataDir(t *testing.T) {
	ctx := context.Background()
	objects := objectstore.NewMemory()
	objects.Put(ctx, objectstore.BackupKey("a"), []byte("tgz"), "")

	sb := sandboxtest.New("tenant-a")
	require.NoError(t, newTestRestorer(objects).Restore(ctx, sb, "a"))

	calls := sb.Execs()
	require.Len(t, calls, 2)
	assert.True(t, strings.HasPrefix(calls[1].Command, "tar xzf - -C /data"))
	assert.Equal(t, "tgz", string(calls[1].Stdin))
}
