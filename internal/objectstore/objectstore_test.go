package objectstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Head(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Put(ctx, "tenants/a/files/x", []byte("hello"), "text/plain"))

	info, err := m.Head(ctx, "tenants/a/files/x")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "text/plain", info.ContentType)

	data, err := m.Get(ctx, "tenants/a/files/x")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	assert.Equal(t, []string{"tenants/a/files/x"}, m.Keys("tenants/a/"))
	assert.Empty(t, m.Keys("tenants/b/"))
}

func TestFileKey(t *testing.T) {
	assert.Equal(t, "tenants/acme/files/workspace/notes.md", FileKey("acme", "workspace/notes.md"))
	assert.Equal(t, "tenants/acme/files/workspace/notes.md", FileKey("acme", "/workspace/./notes.md"))
	assert.Equal(t, "tenants/acme/files/etc/passwd", FileKey("acme", "../../etc/passwd"))
}

func TestMapError(t *testing.T) {
	err := mapError("k", &types.NoSuchKey{})
	assert.ErrorIs(t, err, ErrNotFound)

	err = mapError("k", &types.NotFound{})
	assert.ErrorIs(t, err, ErrNotFound)

	err = mapError("k", errors.New("access denied"))
	assert.NotErrorIs(t, err, ErrNotFound)
}
