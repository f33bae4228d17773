// Package objectstore wraps the tenant-visible object storage bucket:
// registration markers, data-dir backups, synced files, secrets and
// gateway config overlays.
package objectstore

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

var ErrNotFound = errors.New("objectstore: not found")

// ObjectInfo is the metadata returned by Head.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is the subset of object storage operations the engine relies on.
type Store interface {
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

func BackupKey(tenantID string) string  { return "tenants/" + tenantID + "/backup.tar.gz" }
func OverlayKey(tenantID string) string { return "tenants/" + tenantID + "/gateway.yaml" }
func MarkerKey(tenantID string) string  { return "registry/tenants/" + tenantID + ".json" }
func SecretsKey(tenantID string) string { return "secrets/" + tenantID + ".json" }

// FileKey maps a sandbox file path to its synced object key. The path is
// cleaned so it cannot escape the tenant prefix.
func FileKey(tenantID, filePath string) string {
	clean := strings.TrimPrefix(path.Clean("/"+filePath), "/")
	return "tenants/" + tenantID + "/files/" + clean
}
