// Package objectstore is TansuCloud's filesystem-backed object storage
// core: bucket/object CRUD, multipart upload, presigned URLs, quotas, and
// response compression/image transforms. Background sweeps (multipart
// cleanup, quota scans) follow the same periodic-worker shape used
// throughout the rest of the codebase.
package objectstore

import (
	"path/filepath"
	"strings"
)

const metaSuffix = ".meta.json"

// Layout resolves tenant/bucket/key logical names to on-disk paths rooted
// at root/{tenant}/{bucket}/{key}.
type Layout struct {
	Root string
}

// NewLayout creates a Layout rooted at root.
func NewLayout(root string) *Layout {
	return &Layout{Root: root}
}

// TenantDir returns the tenant's root directory.
func (l *Layout) TenantDir(tenant string) string {
	return filepath.Join(l.Root, sanitize(tenant))
}

// BucketDir returns a bucket's directory.
func (l *Layout) BucketDir(tenant, bucket string) string {
	return filepath.Join(l.TenantDir(tenant), sanitize(bucket))
}

// ObjectPath returns the on-disk path of an object's data file. key uses
// "/" as its logical separator, converted to the platform separator.
func (l *Layout) ObjectPath(tenant, bucket, key string) string {
	return filepath.Join(l.BucketDir(tenant, bucket), filepath.FromSlash(key))
}

// MetaPath returns the sidecar metadata file path for an object.
func (l *Layout) MetaPath(tenant, bucket, key string) string {
	return l.ObjectPath(tenant, bucket, key) + metaSuffix
}

// MultipartDir returns the working directory for an in-progress multipart
// upload.
func (l *Layout) MultipartDir(tenant, bucket, key, uploadID string) string {
	return filepath.Join(l.BucketDir(tenant, bucket), ".multipart", sanitize(key), uploadID)
}

// IsMetaFile reports whether a directory entry name is a metadata
// sidecar that listings must skip.
func IsMetaFile(name string) bool {
	return strings.HasSuffix(name, metaSuffix)
}

// sanitize guards against path traversal in logical names that become
// single directory components (tenant, bucket): any path separator is
// replaced so the component can never escape its parent directory.
func sanitize(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	return strings.ReplaceAll(name, `\`, "_")
}
