package objectstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// CreateBucket idempotently creates a bucket directory.
func (s *Store) CreateBucket(tenant, bucket string) error {
	dir := s.layout.BucketDir(tenant, bucket)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating bucket %s/%s: %w", tenant, bucket, err)
	}
	return nil
}

// DeleteBucket idempotently removes a bucket: missing is success. Deletion
// succeeds only if no user files remain (meta sidecars are ignored);
// otherwise it returns false without deleting anything.
func (s *Store) DeleteBucket(tenant, bucket string) (bool, error) {
	dir := s.layout.BucketDir(tenant, bucket)

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading bucket %s/%s: %w", tenant, bucket, err)
	}

	for _, e := range entries {
		if e.Name() == ".multipart" {
			continue
		}
		if e.IsDir() || !IsMetaFile(e.Name()) {
			return false, nil
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("removing bucket %s/%s: %w", tenant, bucket, err)
	}
	return true, nil
}

// ListBuckets returns the bucket names under a tenant's root.
func (s *Store) ListBuckets(tenant string) ([]string, error) {
	dir := s.layout.TenantDir(tenant)

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing buckets for tenant %s: %w", tenant, err)
	}

	var buckets []string
	for _, e := range entries {
		if e.IsDir() {
			buckets = append(buckets, filepath.Base(e.Name()))
		}
	}
	return buckets, nil
}
