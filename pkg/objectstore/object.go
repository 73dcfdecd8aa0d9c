package objectstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wisbric/tansucloud/pkg/etagutil"
)

// ErrNotFound is returned when an object or bucket does not exist.
var ErrNotFound = errors.New("objectstore: not found")

// Meta is the sidecar metadata persisted alongside each object's data file.
type Meta struct {
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	ETag        string            `json:"etag"`
	ContentType string            `json:"contentType"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	ModifiedAt  time.Time         `json:"modifiedAt"`
}

// Store is a filesystem-backed object store rooted at a Layout.
type Store struct {
	layout *Layout
}

// NewStore creates a Store rooted at root.
func NewStore(root string) *Store {
	return &Store{layout: NewLayout(root)}
}

// Put writes an object's data and metadata sidecar, overwriting any
// existing object at the same key.
func (s *Store) Put(tenant, bucket, key string, r io.Reader, contentType string, userMeta map[string]string) (Meta, error) {
	path := s.layout.ObjectPath(tenant, bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Meta{}, fmt.Errorf("creating object directory for %s: %w", key, err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return Meta{}, fmt.Errorf("creating temp file for %s: %w", key, err)
	}

	hasher := etagutil.NewHasher()
	size, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return Meta{}, fmt.Errorf("writing object %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return Meta{}, fmt.Errorf("closing object %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return Meta{}, fmt.Errorf("finalizing object %s: %w", key, err)
	}

	now := time.Now().UTC()
	createdAt := now
	if existing, err := s.readMeta(tenant, bucket, key); err == nil {
		createdAt = existing.CreatedAt
	}

	meta := Meta{
		Key:         key,
		Size:        size,
		ETag:        hasher.WeakETag(),
		ContentType: contentType,
		Metadata:    userMeta,
		CreatedAt:   createdAt,
		ModifiedAt:  now,
	}
	if err := s.writeMeta(tenant, bucket, key, meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// Head returns an object's metadata without reading its body.
func (s *Store) Head(tenant, bucket, key string) (Meta, error) {
	return s.readMeta(tenant, bucket, key)
}

// Get opens an object's data for reading in full. Callers must close the
// returned ReadCloser.
func (s *Store) Get(tenant, bucket, key string) (io.ReadCloser, Meta, error) {
	meta, err := s.readMeta(tenant, bucket, key)
	if err != nil {
		return nil, Meta{}, err
	}
	f, err := os.Open(s.layout.ObjectPath(tenant, bucket, key))
	if os.IsNotExist(err) {
		return nil, Meta{}, ErrNotFound
	}
	if err != nil {
		return nil, Meta{}, fmt.Errorf("opening object %s: %w", key, err)
	}
	return f, meta, nil
}

// GetRange opens a byte range [offset, offset+length) of an object's data.
// length <= 0 means "to the end of the file".
func (s *Store) GetRange(tenant, bucket, key string, offset, length int64) (io.ReadCloser, Meta, error) {
	meta, err := s.readMeta(tenant, bucket, key)
	if err != nil {
		return nil, Meta{}, err
	}
	f, err := os.Open(s.layout.ObjectPath(tenant, bucket, key))
	if os.IsNotExist(err) {
		return nil, Meta{}, ErrNotFound
	}
	if err != nil {
		return nil, Meta{}, fmt.Errorf("opening object %s: %w", key, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, Meta{}, fmt.Errorf("seeking object %s: %w", key, err)
	}
	if length <= 0 {
		return f, meta, nil
	}
	return &limitedReadCloser{r: io.LimitReader(f, length), c: f}, meta, nil
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }

// Delete idempotently removes an object and its metadata sidecar; missing
// is success.
func (s *Store) Delete(tenant, bucket, key string) error {
	dataPath := s.layout.ObjectPath(tenant, bucket, key)
	metaPath := s.layout.MetaPath(tenant, bucket, key)

	if err := os.Remove(dataPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting object %s: %w", key, err)
	}
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting metadata for %s: %w", key, err)
	}
	return nil
}

// List returns objects in a bucket whose key has the given prefix, sorted
// lexicographically by key.
func (s *Store) List(tenant, bucket, prefix string) ([]Meta, error) {
	dir := s.layout.BucketDir(tenant, bucket)

	var metas []Meta
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == ".multipart" {
				return filepath.SkipDir
			}
			return nil
		}
		if IsMetaFile(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}

		meta, err := s.readMeta(tenant, bucket, key)
		if err != nil {
			return nil
		}
		metas = append(metas, meta)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing objects in %s/%s: %w", tenant, bucket, err)
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].Key < metas[j].Key })
	return metas, nil
}

func (s *Store) readMeta(tenant, bucket, key string) (Meta, error) {
	data, err := os.ReadFile(s.layout.MetaPath(tenant, bucket, key))
	if os.IsNotExist(err) {
		return Meta{}, ErrNotFound
	}
	if err != nil {
		return Meta{}, fmt.Errorf("reading metadata for %s: %w", key, err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("decoding metadata for %s: %w", key, err)
	}
	return meta, nil
}

func (s *Store) writeMeta(tenant, bucket, key string, meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding metadata for %s: %w", key, err)
	}
	path := s.layout.MetaPath(tenant, bucket, key)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing metadata for %s: %w", key, err)
	}
	return nil
}
