package objectstore

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/wisbric/tansucloud/pkg/etagutil"
)

// MinPartSize is the minimum size of any part except the last one.
const MinPartSize = 5 * 1024 * 1024

// ErrPartTooSmall is returned by CompleteMultipart when a non-final part
// is smaller than MinPartSize.
var ErrPartTooSmall = errors.New("objectstore: part smaller than minimum size")

// multipartInfo is persisted as upload.json inside an upload's working
// directory so an in-progress upload survives process restarts.
type multipartInfo struct {
	UploadID    string    `json:"uploadId"`
	Tenant      string    `json:"tenant"`
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	ContentType string    `json:"contentType"`
	StartedAt   time.Time `json:"startedAt"`
}

// PartInfo describes one uploaded part.
type PartInfo struct {
	PartNumber int    `json:"partNumber"`
	Size       int64  `json:"size"`
	ETag       string `json:"etag"`
}

// InitiateMultipart starts a new multipart upload and returns its upload ID.
func (s *Store) InitiateMultipart(tenant, bucket, key, contentType string) (string, error) {
	uploadID, err := newUploadID()
	if err != nil {
		return "", fmt.Errorf("initiating multipart upload for %s: %w", key, err)
	}
	dir := s.layout.MultipartDir(tenant, bucket, key, uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("initiating multipart upload for %s: %w", key, err)
	}

	info := multipartInfo{
		UploadID: uploadID, Tenant: tenant, Bucket: bucket, Key: key,
		ContentType: contentType, StartedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("encoding multipart upload info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "upload.json"), data, 0o644); err != nil {
		return "", fmt.Errorf("persisting multipart upload info: %w", err)
	}
	return uploadID, nil
}

// UploadPart writes one part's data into the upload's working directory.
func (s *Store) UploadPart(tenant, bucket, key, uploadID string, partNumber int, r io.Reader) (PartInfo, error) {
	dir := s.layout.MultipartDir(tenant, bucket, key, uploadID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return PartInfo{}, ErrNotFound
	}

	path := filepath.Join(dir, partFileName(partNumber))
	f, err := os.Create(path)
	if err != nil {
		return PartInfo{}, fmt.Errorf("creating part %d for %s: %w", partNumber, key, err)
	}

	hasher := etagutil.NewHasher()
	size, err := io.Copy(io.MultiWriter(f, hasher), r)
	closeErr := f.Close()
	if err != nil {
		os.Remove(path)
		return PartInfo{}, fmt.Errorf("writing part %d for %s: %w", partNumber, key, err)
	}
	if closeErr != nil {
		return PartInfo{}, fmt.Errorf("closing part %d for %s: %w", partNumber, key, closeErr)
	}

	return PartInfo{PartNumber: partNumber, Size: size, ETag: hasher.WeakETag()}, nil
}

// ListParts returns the parts uploaded so far, ordered by part number.
func (s *Store) ListParts(tenant, bucket, key, uploadID string) ([]PartInfo, error) {
	dir := s.layout.MultipartDir(tenant, bucket, key, uploadID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("listing parts for %s: %w", key, err)
	}

	var parts []PartInfo
	for _, e := range entries {
		n, ok := parsePartFileName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		hasher := etagutil.NewHasher()
		hasher.Write(data)
		parts = append(parts, PartInfo{PartNumber: n, Size: info.Size(), ETag: hasher.WeakETag()})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}

// CompleteMultipart concatenates uploaded parts in order into the final
// object, validating that every part except the last meets MinPartSize,
// then removes the upload's working directory.
func (s *Store) CompleteMultipart(tenant, bucket, key, uploadID string, userMeta map[string]string) (Meta, error) {
	parts, err := s.ListParts(tenant, bucket, key, uploadID)
	if err != nil {
		return Meta{}, err
	}
	if len(parts) == 0 {
		return Meta{}, fmt.Errorf("completing multipart upload for %s: no parts uploaded", key)
	}
	for i, p := range parts {
		if i < len(parts)-1 && p.Size < MinPartSize {
			return Meta{}, ErrPartTooSmall
		}
	}

	dir := s.layout.MultipartDir(tenant, bucket, key, uploadID)
	path := s.layout.ObjectPath(tenant, bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Meta{}, fmt.Errorf("creating object directory for %s: %w", key, err)
	}

	info, err := s.readMultipartInfo(dir)
	if err != nil {
		return Meta{}, err
	}

	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return Meta{}, fmt.Errorf("assembling object %s: %w", key, err)
	}

	hasher := etagutil.NewHasher()
	var total int64
	for _, p := range parts {
		partPath := filepath.Join(dir, partFileName(p.PartNumber))
		in, err := os.Open(partPath)
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return Meta{}, fmt.Errorf("reading part %d for %s: %w", p.PartNumber, key, err)
		}
		n, err := io.Copy(io.MultiWriter(out, hasher), in)
		in.Close()
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return Meta{}, fmt.Errorf("appending part %d for %s: %w", p.PartNumber, key, err)
		}
		total += n
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return Meta{}, fmt.Errorf("finalizing object %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return Meta{}, fmt.Errorf("committing object %s: %w", key, err)
	}

	now := time.Now().UTC()
	meta := Meta{
		Key: key, Size: total, ETag: hasher.WeakETag(),
		ContentType: info.ContentType, Metadata: userMeta,
		CreatedAt: now, ModifiedAt: now,
	}
	if err := s.writeMeta(tenant, bucket, key, meta); err != nil {
		return Meta{}, err
	}

	_ = os.RemoveAll(dir)
	return meta, nil
}

// AbortMultipart discards an in-progress upload's working directory.
// Missing is success.
func (s *Store) AbortMultipart(tenant, bucket, key, uploadID string) error {
	dir := s.layout.MultipartDir(tenant, bucket, key, uploadID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("aborting multipart upload for %s: %w", key, err)
	}
	return nil
}

// CleanupStaleMultipartUploads removes multipart working directories whose
// upload.json is older than maxAge, returning the number removed. Intended
// to run periodically, in the manner of a background worker.
func (s *Store) CleanupStaleMultipartUploads(tenant, bucket string, maxAge time.Duration) (int, error) {
	root := filepath.Join(s.layout.BucketDir(tenant, bucket), ".multipart")
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scanning multipart uploads: %w", err)
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, keyDir := range entries {
		keyPath := filepath.Join(root, keyDir.Name())
		uploadDirs, err := os.ReadDir(keyPath)
		if err != nil {
			continue
		}
		for _, uploadDir := range uploadDirs {
			info, err := s.readMultipartInfo(filepath.Join(keyPath, uploadDir.Name()))
			if err != nil {
				continue
			}
			if info.StartedAt.Before(cutoff) {
				if err := os.RemoveAll(filepath.Join(keyPath, uploadDir.Name())); err == nil {
					removed++
				}
			}
		}
	}
	return removed, nil
}

func (s *Store) readMultipartInfo(dir string) (multipartInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, "upload.json"))
	if os.IsNotExist(err) {
		return multipartInfo{}, ErrNotFound
	}
	if err != nil {
		return multipartInfo{}, fmt.Errorf("reading multipart upload info: %w", err)
	}
	var info multipartInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return multipartInfo{}, fmt.Errorf("decoding multipart upload info: %w", err)
	}
	return info, nil
}

// newUploadID returns a 12-byte random value, hex-encoded.
func newUploadID() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating upload id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func partFileName(n int) string {
	return fmt.Sprintf("part-%06d", n)
}

func parsePartFileName(name string) (int, bool) {
	const prefix = "part-"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return 0, false
	}
	n, err := strconv.Atoi(name[len(prefix):])
	if err != nil {
		return 0, false
	}
	return n, true
}
