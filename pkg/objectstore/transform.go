package objectstore

import (
	"bytes"
	"container/list"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// MaxTransformPixels bounds width*height for any requested transform, to
// keep a single request from exhausting memory on an oversized image.
const MaxTransformPixels = 64_000_000 // e.g. 8000x8000

// TransformFormats is the output-format allowlist for image transforms.
var TransformFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
}

// ErrTransformTooLarge is returned when a requested transform exceeds
// MaxTransformPixels.
var ErrTransformTooLarge = errors.New("objectstore: requested transform exceeds maximum pixel count")

// ErrTransformFormatUnsupported is returned for an output format not in
// TransformFormats.
var ErrTransformFormatUnsupported = errors.New("objectstore: unsupported transform output format")

// TransformSpec describes a requested image transform.
type TransformSpec struct {
	Width   int
	Height  int
	Format  string
	Quality int
}

// Validate checks a TransformSpec against the pixel-count and format
// allowlists before any work is done.
func (t TransformSpec) Validate() error {
	if t.Width > 0 && t.Height > 0 && t.Width*t.Height > MaxTransformPixels {
		return ErrTransformTooLarge
	}
	if !TransformFormats[t.Format] {
		return ErrTransformFormatUnsupported
	}
	return nil
}

// key uniquely identifies a cached transform.
func (t TransformSpec) key(tenant, bucket, objectKey, sourceETag string) string {
	return fmt.Sprintf("%s|%s|%s|%s|%dx%d|%s|%d", tenant, bucket, objectKey, sourceETag, t.Width, t.Height, t.Format, t.Quality)
}

type transformEntry struct {
	key       string
	data      []byte
	etag      string
	expiresAt time.Time
}

// TransformCache is an in-memory, TTL-and-capacity-bounded cache of
// rendered image transforms, evicting least-recently-used entries once
// capacity is reached.
type TransformCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

// NewTransformCache creates a TransformCache bounded by capacity entries,
// each valid for ttl.
func NewTransformCache(capacity int, ttl time.Duration) *TransformCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &TransformCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns a cached transform's bytes and ETag, if present and not
// expired.
func (c *TransformCache) Get(tenant, bucket, objectKey, sourceETag string, spec TransformSpec) ([]byte, string, bool) {
	k := spec.key(tenant, bucket, objectKey, sourceETag)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[k]
	if !ok {
		return nil, "", false
	}
	entry := el.Value.(*transformEntry)
	if time.Now().After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, k)
		return nil, "", false
	}

	c.order.MoveToFront(el)
	return entry.data, entry.etag, true
}

// Put stores a rendered transform, evicting the least-recently-used entry
// if the cache is at capacity.
func (c *TransformCache) Put(tenant, bucket, objectKey, sourceETag string, spec TransformSpec, data []byte, etag string) {
	k := spec.key(tenant, bucket, objectKey, sourceETag)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[k]; ok {
		el.Value.(*transformEntry).data = data
		el.Value.(*transformEntry).etag = etag
		el.Value.(*transformEntry).expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*transformEntry).key)
		}
	}

	entry := &transformEntry{key: k, data: data, etag: etag, expiresAt: time.Now().Add(c.ttl)}
	c.entries[k] = c.order.PushFront(entry)
}

// Len returns the number of entries currently cached, including any that
// have expired but not yet been evicted by a Get.
func (c *TransformCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Invalidate removes every cached transform for an object, used when a new
// version of the source object is written under a changed ETag.
func (c *TransformCache) Invalidate(tenant, bucket, objectKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := fmt.Sprintf("%s|%s|%s|", tenant, bucket, objectKey)
	for k, el := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			c.order.Remove(el)
			delete(c.entries, k)
		}
	}
}

// Render decodes src, resizes it to spec's dimensions (preserving aspect
// ratio when only one of Width/Height is set, via Fit if both are set),
// and re-encodes it as spec.Format. Called on a TransformCache miss.
func Render(src io.Reader, spec TransformSpec) ([]byte, error) {
	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("objectstore: decoding source image: %w", err)
	}

	switch {
	case spec.Width > 0 && spec.Height > 0:
		img = imaging.Fit(img, spec.Width, spec.Height, imaging.Lanczos)
	case spec.Width > 0:
		img = imaging.Resize(img, spec.Width, 0, imaging.Lanczos)
	case spec.Height > 0:
		img = imaging.Resize(img, 0, spec.Height, imaging.Lanczos)
	}

	var buf bytes.Buffer
	var format imaging.Format
	switch spec.Format {
	case "png":
		format = imaging.PNG
	default:
		format = imaging.JPEG
	}

	quality := spec.Quality
	if quality <= 0 {
		quality = 85
	}
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("objectstore: encoding transformed image: %w", err)
	}
	return buf.Bytes(), nil
}
