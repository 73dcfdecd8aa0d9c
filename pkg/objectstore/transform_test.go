package objectstore

import (
	"testing"
	"time"
)

func TestTransformSpecValidateRejectsOversized(t *testing.T) {
	spec := TransformSpec{Width: 10000, Height: 10000, Format: "jpeg"}
	if err := spec.Validate(); err != ErrTransformTooLarge {
		t.Fatalf("Validate() error = %v, want ErrTransformTooLarge", err)
	}
}

func TestTransformSpecValidateRejectsBadFormat(t *testing.T) {
	spec := TransformSpec{Width: 100, Height: 100, Format: "bmp"}
	if err := spec.Validate(); err != ErrTransformFormatUnsupported {
		t.Fatalf("Validate() error = %v, want ErrTransformFormatUnsupported", err)
	}
}

func TestTransformCachePutGet(t *testing.T) {
	c := NewTransformCache(10, time.Minute)
	spec := TransformSpec{Width: 100, Height: 100, Format: "jpeg", Quality: 80}

	c.Put("acme", "uploads", "img.png", "etag1", spec, []byte("rendered"), "W/\"out\"")
	data, etag, ok := c.Get("acme", "uploads", "img.png", "etag1", spec)
	if !ok {
		t.Fatal("Get() miss, want hit")
	}
	if string(data) != "rendered" || etag != "W/\"out\"" {
		t.Errorf("Get() = (%q, %q)", data, etag)
	}
}

func TestTransformCacheMissOnDifferentSourceETag(t *testing.T) {
	c := NewTransformCache(10, time.Minute)
	spec := TransformSpec{Width: 100, Height: 100, Format: "jpeg"}

	c.Put("acme", "uploads", "img.png", "etag1", spec, []byte("rendered"), "tag")
	if _, _, ok := c.Get("acme", "uploads", "img.png", "etag2", spec); ok {
		t.Fatal("Get() should miss when the source object's ETag has changed")
	}
}

func TestTransformCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewTransformCache(2, time.Minute)
	spec := func(w int) TransformSpec { return TransformSpec{Width: w, Height: w, Format: "jpeg"} }

	c.Put("acme", "uploads", "img.png", "e", spec(1), []byte("a"), "t1")
	c.Put("acme", "uploads", "img.png", "e", spec(2), []byte("b"), "t2")
	c.Get("acme", "uploads", "img.png", "e", spec(1)) // touch spec(1), making spec(2) the LRU
	c.Put("acme", "uploads", "img.png", "e", spec(3), []byte("c"), "t3")

	if _, _, ok := c.Get("acme", "uploads", "img.png", "e", spec(2)); ok {
		t.Fatal("spec(2) should have been evicted as least-recently-used")
	}
	if _, _, ok := c.Get("acme", "uploads", "img.png", "e", spec(1)); !ok {
		t.Fatal("spec(1) should still be cached")
	}
}

func TestTransformCacheInvalidate(t *testing.T) {
	c := NewTransformCache(10, time.Minute)
	spec := TransformSpec{Width: 100, Height: 100, Format: "jpeg"}

	c.Put("acme", "uploads", "img.png", "e", spec, []byte("a"), "t")
	c.Invalidate("acme", "uploads", "img.png")

	if _, _, ok := c.Get("acme", "uploads", "img.png", "e", spec); ok {
		t.Fatal("Get() should miss after Invalidate")
	}
}
