package objectstore

import (
	"strings"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	meta, err := s.Put("acme", "uploads", "a/b.txt", strings.NewReader("hello world"), "text/plain", map[string]string{"x": "1"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if meta.Size != 11 {
		t.Errorf("Size = %d, want 11", meta.Size)
	}
	if meta.ETag == "" {
		t.Error("ETag should not be empty")
	}

	r, got, err := s.Get("acme", "uploads", "a/b.txt")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer r.Close()
	if got.ETag != meta.ETag {
		t.Errorf("Get() etag = %q, want %q", got.ETag, meta.ETag)
	}
}

func TestHeadNotFound(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Head("acme", "uploads", "missing.txt"); err != ErrNotFound {
		t.Fatalf("Head() error = %v, want ErrNotFound", err)
	}
}

func TestPutOverwritePreservesCreatedAt(t *testing.T) {
	s := NewStore(t.TempDir())

	first, err := s.Put("acme", "uploads", "k.txt", strings.NewReader("v1"), "text/plain", nil)
	if err != nil {
		t.Fatalf("first Put() error = %v", err)
	}

	second, err := s.Put("acme", "uploads", "k.txt", strings.NewReader("v2, longer"), "text/plain", nil)
	if err != nil {
		t.Fatalf("second Put() error = %v", err)
	}

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed across overwrite: %v != %v", second.CreatedAt, first.CreatedAt)
	}
	if second.ETag == first.ETag {
		t.Error("ETag should change when content changes")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Put("acme", "uploads", "k.txt", strings.NewReader("v"), "text/plain", nil)

	if err := s.Delete("acme", "uploads", "k.txt"); err != nil {
		t.Fatalf("first Delete() error = %v", err)
	}
	if err := s.Delete("acme", "uploads", "k.txt"); err != nil {
		t.Fatalf("second Delete() on missing object error = %v, want nil", err)
	}
}

func TestListFiltersByPrefix(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Put("acme", "uploads", "logs/a.txt", strings.NewReader("a"), "text/plain", nil)
	s.Put("acme", "uploads", "logs/b.txt", strings.NewReader("b"), "text/plain", nil)
	s.Put("acme", "uploads", "images/c.png", strings.NewReader("c"), "image/png", nil)

	metas, err := s.List("acme", "uploads", "logs/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("List() returned %d items, want 2", len(metas))
	}
	if metas[0].Key != "logs/a.txt" || metas[1].Key != "logs/b.txt" {
		t.Errorf("List() order = %v", metas)
	}
}

func TestGetRangeReadsSubset(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Put("acme", "uploads", "k.txt", strings.NewReader("0123456789"), "text/plain", nil)

	r, _, err := s.GetRange("acme", "uploads", "k.txt", 2, 3)
	if err != nil {
		t.Fatalf("GetRange() error = %v", err)
	}
	defer r.Close()

	buf := make([]byte, 16)
	n, _ := r.Read(buf)
	if string(buf[:n]) != "234" {
		t.Errorf("GetRange() content = %q, want %q", buf[:n], "234")
	}
}
