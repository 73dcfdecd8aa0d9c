package objectstore

import (
	"strings"
	"testing"
)

func TestCreateBucketIdempotent(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.CreateBucket("acme", "uploads"); err != nil {
		t.Fatalf("first CreateBucket() error = %v", err)
	}
	if err := s.CreateBucket("acme", "uploads"); err != nil {
		t.Fatalf("second CreateBucket() error = %v, want nil", err)
	}
}

func TestDeleteBucketRefusesWhenNonEmpty(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Put("acme", "uploads", "k.txt", strings.NewReader("v"), "text/plain", nil)

	ok, err := s.DeleteBucket("acme", "uploads")
	if err != nil {
		t.Fatalf("DeleteBucket() error = %v", err)
	}
	if ok {
		t.Fatal("DeleteBucket() should refuse a non-empty bucket")
	}
}

func TestDeleteBucketSucceedsWhenEmpty(t *testing.T) {
	s := NewStore(t.TempDir())
	s.CreateBucket("acme", "uploads")

	ok, err := s.DeleteBucket("acme", "uploads")
	if err != nil {
		t.Fatalf("DeleteBucket() error = %v", err)
	}
	if !ok {
		t.Fatal("DeleteBucket() should succeed for an empty bucket")
	}
}

func TestDeleteBucketMissingIsSuccess(t *testing.T) {
	s := NewStore(t.TempDir())
	ok, err := s.DeleteBucket("acme", "never-created")
	if err != nil {
		t.Fatalf("DeleteBucket() error = %v", err)
	}
	if !ok {
		t.Fatal("DeleteBucket() on a missing bucket should report success")
	}
}

func TestListBuckets(t *testing.T) {
	s := NewStore(t.TempDir())
	s.CreateBucket("acme", "uploads")
	s.CreateBucket("acme", "exports")

	buckets, err := s.ListBuckets("acme")
	if err != nil {
		t.Fatalf("ListBuckets() error = %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("ListBuckets() = %v, want 2 entries", buckets)
	}
}
