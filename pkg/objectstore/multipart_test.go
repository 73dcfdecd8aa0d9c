package objectstore

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestUploadIDIsTwelveBytesHex(t *testing.T) {
	s := NewStore(t.TempDir())

	uploadID, err := s.InitiateMultipart("acme", "uploads", "k.bin", "application/octet-stream")
	if err != nil {
		t.Fatalf("InitiateMultipart() error = %v", err)
	}
	if len(uploadID) != 24 {
		t.Fatalf("uploadID = %q, want 24 hex characters (12 bytes)", uploadID)
	}
	for _, c := range uploadID {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("uploadID = %q, contains non-hex character %q", uploadID, c)
		}
	}
}

func TestPartFileNameIsZeroPadded(t *testing.T) {
	if got := partFileName(7); got != "part-000007" {
		t.Errorf("partFileName(7) = %q, want part-000007", got)
	}
	if n, ok := parsePartFileName("part-000007"); !ok || n != 7 {
		t.Errorf("parsePartFileName(%q) = (%d, %v), want (7, true)", "part-000007", n, ok)
	}
}

func TestMultipartCompleteAssemblesParts(t *testing.T) {
	s := NewStore(t.TempDir())

	uploadID, err := s.InitiateMultipart("acme", "uploads", "big.bin", "application/octet-stream")
	if err != nil {
		t.Fatalf("InitiateMultipart() error = %v", err)
	}

	part1 := bytes.Repeat([]byte("a"), MinPartSize)
	part2 := []byte("tail")

	if _, err := s.UploadPart("acme", "uploads", "big.bin", uploadID, 1, bytes.NewReader(part1)); err != nil {
		t.Fatalf("UploadPart(1) error = %v", err)
	}
	if _, err := s.UploadPart("acme", "uploads", "big.bin", uploadID, 2, bytes.NewReader(part2)); err != nil {
		t.Fatalf("UploadPart(2) error = %v", err)
	}

	meta, err := s.CompleteMultipart("acme", "uploads", "big.bin", uploadID, nil)
	if err != nil {
		t.Fatalf("CompleteMultipart() error = %v", err)
	}
	if meta.Size != int64(len(part1)+len(part2)) {
		t.Errorf("Size = %d, want %d", meta.Size, len(part1)+len(part2))
	}

	r, _, err := s.Get("acme", "uploads", "big.bin")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer r.Close()
}

func TestMultipartCompleteRejectsUndersizedNonFinalPart(t *testing.T) {
	s := NewStore(t.TempDir())

	uploadID, _ := s.InitiateMultipart("acme", "uploads", "small.bin", "application/octet-stream")
	s.UploadPart("acme", "uploads", "small.bin", uploadID, 1, strings.NewReader("too small"))
	s.UploadPart("acme", "uploads", "small.bin", uploadID, 2, strings.NewReader("also small"))

	if _, err := s.CompleteMultipart("acme", "uploads", "small.bin", uploadID, nil); err != ErrPartTooSmall {
		t.Fatalf("CompleteMultipart() error = %v, want ErrPartTooSmall", err)
	}
}

func TestMultipartAbortRemovesWorkingDirectory(t *testing.T) {
	s := NewStore(t.TempDir())

	uploadID, _ := s.InitiateMultipart("acme", "uploads", "k.bin", "application/octet-stream")
	s.UploadPart("acme", "uploads", "k.bin", uploadID, 1, strings.NewReader("data"))

	if err := s.AbortMultipart("acme", "uploads", "k.bin", uploadID); err != nil {
		t.Fatalf("AbortMultipart() error = %v", err)
	}

	if _, err := s.ListParts("acme", "uploads", "k.bin", uploadID); err != ErrNotFound {
		t.Fatalf("ListParts() after abort error = %v, want ErrNotFound", err)
	}
}

func TestCleanupStaleMultipartUploads(t *testing.T) {
	s := NewStore(t.TempDir())
	s.CreateBucket("acme", "uploads")

	uploadID, _ := s.InitiateMultipart("acme", "uploads", "k.bin", "application/octet-stream")
	s.UploadPart("acme", "uploads", "k.bin", uploadID, 1, strings.NewReader("data"))

	removed, err := s.CleanupStaleMultipartUploads("acme", "uploads", -1*time.Second)
	if err != nil {
		t.Fatalf("CleanupStaleMultipartUploads() error = %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}
