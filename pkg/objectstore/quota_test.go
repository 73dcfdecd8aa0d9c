package objectstore

import (
	"log/slog"
	"strings"
	"testing"
)

func TestQuotaEvaluateNoLimitsConfigured(t *testing.T) {
	s := NewStore(t.TempDir())
	q := NewQuotaTracker(s, slog.Default())

	if got := q.Evaluate("acme", 1_000_000_000); got != ViolationNone {
		t.Errorf("Evaluate() = %v, want ViolationNone", got)
	}
}

func TestQuotaEvaluateBytesViolation(t *testing.T) {
	s := NewStore(t.TempDir())
	q := NewQuotaTracker(s, slog.Default())
	q.SetLimits("acme", Limits{MaxBytes: 100})

	if got := q.Evaluate("acme", 200); got != ViolationBytes {
		t.Errorf("Evaluate() = %v, want ViolationBytes", got)
	}
}

func TestQuotaEvaluateObjectCountViolation(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Put("acme", "uploads", "existing.txt", strings.NewReader("x"), "text/plain", nil)

	q := NewQuotaTracker(s, slog.Default())
	if _, err := q.Scan("acme"); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	q.SetLimits("acme", Limits{MaxObjectCount: 1})

	if got := q.Evaluate("acme", 1); got != ViolationObjectCount {
		t.Errorf("Evaluate() = %v, want ViolationObjectCount", got)
	}
}

func TestQuotaScanReflectsOnDiskUsage(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Put("acme", "uploads", "a.txt", strings.NewReader("12345"), "text/plain", nil)
	s.Put("acme", "uploads", "b.txt", strings.NewReader("123"), "text/plain", nil)

	q := NewQuotaTracker(s, slog.Default())
	usage, err := q.Scan("acme")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if usage.Bytes != 8 {
		t.Errorf("Bytes = %d, want 8", usage.Bytes)
	}
	if usage.ObjectCount != 2 {
		t.Errorf("ObjectCount = %d, want 2", usage.ObjectCount)
	}

	q.SetLimits("acme", Limits{MaxBytes: 10})
	if got := q.Evaluate("acme", 1); got != ViolationNone {
		t.Errorf("Evaluate() after scan = %v, want ViolationNone", got)
	}
	if got := q.Evaluate("acme", 3); got != ViolationBytes {
		t.Errorf("Evaluate() after scan = %v, want ViolationBytes", got)
	}
}
