package objectstore

import "testing"

func TestSanitizeStripsPathSeparators(t *testing.T) {
	tests := map[string]string{
		"acme":        "acme",
		"../escape":   ".._escape",
		"a/b":         "a_b",
		`a\b`:         "a_b",
	}
	for in, want := range tests {
		if got := sanitize(in); got != want {
			t.Errorf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestObjectPathJoinsUnderBucketDir(t *testing.T) {
	l := NewLayout("/data")
	got := l.ObjectPath("acme", "uploads", "a/b.txt")
	want := "/data/acme/uploads/a/b.txt"
	if got != want {
		t.Errorf("ObjectPath() = %q, want %q", got, want)
	}
}

func TestMetaPathAddsSuffix(t *testing.T) {
	l := NewLayout("/data")
	got := l.MetaPath("acme", "uploads", "k.txt")
	want := "/data/acme/uploads/k.txt.meta.json"
	if got != want {
		t.Errorf("MetaPath() = %q, want %q", got, want)
	}
}

func TestIsMetaFile(t *testing.T) {
	if !IsMetaFile("k.txt.meta.json") {
		t.Error("IsMetaFile() = false for a meta sidecar, want true")
	}
	if IsMetaFile("k.txt") {
		t.Error("IsMetaFile() = true for a data file, want false")
	}
}
