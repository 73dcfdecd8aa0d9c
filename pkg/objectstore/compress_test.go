package objectstore

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestShouldCompress(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"text/html", true},
		{"image/png", false},
		{"application/octet-stream", false},
	}
	for _, tt := range tests {
		if got := ShouldCompress(tt.contentType); got != tt.want {
			t.Errorf("ShouldCompress(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}

func TestAcceptsBrotli(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	if !AcceptsBrotli(req) {
		t.Error("AcceptsBrotli() = false, want true")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("Accept-Encoding", "gzip")
	if AcceptsBrotli(req2) {
		t.Error("AcceptsBrotli() = true, want false")
	}
}

func TestServeCompressedSetsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := ServeCompressed(rec, strings.NewReader("hello world"), 5); err != nil {
		t.Fatalf("ServeCompressed() error = %v", err)
	}
	if rec.Header().Get("Content-Encoding") != "br" {
		t.Errorf("Content-Encoding = %q, want br", rec.Header().Get("Content-Encoding"))
	}
	if rec.Body.Len() == 0 {
		t.Error("expected compressed body bytes to be written")
	}
}
