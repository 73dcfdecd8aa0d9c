package objectstore

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// CompressibleTypes is the MIME-type allowlist for Brotli response
// compression: text and structured-data formats that compress well and are
// not already entropy-dense like images or archives.
var CompressibleTypes = map[string]bool{
	"text/plain":              true,
	"text/html":               true,
	"text/css":                true,
	"text/csv":                true,
	"application/json":        true,
	"application/xml":         true,
	"application/javascript":  true,
	"image/svg+xml":           true,
}

// AcceptsBrotli reports whether the request's Accept-Encoding header
// includes br.
func AcceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(enc) == "br" {
			return true
		}
	}
	return false
}

// ShouldCompress reports whether a response of the given content type
// should be Brotli-compressed.
func ShouldCompress(contentType string) bool {
	base := contentType
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = base[:idx]
	}
	return CompressibleTypes[strings.TrimSpace(base)]
}

// CompressWriter wraps w with a Brotli encoder writing compressed bytes to
// w. Callers must Close the returned writer to flush the stream. The
// object's ETag is computed over the uncompressed body before this is
// applied, so compression never changes the ETag callers see.
func CompressWriter(w io.Writer, quality int) *brotli.Writer {
	return brotli.NewWriterLevel(w, quality)
}

// ServeCompressed copies src through Brotli compression to w, setting
// Content-Encoding and removing any Content-Length (the compressed size is
// unknown up front). Call only after ETag/Content-Type headers are set and
// only when ShouldCompress and AcceptsBrotli both hold.
func ServeCompressed(w http.ResponseWriter, src io.Reader, quality int) error {
	w.Header().Set("Content-Encoding", "br")
	w.Header().Del("Content-Length")

	bw := CompressWriter(w, quality)
	if _, err := io.Copy(bw, src); err != nil {
		bw.Close()
		return err
	}
	return bw.Close()
}
